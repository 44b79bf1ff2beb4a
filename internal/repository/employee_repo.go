package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"staffplanner/internal/engine"
	"staffplanner/internal/model"
	"staffplanner/pkg/metrics"
	"staffplanner/pkg/otel"
)

type EmployeeRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewEmployeeRepository(db *pgxpool.Pool, logger *zap.Logger) *EmployeeRepository {
	return &EmployeeRepository{
		db:     db,
		logger: logger,
	}
}

func (r *EmployeeRepository) GetEmployee(ctx context.Context, id string) (model.Employee, error) {
	query := `
        SELECT id, name, department, active
        FROM employees
        WHERE id = $1
    `
	var e model.Employee
	start := time.Now()
	err := otel.TraceDB(ctx, "select", query, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, id).Scan(&e.ID, &e.Name, &e.Department, &e.Active)
	})
	metrics.RecordDBQueryDuration("select", "employees", time.Since(start))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("Failed to get employee", zap.String("id", id), zap.Error(err))
		}
		return model.Employee{}, mapError("get employee", "employee", id, err)
	}
	return e, nil
}

// ListEmployees returns active employees ordered by id. An empty department means all departments.
func (r *EmployeeRepository) ListEmployees(ctx context.Context, department string) ([]model.Employee, error) {
	r.logger.Debug("Listing employees", zap.String("department", department))

	query := `
        SELECT id, name, department, active
        FROM employees
        WHERE active AND ($1 = '' OR department = $1)
        ORDER BY id
    `
	var out []model.Employee
	start := time.Now()
	err := otel.TraceDB(ctx, "select", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, department)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e model.Employee
			if err := rows.Scan(&e.ID, &e.Name, &e.Department, &e.Active); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	metrics.RecordDBQueryDuration("select", "employees", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to list employees", zap.Error(err))
		return nil, mapError("list employees", "department", department, err)
	}
	return out, nil
}

var _ engine.EmployeeDirectory = (*EmployeeRepository)(nil)
