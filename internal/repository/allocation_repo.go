package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontract "staffplanner/contracts/mq"
	"staffplanner/internal/engine"
	"staffplanner/internal/interval"
	"staffplanner/internal/model"
	"staffplanner/pkg/metrics"
	"staffplanner/pkg/otel"
	"staffplanner/pkg/outbox"
	"staffplanner/pkg/trace"
	"staffplanner/pkg/util"
)

// AllocationRepository is the Postgres AllocationStore. A repository returned to a WithinTx
// callback is bound to that transaction.
type AllocationRepository struct {
	db     *pgxpool.Pool
	q      querier
	tx     pgx.Tx
	logger *zap.Logger
}

func NewAllocationRepository(db *pgxpool.Pool, logger *zap.Logger) *AllocationRepository {
	return &AllocationRepository{
		db:     db,
		q:      db,
		logger: logger,
	}
}

const allocationColumns = `id, employee_id, project_id, start_date, end_date, allocated_hours,
            hourly_rate, role, active, actual_hours, notes, created_at, updated_at`

func scanAllocation(row pgx.Row) (model.Allocation, error) {
	var a model.Allocation
	err := row.Scan(
		&a.ID,
		&a.EmployeeID,
		&a.ProjectID,
		&a.StartDate,
		&a.EndDate,
		&a.AllocatedHours,
		&a.HourlyRate,
		&a.Role,
		&a.Active,
		&a.ActualHours,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	a.StartDate = interval.Day(a.StartDate)
	a.EndDate = interval.Day(a.EndDate)
	return a, err
}

func (r *AllocationRepository) FindActiveAllocationsForEmployee(ctx context.Context, employeeID string) ([]model.Allocation, error) {
	r.logger.Debug("Finding active allocations", zap.String("employee_id", employeeID))

	query := `
        SELECT ` + allocationColumns + `
        FROM allocations
        WHERE employee_id = $1 AND active
        ORDER BY start_date, id
    `
	var out []model.Allocation
	start := time.Now()
	err := otel.TraceDB(ctx, "select", query, func(ctx context.Context) error {
		rows, err := r.q.Query(ctx, query, employeeID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAllocation(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	metrics.RecordDBQueryDuration("select", "allocations", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to find allocations", zap.String("employee_id", employeeID), zap.Error(err))
		return nil, mapError("find allocations", "employee", employeeID, err)
	}
	return out, nil
}

func (r *AllocationRepository) GetAllocation(ctx context.Context, id string) (model.Allocation, error) {
	query := `
        SELECT ` + allocationColumns + `
        FROM allocations
        WHERE id = $1
    `
	var a model.Allocation
	start := time.Now()
	err := otel.TraceDB(ctx, "select", query, func(ctx context.Context) error {
		var err error
		a, err = scanAllocation(r.q.QueryRow(ctx, query, id))
		return err
	})
	metrics.RecordDBQueryDuration("select", "allocations", time.Since(start))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("Failed to get allocation", zap.String("id", id), zap.Error(err))
		}
		return model.Allocation{}, mapError("get allocation", "allocation", id, err)
	}
	return a, nil
}

// WriteAllocation upserts by ID and records the matching outbox event in the same transaction.
func (r *AllocationRepository) WriteAllocation(ctx context.Context, a model.Allocation) (model.Allocation, error) {
	if r.tx == nil {
		var saved model.Allocation
		err := r.WithinTx(ctx, func(ctx context.Context, tx engine.AllocationStore) error {
			var err error
			saved, err = tx.WriteAllocation(ctx, a)
			return err
		})
		return saved, err
	}

	r.logger.Debug("Writing allocation",
		zap.String("id", a.ID),
		zap.String("employee_id", a.EmployeeID),
		zap.Bool("active", a.Active),
	)

	query := `
        INSERT INTO allocations (id, employee_id, project_id, start_date, end_date, allocated_hours,
            hourly_rate, role, active, actual_hours, notes, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (id) DO UPDATE SET
            employee_id = EXCLUDED.employee_id,
            project_id = EXCLUDED.project_id,
            start_date = EXCLUDED.start_date,
            end_date = EXCLUDED.end_date,
            allocated_hours = EXCLUDED.allocated_hours,
            hourly_rate = EXCLUDED.hourly_rate,
            role = EXCLUDED.role,
            active = EXCLUDED.active,
            actual_hours = EXCLUDED.actual_hours,
            notes = EXCLUDED.notes,
            updated_at = EXCLUDED.updated_at
        RETURNING created_at, updated_at, (xmax = 0) AS inserted
    `
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	var inserted bool
	start := time.Now()
	err := otel.TraceDB(ctx, "upsert", query, func(ctx context.Context) error {
		return r.tx.QueryRow(ctx, query,
			a.ID, a.EmployeeID, a.ProjectID, a.StartDate, a.EndDate, a.AllocatedHours,
			a.HourlyRate, a.Role, a.Active, a.ActualHours, a.Notes, a.CreatedAt, a.UpdatedAt,
		).Scan(&a.CreatedAt, &a.UpdatedAt, &inserted)
	})
	metrics.RecordDBQueryDuration("upsert", "allocations", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to write allocation", zap.String("id", a.ID), zap.Error(err))
		return model.Allocation{}, mapError("write allocation", "allocation", a.ID, err)
	}

	routingKey := allocationRoutingKey(inserted, a.Active)
	if err := outbox.InsertEventInTx(ctx, r.tx, mqcontract.AggregateAllocation, a.ID, routingKey, allocationPayload(ctx, a, now)); err != nil {
		r.logger.Error("Failed to insert allocation event", zap.String("id", a.ID), zap.Error(err))
		return model.Allocation{}, mapError("insert allocation event", "allocation", a.ID, err)
	}

	r.logger.Info("Allocation written",
		zap.String("id", a.ID),
		zap.String("event", routingKey),
	)
	return a, nil
}

// WithinTx runs fn in a SERIALIZABLE transaction. Nested calls reuse the open transaction.
func (r *AllocationRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx engine.AllocationStore) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return mapError("begin transaction", "", "", err)
	}
	defer func() {
		// no-op after a successful commit
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	bound := &AllocationRepository{db: r.db, q: tx, tx: tx, logger: r.logger}
	if err := fn(ctx, bound); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if util.IsConcurrencyConflict(err) {
			// 串行化冲突由引擎重试
			r.logger.Debug("Transaction lost a serialization race", zap.Error(err))
		} else {
			r.logger.Warn("Failed to commit transaction", zap.Error(err))
		}
		return mapError("commit transaction", "", "", err)
	}
	return nil
}

func allocationRoutingKey(inserted, active bool) string {
	switch {
	case inserted:
		return mqcontract.RoutingAllocationCreated
	case !active:
		return mqcontract.RoutingAllocationDeactivated
	default:
		return mqcontract.RoutingAllocationUpdated
	}
}

func allocationPayload(ctx context.Context, a model.Allocation, at time.Time) mqcontract.AllocationEventPayload {
	return mqcontract.AllocationEventPayload{
		AllocationID:   a.ID,
		EmployeeID:     a.EmployeeID,
		ProjectID:      a.ProjectID,
		StartDate:      interval.FormatDate(a.StartDate),
		EndDate:        interval.FormatDate(a.EndDate),
		AllocatedHours: a.AllocatedHours,
		Role:           a.Role,
		Active:         a.Active,
		OccurredAt:     at,
		TraceID:        trace.FromContext(ctx),
	}
}

var _ engine.AllocationStore = (*AllocationRepository)(nil)

