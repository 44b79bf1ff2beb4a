package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"staffplanner/internal/engine"
	"staffplanner/internal/interval"
	"staffplanner/pkg/metrics"
	"staffplanner/pkg/otel"
)

// CapacityRepository stores per-day capacity overrides (leave, part-time days, holidays).
type CapacityRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewCapacityRepository(db *pgxpool.Pool, logger *zap.Logger) *CapacityRepository {
	return &CapacityRepository{
		db:     db,
		logger: logger,
	}
}

func (r *CapacityRepository) FindDailyCapacityOverride(ctx context.Context, employeeID string, day time.Time) (float64, bool, error) {
	query := `
        SELECT available_hours
        FROM capacity_overrides
        WHERE employee_id = $1 AND day = $2
    `
	var hours float64
	start := time.Now()
	err := otel.TraceDB(ctx, "select", query, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, employeeID, interval.Day(day)).Scan(&hours)
	})
	metrics.RecordDBQueryDuration("select", "capacity_overrides", time.Since(start))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		r.logger.Error("Failed to find capacity override",
			zap.String("employee_id", employeeID),
			zap.Error(err),
		)
		return 0, false, mapError("find capacity override", "employee", employeeID, err)
	}
	return hours, true, nil
}

func (r *CapacityRepository) FindDailyCapacityOverrides(ctx context.Context, employeeID string, start, end time.Time) (map[time.Time]float64, error) {
	query := `
        SELECT day, available_hours
        FROM capacity_overrides
        WHERE employee_id = $1 AND day BETWEEN $2 AND $3
    `
	out := make(map[time.Time]float64)
	begin := time.Now()
	err := otel.TraceDB(ctx, "select", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, employeeID, interval.Day(start), interval.Day(end))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var day time.Time
			var hours float64
			if err := rows.Scan(&day, &hours); err != nil {
				return err
			}
			out[interval.Day(day)] = hours
		}
		return rows.Err()
	})
	metrics.RecordDBQueryDuration("select", "capacity_overrides", time.Since(begin))
	if err != nil {
		r.logger.Error("Failed to find capacity overrides",
			zap.String("employee_id", employeeID),
			zap.Error(err),
		)
		return nil, mapError("find capacity overrides", "employee", employeeID, err)
	}
	return out, nil
}

// SetDailyCapacity records an override for one day.
func (r *CapacityRepository) SetDailyCapacity(ctx context.Context, employeeID string, day time.Time, hours float64) error {
	query := `
        INSERT INTO capacity_overrides (employee_id, day, available_hours)
        VALUES ($1, $2, $3)
        ON CONFLICT (employee_id, day) DO UPDATE SET available_hours = EXCLUDED.available_hours
    `
	start := time.Now()
	err := otel.TraceDB(ctx, "upsert", query, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query, employeeID, interval.Day(day), hours)
		return err
	})
	metrics.RecordDBQueryDuration("upsert", "capacity_overrides", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to set capacity override", zap.String("employee_id", employeeID), zap.Error(err))
		return mapError("set capacity override", "employee", employeeID, err)
	}
	r.logger.Info("Capacity override set",
		zap.String("employee_id", employeeID),
		zap.String("day", interval.FormatDate(day)),
		zap.Float64("hours", hours),
	)
	return nil
}

var (
	_ engine.CapacityLookup = (*CapacityRepository)(nil)
	_ engine.CapacityWriter = (*CapacityRepository)(nil)
)
