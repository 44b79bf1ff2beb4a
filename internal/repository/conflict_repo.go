package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
)

// ConflictRepository stores detected conflicts, acknowledgements and resolution history.
type ConflictRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewConflictRepository(db *pgxpool.Pool, logger *zap.Logger) *ConflictRepository {
	return &ConflictRepository{
		db:     db,
		logger: logger,
	}
}

// SaveConflicts upserts the batch. Conflict ids are content hashes so re-detection only
// refreshes last_seen_at and the mutable fields.
func (r *ConflictRepository) SaveConflicts(ctx context.Context, conflicts []model.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	r.logger.Debug("Saving conflicts", zap.Int("count", len(conflicts)))

	query := `
        INSERT INTO conflicts (id, kind, severity, employee_id, allocation_ids, window_start, window_end,
            utilization_rate, description, can_auto_resolve, suggested_resolution)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE SET
            severity = EXCLUDED.severity,
            utilization_rate = EXCLUDED.utilization_rate,
            description = EXCLUDED.description,
            can_auto_resolve = EXCLUDED.can_auto_resolve,
            suggested_resolution = EXCLUDED.suggested_resolution,
            last_seen_at = NOW()
    `
	batch := &pgx.Batch{}
	for _, c := range conflicts {
		var suggestion []byte
		if c.SuggestedResolution != nil {
			b, err := json.Marshal(c.SuggestedResolution)
			if err != nil {
				return fmt.Errorf("failed to marshal suggested resolution: %w", err)
			}
			suggestion = b
		}
		batch.Queue(query,
			c.ID, string(c.Kind), string(c.Severity), c.EmployeeID, c.AllocationIDs,
			c.WindowStart, c.WindowEnd, c.UtilizationRate, c.Description, c.CanAutoResolve, suggestion,
		)
	}

	start := time.Now()
	err := otel.TraceDB(ctx, "upsert", query, func(ctx context.Context) error {
		return r.db.SendBatch(ctx, batch).Close()
	})
	metrics.RecordDBQueryDuration("upsert", "conflicts", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to save conflicts", zap.Error(err))
		return mapError("save conflicts", "conflict", "", err)
	}
	return nil
}

func (r *ConflictRepository) GetConflict(ctx context.Context, id string) (model.Conflict, error) {
	query := `
        SELECT c.id, c.kind, c.severity, c.employee_id, c.allocation_ids, c.window_start, c.window_end,
               c.utilization_rate, c.description, c.can_auto_resolve, c.suggested_resolution,
               a.conflict_id IS NOT NULL
        FROM conflicts c
        LEFT JOIN conflict_acknowledgements a ON a.conflict_id = c.id
        WHERE c.id = $1
    `
	var (
		c          model.Conflict
		kind       string
		severity   string
		suggestion []byte
	)
	start := time.Now()
	err := otel.TraceDB(ctx, "select", query, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, id).Scan(
			&c.ID,
			&kind,
			&severity,
			&c.EmployeeID,
			&c.AllocationIDs,
			&c.WindowStart,
			&c.WindowEnd,
			&c.UtilizationRate,
			&c.Description,
			&c.CanAutoResolve,
			&suggestion,
			&c.Acknowledged,
		)
	})
	metrics.RecordDBQueryDuration("select", "conflicts", time.Since(start))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("Failed to get conflict", zap.String("id", id), zap.Error(err))
		}
		return model.Conflict{}, mapError("get conflict", "conflict", id, err)
	}

	c.Kind = model.ConflictKind(kind)
	c.Severity = model.Severity(severity)
	c.WindowStart = interval.Day(c.WindowStart)
	c.WindowEnd = interval.Day(c.WindowEnd)
	if len(suggestion) > 0 {
		var res model.ConflictResolution
		if err := json.Unmarshal(suggestion, &res); err != nil {
			return model.Conflict{}, fmt.Errorf("failed to decode suggested resolution of %s: %w", id, err)
		}
		c.SuggestedResolution = &res
	}
	return c, nil
}

func (r *ConflictRepository) AcknowledgedIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT conflict_id FROM conflict_acknowledgements WHERE conflict_id = ANY($1)`
	start := time.Now()
	err := otel.TraceDB(ctx, "select", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out[id] = true
		}
		return rows.Err()
	})
	metrics.RecordDBQueryDuration("select", "conflict_acknowledgements", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to load acknowledgements", zap.Error(err))
		return nil, mapError("load acknowledgements", "conflict", "", err)
	}
	return out, nil
}

// Acknowledge marks a conflict as ignored and publishes conflict.acknowledged.
func (r *ConflictRepository) Acknowledge(ctx context.Context, conflictID, reason string) error {
	r.logger.Debug("Acknowledging conflict", zap.String("conflict_id", conflictID))

	query := `
        INSERT INTO conflict_acknowledgements (conflict_id, reason, acknowledged_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (conflict_id) DO UPDATE SET reason = EXCLUDED.reason, acknowledged_at = EXCLUDED.acknowledged_at
    `
	now := time.Now().UTC()
	start := time.Now()
	err := otel.TraceDB(ctx, "upsert", query, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, query, conflictID, reason, now); err != nil {
				return err
			}
			return outbox.InsertEventInTx(ctx, tx, mqcontract.AggregateConflict, conflictID,
				mqcontract.RoutingConflictAcknowledged,
				mqcontract.ConflictAcknowledgedPayload{
					ConflictID:     conflictID,
					Reason:         reason,
					AcknowledgedAt: now,
					TraceID:        trace.FromContext(ctx),
				})
		})
	})
	metrics.RecordDBQueryDuration("upsert", "conflict_acknowledgements", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to acknowledge conflict", zap.String("conflict_id", conflictID), zap.Error(err))
		return mapError("acknowledge conflict", "conflict", conflictID, err)
	}

	r.logger.Info("Conflict acknowledged", zap.String("conflict_id", conflictID))
	return nil
}

// SaveResolution appends to the resolution history and publishes conflict.resolved.
func (r *ConflictRepository) SaveResolution(ctx context.Context, rec model.ResolutionRecord) error {
	query := `
        INSERT INTO conflict_resolutions (id, conflict_id, kind, employee_id, state, resolution,
            allocation_ids, remaining_conflict_ids, resolved_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	resolution, err := json.Marshal(rec.Resolution)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution: %w", err)
	}
	allocationIDs := nonNil(rec.AllocationIDs)
	remaining := nonNil(rec.RemainingConflictIDs)

	start := time.Now()
	err = otel.TraceDB(ctx, "insert", query, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, query,
				rec.ID, rec.Resolution.ConflictID, string(rec.Resolution.Kind), rec.EmployeeID, string(rec.State),
				resolution, allocationIDs, remaining, rec.ResolvedAt,
			)
			if err != nil {
				return err
			}
			return outbox.InsertEventInTx(ctx, tx, mqcontract.AggregateConflict, rec.Resolution.ConflictID,
				mqcontract.RoutingConflictResolved,
				mqcontract.ConflictResolvedPayload{
					ConflictID:           rec.Resolution.ConflictID,
					EmployeeID:           rec.EmployeeID,
					Resolution:           string(rec.Resolution.Kind),
					State:                string(rec.State),
					AllocationIDs:        allocationIDs,
					RemainingConflictIDs: remaining,
					ResolvedAt:           rec.ResolvedAt,
					TraceID:              trace.FromContext(ctx),
				})
		})
	})
	metrics.RecordDBQueryDuration("insert", "conflict_resolutions", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to save resolution",
			zap.String("conflict_id", rec.Resolution.ConflictID),
			zap.Error(err),
		)
		return mapError("save resolution", "conflict", rec.Resolution.ConflictID, err)
	}

	r.logger.Info("Resolution recorded",
		zap.String("conflict_id", rec.Resolution.ConflictID),
		zap.String("state", string(rec.State)),
	)
	return nil
}

func (r *ConflictRepository) ListResolutions(ctx context.Context, conflictID string) ([]model.ResolutionRecord, error) {
	query := `
        SELECT id, resolution, employee_id, state, allocation_ids, remaining_conflict_ids, resolved_at
        FROM conflict_resolutions
        WHERE conflict_id = $1
        ORDER BY resolved_at, id
    `
	var out []model.ResolutionRecord
	start := time.Now()
	err := otel.TraceDB(ctx, "select", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, conflictID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				rec        model.ResolutionRecord
				resolution []byte
				state      string
			)
			if err := rows.Scan(&rec.ID, &resolution, &rec.EmployeeID, &state,
				&rec.AllocationIDs, &rec.RemainingConflictIDs, &rec.ResolvedAt); err != nil {
				return err
			}
			if err := json.Unmarshal(resolution, &rec.Resolution); err != nil {
				return fmt.Errorf("failed to decode resolution %s: %w", rec.ID, err)
			}
			rec.State = model.ResolutionState(state)
			out = append(out, rec)
		}
		return rows.Err()
	})
	metrics.RecordDBQueryDuration("select", "conflict_resolutions", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to list resolutions", zap.String("conflict_id", conflictID), zap.Error(err))
		return nil, mapError("list resolutions", "conflict", conflictID, err)
	}
	return out, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

var _ engine.ConflictLedger = (*ConflictRepository)(nil)
