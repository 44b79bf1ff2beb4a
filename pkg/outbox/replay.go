package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"staffplanner/pkg/metrics"
	"staffplanner/pkg/otel"
)

// GetFailedEvents 获取所有失败的事件
func (r *Repository) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE status = 'failed'
		ORDER BY created_at DESC
		LIMIT $1
	`

	events, err := r.queryEvents(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed events: %w", err)
	}
	return events, nil
}

// ReplayFailedEvents 将失败事件重置为 pending，由 dispatcher 重新发布。返回重置的条数
func (r *Repository) ReplayFailedEvents(ctx context.Context, ids []int64) (int64, error) {
	query := `
		UPDATE outbox_events
		SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = NOW()
		WHERE status = 'failed'
		AND (cardinality($1::bigint[]) = 0 OR id = ANY($1::bigint[]))
	`
	if ids == nil {
		ids = []int64{}
	}

	var tag pgconn.CommandTag
	start := time.Now()
	err := otel.TraceDB(ctx, "update", query, func(ctx context.Context) error {
		var err error
		tag, err = r.db.Exec(ctx, query, ids)
		return err
	})
	metrics.RecordDBQueryDuration("update", "outbox_events", time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("failed to replay events: %w", err)
	}

	r.logger.Info("Outbox events replayed", zap.Int64("count", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}
