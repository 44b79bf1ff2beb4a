package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"staffplanner/pkg/metrics"
	"staffplanner/pkg/otel"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// retryBackoff 第 n 次失败后等待 n*retryBackoff 再重试
const retryBackoff = 5 * time.Second

// Event 表示一个待发布的事件
type Event struct {
	ID            int64           `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	RoutingKey    string          `json:"routing_key"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	RetryCount    int             `json:"retry_count"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Repository 提供 Outbox 表的读写
type Repository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewRepository(db *pgxpool.Pool, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

const eventColumns = `id, aggregate_type, aggregate_id, routing_key, payload, status,
		       retry_count, next_retry_at, created_at, updated_at`

// InsertEvent 在事务中插入事件，必须与业务数据写入同一事务
func InsertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, routing_key, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	if event.Status == "" {
		event.Status = StatusPending
	}

	start := time.Now()
	err := otel.TraceDB(ctx, "insert", query, func(ctx context.Context) error {
		return tx.QueryRow(ctx, query,
			event.AggregateType,
			event.AggregateID,
			event.RoutingKey,
			event.Payload,
			event.Status,
		).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	})
	metrics.RecordDBQueryDuration("insert", "outbox_events", time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPendingEvents 获取到期的待发送事件
func (r *Repository) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE status = 'pending'
		AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`

	events, err := r.queryEvents(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkAsSent(ctx context.Context, eventID int64) error {
	query := `
		UPDATE outbox_events
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1
	`

	start := time.Now()
	err := otel.TraceDB(ctx, "update", query, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query, eventID)
		return err
	})
	metrics.RecordDBQueryDuration("update", "outbox_events", time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkAsFailed 增加重试次数；达到 maxRetries 后状态变为 failed，不再被 dispatcher 拉取
func (r *Repository) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error {
	query := `
		UPDATE outbox_events
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    next_retry_at = CASE WHEN retry_count + 1 >= $2 THEN NULL
		                         ELSE NOW() + (retry_count + 1) * $3::interval END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING status
	`

	var status string
	start := time.Now()
	err := otel.TraceDB(ctx, "update", query, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, eventID, maxRetries, retryBackoff.String()).Scan(&status)
	})
	metrics.RecordDBQueryDuration("update", "outbox_events", time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	if status == StatusFailed {
		r.logger.Warn("Outbox event exhausted retries", zap.Int64("event_id", eventID))
	}
	return nil
}

// queryEvents 查询并扫描事件列表
func (r *Repository) queryEvents(ctx context.Context, query string, args ...any) ([]*Event, error) {
	var events []*Event
	start := time.Now()
	err := otel.TraceDB(ctx, "select", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		events, err = scanEvents(rows)
		return err
	})
	metrics.RecordDBQueryDuration("select", "outbox_events", time.Since(start))
	return events, err
}

func scanEvents(rows pgx.Rows) ([]*Event, error) {
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		err := rows.Scan(
			&e.ID,
			&e.AggregateType,
			&e.AggregateID,
			&e.RoutingKey,
			&e.Payload,
			&e.Status,
			&e.RetryCount,
			&e.NextRetryAt,
			&e.CreatedAt,
			&e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
