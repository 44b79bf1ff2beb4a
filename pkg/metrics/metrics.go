package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 引擎操作耗时（秒）
	EngineOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planner_engine_operation_duration_seconds",
			Help:    "Allocation engine operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"operation", "status"},
	)

	// 检测到的冲突
	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_conflicts_detected_total",
			Help: "Total number of allocation conflicts detected",
		},
		[]string{"kind", "severity"},
	)

	// 容量校验结果
	CapacityValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_capacity_validations_total",
			Help: "Total number of capacity validations",
		},
		[]string{"result"}, // result: valid, invalid, forced
	)

	// 冲突解决结果
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_conflict_resolutions_total",
			Help: "Total number of conflict resolution attempts",
		},
		[]string{"kind", "state"},
	)

	// 串行化冲突后的重试
	CommitRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_commit_retries_total",
			Help: "Validate-then-write sequences retried after a serialization conflict",
		},
		[]string{"operation"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// Outbox 发布结果
	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the broker",
		},
		[]string{"routing_key", "status"}, // status: sent, failed
	)
)

// RecordEngineOperation 记录引擎操作耗时
func RecordEngineOperation(operation, status string, duration time.Duration) {
	EngineOperationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

func IncrementConflictDetected(kind, severity string) {
	ConflictsDetected.WithLabelValues(kind, severity).Inc()
}

func IncrementCapacityValidation(result string) {
	CapacityValidations.WithLabelValues(result).Inc()
}

func IncrementResolution(kind, state string) {
	Resolutions.WithLabelValues(kind, state).Inc()
}

func IncrementCommitRetry(operation string) {
	CommitRetries.WithLabelValues(operation).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, _ time.Duration) {
	SlowQueries.WithLabelValues(statement).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementOutboxPublished(routingKey, status string) {
	OutboxPublished.WithLabelValues(routingKey, status).Inc()
}
