package util

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes that mean another transaction won the race.
const (
	SQLStateSerializationFailure = "40001"
	SQLStateDeadlockDetected     = "40P01"
	SQLStateExclusionViolation   = "23P01"
	SQLStateUniqueViolation      = "23505"
	SQLStateForeignKeyViolation  = "23503"
)

// Error kinds returned by ClassifyError.
const (
	KindConcurrency = "concurrency_conflict"
	KindNotFound    = "not_found"
	KindForeignKey  = "foreign_key_violation"
	KindConstraint  = "constraint_violation"
	KindConnection  = "db_connection_error"
	KindNetwork     = "network_error"
	KindTimeout     = "timeout"
	KindCanceled    = "context_canceled"
	KindUnknown     = "unknown_error"
)

// ClassifyError 判断错误是否可重试
// Returns: (isRetryable, errorKind)
func ClassifyError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SQLStateSerializationFailure, SQLStateDeadlockDetected,
			SQLStateExclusionViolation, SQLStateUniqueViolation:
			// 并发写入冲突 - 整个事务可重试
			return true, KindConcurrency
		case SQLStateForeignKeyViolation:
			return false, KindForeignKey
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return true, KindConnection
		}
		if strings.HasPrefix(pgErr.Code, "23") {
			return false, KindConstraint
		}
		return false, KindUnknown
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, KindNotFound
	}

	// Context 超时 - 可重试；取消 - 不可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return false, KindCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, KindTimeout
		}
		return true, KindNetwork
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true, KindConnection
	}
	if pgconn.SafeToRetry(err) {
		return true, KindConnection
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, KindUnknown
}

// IsConcurrencyConflict reports whether err is a lost serialization race.
func IsConcurrencyConflict(err error) bool {
	_, kind := ClassifyError(err)
	return kind == KindConcurrency
}
