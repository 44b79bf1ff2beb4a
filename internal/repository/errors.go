package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"staffplanner/internal/engine"
	"staffplanner/pkg/util"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// mapError turns driver errors into the engine's error types.
func mapError(op, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	var notFound *engine.NotFoundError
	var conflict *engine.ConcurrencyConflictError
	if errors.As(err, &notFound) || errors.As(err, &conflict) {
		return err
	}

	_, kind := util.ClassifyError(err)
	switch kind {
	case util.KindNotFound:
		return &engine.NotFoundError{Resource: resource, ID: id}
	case util.KindConcurrency:
		return &engine.ConcurrencyConflictError{Err: fmt.Errorf("%s: %w", op, err)}
	case util.KindForeignKey:
		// 所有外键都指向 employees
		return &engine.ValidationError{Field: "employee_id", Message: "references an unknown employee"}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
