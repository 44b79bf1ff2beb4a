package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

func TestStartSpan_NoopBeforeInit(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "plan")
	defer span.End()
	if span.IsRecording() {
		t.Error("span should not record without a tracer provider")
	}
	if trace.SpanFromContext(ctx).IsRecording() {
		t.Error("context span should not record either")
	}
}

func TestTraceDB_PassesResultThrough(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		err  error
	}{
		{"ok", nil},
		{"no rows", pgx.ErrNoRows},
		{"failure", boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := TraceDB(context.Background(), "select", "SELECT 1", func(ctx context.Context) error {
				called = true
				if trace.SpanFromContext(ctx).SpanContext().IsValid() {
					t.Error("noop span should carry an empty span context")
				}
				return tt.err
			})
			if !called {
				t.Fatal("fn was not called")
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
		})
	}
}
