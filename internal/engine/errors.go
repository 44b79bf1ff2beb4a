package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"staffplanner/internal/interval"
	"staffplanner/internal/model"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrOverlapConflict     = errors.New("allocation overlaps existing allocations")
	ErrCapacityExceeded    = errors.New("allocation exceeds capacity")
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
	ErrNotFound            = errors.New("not found")
	ErrCapacityReadOnly    = errors.New("capacity overrides cannot be written by this store")
)

// ValidationError reports malformed input. Nothing is written when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// OverlapWindow is one existing allocation that shares days with the candidate.
type OverlapWindow struct {
	AllocationID string    `json:"allocation_id"`
	ProjectID    string    `json:"project_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

type OverlapConflictError struct {
	EmployeeID string
	Overlaps   []OverlapWindow
}

func (e *OverlapConflictError) Error() string {
	parts := make([]string, 0, len(e.Overlaps))
	for _, o := range e.Overlaps {
		parts = append(parts, fmt.Sprintf("%s (%s..%s)", o.AllocationID, interval.FormatDate(o.Start), interval.FormatDate(o.End)))
	}
	return fmt.Sprintf("allocation for employee %s overlaps %d existing allocation(s): %s",
		e.EmployeeID, len(e.Overlaps), strings.Join(parts, ", "))
}

func (e *OverlapConflictError) Unwrap() error { return ErrOverlapConflict }

type CapacityExceededError struct {
	EmployeeID      string
	UtilizationRate float64
	Violations      []model.DayViolation
}

func (e *CapacityExceededError) Error() string {
	days := make([]time.Time, 0, len(e.Violations))
	for _, v := range e.Violations {
		days = append(days, v.Date)
	}
	windows := interval.Windows(days)
	parts := make([]string, 0, len(windows))
	for _, w := range windows {
		parts = append(parts, fmt.Sprintf("%s..%s", interval.FormatDate(w[0]), interval.FormatDate(w[1])))
	}
	return fmt.Sprintf("employee %s exceeds capacity on %d day(s) (%s), peak utilization %.0f%%",
		e.EmployeeID, len(e.Violations), strings.Join(parts, ", "), e.UtilizationRate*100)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// ConcurrencyConflictError means another writer changed the same employee's allocations
// between validation and write. The whole operation may be retried.
type ConcurrencyConflictError struct {
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Err == nil {
		return ErrConcurrencyConflict.Error()
	}
	return fmt.Sprintf("%s: %v", ErrConcurrencyConflict, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConcurrencyConflict}
	}
	return []error{ErrConcurrencyConflict, e.Err}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
