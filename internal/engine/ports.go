package engine

import (
	"context"
	"time"

	"staffplanner/internal/model"
)

// AllocationStore is the persistence the engine reads allocations from and commits them to.
// Implementations return a *NotFoundError for unknown IDs and a *ConcurrencyConflictError
// when a commit loses a race with another writer.
type AllocationStore interface {
	FindActiveAllocationsForEmployee(ctx context.Context, employeeID string) ([]model.Allocation, error)
	GetAllocation(ctx context.Context, id string) (model.Allocation, error)
	// WriteAllocation inserts or updates by ID.
	WriteAllocation(ctx context.Context, a model.Allocation) (model.Allocation, error)
	// WithinTx runs fn against a store bound to one serializable unit of work.
	// Reads made through tx see a consistent snapshot; writes commit only if fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx AllocationStore) error) error
}

// CapacityLookup yields per-day capacity overrides. Days without an override use the
// configured default.
type CapacityLookup interface {
	FindDailyCapacityOverride(ctx context.Context, employeeID string, day time.Time) (float64, bool, error)
	FindDailyCapacityOverrides(ctx context.Context, employeeID string, start, end time.Time) (map[time.Time]float64, error)
}

// CapacityWriter records per-day capacity overrides. The engine accepts override writes
// when its CapacityLookup also implements it.
type CapacityWriter interface {
	SetDailyCapacity(ctx context.Context, employeeID string, day time.Time, hours float64) error
}

type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, id string) (model.Employee, error)
	// ListEmployees returns active employees, optionally restricted to one department.
	ListEmployees(ctx context.Context, department string) ([]model.Employee, error)
}

// ConflictLedger remembers detected conflicts so they can be referenced by ID,
// plus acknowledgements and the resolution history.
type ConflictLedger interface {
	SaveConflicts(ctx context.Context, conflicts []model.Conflict) error
	GetConflict(ctx context.Context, id string) (model.Conflict, error)
	AcknowledgedIDs(ctx context.Context, ids []string) (map[string]bool, error)
	Acknowledge(ctx context.Context, conflictID, reason string) error
	SaveResolution(ctx context.Context, rec model.ResolutionRecord) error
	// ListResolutions returns the attempts made on one conflict, oldest first.
	ListResolutions(ctx context.Context, conflictID string) ([]model.ResolutionRecord, error)
}

// ResolutionGuard stops two workers from auto-resolving the same conflict at once.
type ResolutionGuard interface {
	Acquire(ctx context.Context, conflictID string) bool
	Release(ctx context.Context, conflictID string)
}
