package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"staffplanner/internal/interval"
	"staffplanner/internal/model"
	"staffplanner/pkg/logger"
	"staffplanner/pkg/metrics"
)

const (
	// DefaultDailyCapacity is a 40 hour week spread over seven calendar days.
	DefaultDailyCapacity = 40.0 / 7
	// ZeroCapacityRate is reported for a day with demand but no available hours.
	ZeroCapacityRate = 9.99

	DefaultAutoResolveReason = "Auto-resolved by system"
)

type Config struct {
	DefaultDailyCapacity   float64
	OverutilizedThreshold  float64
	UnderutilizedThreshold float64
	MaxCommitRetries       int
	AutoResolveReason      string
}

func DefaultConfig() Config {
	return Config{
		DefaultDailyCapacity:   DefaultDailyCapacity,
		OverutilizedThreshold:  1.0,
		UnderutilizedThreshold: 0.5,
		MaxCommitRetries:       3,
		AutoResolveReason:      DefaultAutoResolveReason,
	}
}

// withDefaults fills zero fields so a partially populated Config still behaves.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultDailyCapacity <= 0 {
		c.DefaultDailyCapacity = d.DefaultDailyCapacity
	}
	if c.OverutilizedThreshold <= 0 {
		c.OverutilizedThreshold = d.OverutilizedThreshold
	}
	if c.UnderutilizedThreshold <= 0 {
		c.UnderutilizedThreshold = d.UnderutilizedThreshold
	}
	if c.MaxCommitRetries < 0 {
		c.MaxCommitRetries = 0
	}
	if c.AutoResolveReason == "" {
		c.AutoResolveReason = d.AutoResolveReason
	}
	return c
}

// Engine answers overlap, capacity and conflict questions about allocations and commits
// changes through the store. It holds no state between calls.
type Engine struct {
	store     AllocationStore
	capacity  CapacityLookup
	overrides CapacityWriter // nil when capacity is read-only
	employees EmployeeDirectory
	ledger    ConflictLedger
	guard     ResolutionGuard
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func New(store AllocationStore, capacity CapacityLookup, employees EmployeeDirectory, ledger ConflictLedger, cfg Config, logger *zap.Logger) *Engine {
	e := &Engine{
		store:     store,
		capacity:  capacity,
		employees: employees,
		ledger:    ledger,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if w, ok := capacity.(CapacityWriter); ok {
		e.overrides = w
	}
	return e
}

// WithResolutionGuard 设置自动解决时的去重保护
func (e *Engine) WithResolutionGuard(g ResolutionGuard) *Engine {
	e.guard = g
	return e
}

// WithClock 替换时间来源（测试使用）
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

type AllocationInput struct {
	EmployeeID     string    `json:"employee_id"`
	ProjectID      string    `json:"project_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	AllocatedHours float64   `json:"allocated_hours"`
	HourlyRate     *float64  `json:"hourly_rate,omitempty"`
	Role           string    `json:"role"`
	Notes          *string   `json:"notes,omitempty"`
}

// AllocationPatch changes only the non-nil fields.
type AllocationPatch struct {
	ProjectID      *string    `json:"project_id,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	AllocatedHours *float64   `json:"allocated_hours,omitempty"`
	HourlyRate     *float64   `json:"hourly_rate,omitempty"`
	Role           *string    `json:"role,omitempty"`
	ActualHours    *float64   `json:"actual_hours,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

type CommitResult struct {
	Allocation model.Allocation               `json:"allocation"`
	Overlaps   []model.Allocation             `json:"overlaps,omitempty"`
	Capacity   model.CapacityValidationResult `json:"capacity"`
}

// CreateAllocation validates a new allocation against the employee's current commitments
// and writes it. force accepts overlaps and capacity violations.
func (e *Engine) CreateAllocation(ctx context.Context, in AllocationInput, force bool) (CommitResult, error) {
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger)
	log.Debug("Creating allocation",
		zap.String("employee_id", in.EmployeeID),
		zap.String("project_id", in.ProjectID),
		zap.Bool("force", force))

	now := e.now()
	alloc := model.Allocation{
		ID:             uuid.NewString(),
		EmployeeID:     strings.TrimSpace(in.EmployeeID),
		ProjectID:      strings.TrimSpace(in.ProjectID),
		StartDate:      interval.Day(in.StartDate),
		EndDate:        interval.Day(in.EndDate),
		AllocatedHours: in.AllocatedHours,
		HourlyRate:     in.HourlyRate,
		Role:           in.Role,
		Active:         true,
		Notes:          in.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := validateAllocation(alloc); err != nil {
		e.finish("create_allocation", start, err)
		log.Warn("Rejected allocation", zap.Error(err))
		return CommitResult{}, err
	}

	var result CommitResult
	err := e.withRetry(ctx, "create_allocation", func(ctx context.Context) error {
		return e.store.WithinTx(ctx, func(ctx context.Context, tx AllocationStore) error {
			r, err := e.commit(ctx, tx, alloc, force)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	e.finish("create_allocation", start, err)
	if err != nil {
		log.Warn("Failed to create allocation", zap.String("employee_id", alloc.EmployeeID), zap.Error(err))
		return CommitResult{}, err
	}

	log.Info("Allocation created",
		zap.String("allocation_id", result.Allocation.ID),
		zap.String("employee_id", result.Allocation.EmployeeID),
		zap.Int("overlaps", len(result.Overlaps)))
	return result, nil
}

// UpdateAllocation applies patch to an active allocation and re-validates it against
// its siblings, excluding its own previous version.
func (e *Engine) UpdateAllocation(ctx context.Context, id string, patch AllocationPatch, force bool) (CommitResult, error) {
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger)
	log.Debug("Updating allocation", zap.String("allocation_id", id), zap.Bool("force", force))

	if strings.TrimSpace(id) == "" {
		err := invalid("id", "allocation id is required")
		e.finish("update_allocation", start, err)
		return CommitResult{}, err
	}

	var result CommitResult
	err := e.withRetry(ctx, "update_allocation", func(ctx context.Context) error {
		return e.store.WithinTx(ctx, func(ctx context.Context, tx AllocationStore) error {
			current, err := loadActive(ctx, tx, id)
			if err != nil {
				return err
			}
			updated := applyPatch(current, patch)
			updated.UpdatedAt = e.now()
			if err := validateAllocation(updated); err != nil {
				return err
			}
			r, err := e.commit(ctx, tx, updated, force)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	e.finish("update_allocation", start, err)
	if err != nil {
		log.Warn("Failed to update allocation", zap.String("allocation_id", id), zap.Error(err))
		return CommitResult{}, err
	}

	log.Info("Allocation updated", zap.String("allocation_id", id))
	return result, nil
}

// RemoveAllocation soft-deletes an allocation. It no longer contributes to capacity.
func (e *Engine) RemoveAllocation(ctx context.Context, id string) (model.Allocation, error) {
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger)
	log.Debug("Removing allocation", zap.String("allocation_id", id))

	var removed model.Allocation
	err := e.withRetry(ctx, "remove_allocation", func(ctx context.Context) error {
		return e.store.WithinTx(ctx, func(ctx context.Context, tx AllocationStore) error {
			current, err := loadActive(ctx, tx, id)
			if err != nil {
				return err
			}
			current.Active = false
			current.UpdatedAt = e.now()
			written, err := tx.WriteAllocation(ctx, current)
			if err != nil {
				return err
			}
			removed = written
			return nil
		})
	})
	e.finish("remove_allocation", start, err)
	if err != nil {
		log.Warn("Failed to remove allocation", zap.String("allocation_id", id), zap.Error(err))
		return model.Allocation{}, err
	}

	log.Info("Allocation deactivated", zap.String("allocation_id", id))
	return removed, nil
}

// commit runs the overlap and capacity checks for alloc inside tx and writes it.
func (e *Engine) commit(ctx context.Context, tx AllocationStore, alloc model.Allocation, force bool) (CommitResult, error) {
	active, err := tx.FindActiveAllocationsForEmployee(ctx, alloc.EmployeeID)
	if err != nil {
		return CommitResult{}, err
	}
	siblings := without(active, alloc.ID)

	overlaps := overlapping(siblings, alloc.StartDate, alloc.EndDate)
	if len(overlaps) > 0 && !force {
		windows := make([]OverlapWindow, 0, len(overlaps))
		for _, o := range overlaps {
			ws, we, _ := interval.Intersect(alloc.StartDate, alloc.EndDate, o.StartDate, o.EndDate)
			windows = append(windows, OverlapWindow{AllocationID: o.ID, ProjectID: o.ProjectID, Start: ws, End: we})
		}
		return CommitResult{}, &OverlapConflictError{EmployeeID: alloc.EmployeeID, Overlaps: windows}
	}

	capacity, err := e.evaluateCapacity(ctx, alloc, siblings, force)
	if err != nil {
		return CommitResult{}, err
	}
	if !capacity.IsValid {
		return CommitResult{}, &CapacityExceededError{
			EmployeeID:      alloc.EmployeeID,
			UtilizationRate: capacity.UtilizationRate,
			Violations:      capacity.Violations,
		}
	}

	written, err := tx.WriteAllocation(ctx, alloc)
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{Allocation: written, Overlaps: overlaps, Capacity: capacity}, nil
}

// withRetry re-runs fn from scratch after a concurrency conflict. Nothing computed by a
// failed attempt is reused.
func (e *Engine) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= e.cfg.MaxCommitRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < e.cfg.MaxCommitRetries {
			metrics.IncrementCommitRetry(op)
			logger.WithTrace(ctx, e.logger).Warn("Concurrent modification, retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}
	return err
}

func (e *Engine) finish(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordEngineOperation(op, status, time.Since(start))
}

func loadActive(ctx context.Context, store AllocationStore, id string) (model.Allocation, error) {
	a, err := store.GetAllocation(ctx, id)
	if err != nil {
		return model.Allocation{}, err
	}
	if !a.Active {
		return model.Allocation{}, &NotFoundError{Resource: "allocation", ID: id}
	}
	return a, nil
}

func applyPatch(a model.Allocation, p AllocationPatch) model.Allocation {
	if p.ProjectID != nil {
		a.ProjectID = strings.TrimSpace(*p.ProjectID)
	}
	if p.StartDate != nil {
		a.StartDate = interval.Day(*p.StartDate)
	}
	if p.EndDate != nil {
		a.EndDate = interval.Day(*p.EndDate)
	}
	if p.AllocatedHours != nil {
		a.AllocatedHours = *p.AllocatedHours
	}
	if p.HourlyRate != nil {
		a.HourlyRate = p.HourlyRate
	}
	if p.Role != nil {
		a.Role = *p.Role
	}
	if p.ActualHours != nil {
		a.ActualHours = p.ActualHours
	}
	if p.Notes != nil {
		a.Notes = p.Notes
	}
	return a
}

func validateAllocation(a model.Allocation) error {
	if a.EmployeeID == "" {
		return invalid("employee_id", "employee id is required")
	}
	if a.ProjectID == "" {
		return invalid("project_id", "project id is required")
	}
	if err := checkHours("allocated_hours", a.AllocatedHours); err != nil {
		return err
	}
	if err := interval.CheckBounds(a.StartDate, a.EndDate); err != nil {
		return invalid("date_range", "%v", err)
	}
	if a.HourlyRate != nil && (*a.HourlyRate < 0 || math.IsNaN(*a.HourlyRate)) {
		return invalid("hourly_rate", "must not be negative")
	}
	if a.ActualHours != nil && (*a.ActualHours < 0 || math.IsNaN(*a.ActualHours)) {
		return invalid("actual_hours", "must not be negative")
	}
	return nil
}

func checkHours(field string, h float64) error {
	if math.IsNaN(h) || math.IsInf(h, 0) || h <= 0 {
		return invalid(field, "must be a positive number of hours, got %v", h)
	}
	return nil
}

func without(allocs []model.Allocation, id string) []model.Allocation {
	out := make([]model.Allocation, 0, len(allocs))
	for _, a := range allocs {
		if !a.Active || (id != "" && a.ID == id) {
			continue
		}
		out = append(out, a)
	}
	return out
}
