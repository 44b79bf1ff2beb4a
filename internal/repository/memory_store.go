package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"staffplanner/internal/engine"
	"staffplanner/internal/interval"
	"staffplanner/internal/model"
)

// MemoryStore implements every engine port in process. It backs the "memory" storage driver
// and local runs of plannerctl. Transactions are serialized and applied only on success.
type MemoryStore struct {
	logger *zap.Logger
	now    func() time.Time

	txMu sync.Mutex // one open transaction at a time

	mu           sync.RWMutex
	allocations  map[string]model.Allocation
	employees    map[string]model.Employee
	overrides    map[string]map[time.Time]float64
	conflicts    map[string]model.Conflict
	acknowledged map[string]string
	resolutions  []model.ResolutionRecord
}

func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:       logger,
		now:          time.Now,
		allocations:  make(map[string]model.Allocation),
		employees:    make(map[string]model.Employee),
		overrides:    make(map[string]map[time.Time]float64),
		conflicts:    make(map[string]model.Conflict),
		acknowledged: make(map[string]string),
	}
}

// allocations

func (s *MemoryStore) FindActiveAllocationsForEmployee(ctx context.Context, employeeID string) ([]model.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeFor(s.allocations, nil, employeeID), nil
}

func (s *MemoryStore) GetAllocation(ctx context.Context, id string) (model.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocations[id]
	if !ok {
		return model.Allocation{}, &engine.NotFoundError{Resource: "allocation", ID: id}
	}
	return a, nil
}

func (s *MemoryStore) WriteAllocation(ctx context.Context, a model.Allocation) (model.Allocation, error) {
	var saved model.Allocation
	err := s.WithinTx(ctx, func(ctx context.Context, tx engine.AllocationStore) error {
		var err error
		saved, err = tx.WriteAllocation(ctx, a)
		return err
	})
	return saved, err
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx engine.AllocationStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: s, staged: make(map[string]model.Allocation)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	for id, a := range tx.staged {
		s.allocations[id] = a
	}
	s.mu.Unlock()

	if len(tx.staged) > 0 {
		s.logger.Debug("Memory transaction committed", zap.Int("writes", len(tx.staged)))
	}
	return nil
}

// memoryTx reads through to the store and buffers writes until commit.
type memoryTx struct {
	store  *MemoryStore
	staged map[string]model.Allocation
}

func (t *memoryTx) FindActiveAllocationsForEmployee(ctx context.Context, employeeID string) ([]model.Allocation, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return activeFor(t.store.allocations, t.staged, employeeID), nil
}

func (t *memoryTx) GetAllocation(ctx context.Context, id string) (model.Allocation, error) {
	if a, ok := t.staged[id]; ok {
		return a, nil
	}
	return t.store.GetAllocation(ctx, id)
}

func (t *memoryTx) WriteAllocation(ctx context.Context, a model.Allocation) (model.Allocation, error) {
	now := t.store.now().UTC()
	if existing, err := t.GetAllocation(ctx, a.ID); err == nil {
		a.CreatedAt = existing.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.StartDate = interval.Day(a.StartDate)
	a.EndDate = interval.Day(a.EndDate)
	t.staged[a.ID] = a
	return a, nil
}

func (t *memoryTx) WithinTx(ctx context.Context, fn func(ctx context.Context, tx engine.AllocationStore) error) error {
	return fn(ctx, t)
}

// activeFor merges staged writes over base and returns the employee's active rows by start date.
func activeFor(base, staged map[string]model.Allocation, employeeID string) []model.Allocation {
	var out []model.Allocation
	for id, a := range base {
		if _, ok := staged[id]; ok {
			continue
		}
		if a.Active && a.EmployeeID == employeeID {
			out = append(out, a)
		}
	}
	for _, a := range staged {
		if a.Active && a.EmployeeID == employeeID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// employees

func (s *MemoryStore) PutEmployee(e model.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[e.ID] = e
}

func (s *MemoryStore) GetEmployee(ctx context.Context, id string) (model.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return model.Employee{}, &engine.NotFoundError{Resource: "employee", ID: id}
	}
	return e, nil
}

func (s *MemoryStore) ListEmployees(ctx context.Context, department string) ([]model.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Employee
	for _, e := range s.employees {
		if e.Active && (department == "" || e.Department == department) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// capacity

func (s *MemoryStore) SetDailyCapacity(ctx context.Context, employeeID string, day time.Time, hours float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overrides[employeeID] == nil {
		s.overrides[employeeID] = make(map[time.Time]float64)
	}
	s.overrides[employeeID][interval.Day(day)] = hours
	return nil
}

func (s *MemoryStore) FindDailyCapacityOverride(ctx context.Context, employeeID string, day time.Time) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.overrides[employeeID][interval.Day(day)]
	return v, ok, nil
}

func (s *MemoryStore) FindDailyCapacityOverrides(ctx context.Context, employeeID string, start, end time.Time) (map[time.Time]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[time.Time]float64)
	for day, v := range s.overrides[employeeID] {
		if interval.Contains(start, end, day) {
			out[day] = v
		}
	}
	return out, nil
}

// conflict ledger

func (s *MemoryStore) SaveConflicts(ctx context.Context, conflicts []model.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range conflicts {
		c.Acknowledged = false
		s.conflicts[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) GetConflict(ctx context.Context, id string) (model.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return model.Conflict{}, &engine.NotFoundError{Resource: "conflict", ID: id}
	}
	_, c.Acknowledged = s.acknowledged[id]
	return c, nil
}

func (s *MemoryStore) AcknowledgedIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := s.acknowledged[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *MemoryStore) Acknowledge(ctx context.Context, conflictID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acknowledged[conflictID] = reason
	s.logger.Info("Conflict acknowledged", zap.String("conflict_id", conflictID))
	return nil
}

func (s *MemoryStore) SaveResolution(ctx context.Context, rec model.ResolutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolutions = append(s.resolutions, rec)
	return nil
}

func (s *MemoryStore) ListResolutions(ctx context.Context, conflictID string) ([]model.ResolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ResolutionRecord
	for _, r := range s.resolutions {
		if r.Resolution.ConflictID == conflictID {
			out = append(out, r)
		}
	}
	return out, nil
}

var (
	_ engine.AllocationStore   = (*MemoryStore)(nil)
	_ engine.CapacityLookup    = (*MemoryStore)(nil)
	_ engine.CapacityWriter    = (*MemoryStore)(nil)
	_ engine.EmployeeDirectory = (*MemoryStore)(nil)
	_ engine.ConflictLedger    = (*MemoryStore)(nil)
)
