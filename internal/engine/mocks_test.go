package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"staffplanner/internal/interval"
	"staffplanner/internal/model"
)

type MockAllocationStore struct {
	mu          sync.Mutex
	allocations map[string]model.Allocation
	writes      int

	WithinTxFunc        func(ctx context.Context, fn func(ctx context.Context, tx AllocationStore) error) error
	WriteAllocationFunc func(ctx context.Context, a model.Allocation) (model.Allocation, error)
}

func newMockStore(allocs ...model.Allocation) *MockAllocationStore {
	m := &MockAllocationStore{allocations: make(map[string]model.Allocation)}
	for _, a := range allocs {
		m.allocations[a.ID] = a
	}
	return m
}

func (m *MockAllocationStore) FindActiveAllocationsForEmployee(ctx context.Context, employeeID string) ([]model.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Allocation
	for _, a := range m.allocations {
		if a.Active && a.EmployeeID == employeeID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockAllocationStore) GetAllocation(ctx context.Context, id string) (model.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocations[id]
	if !ok {
		return model.Allocation{}, &NotFoundError{Resource: "allocation", ID: id}
	}
	return a, nil
}

func (m *MockAllocationStore) WriteAllocation(ctx context.Context, a model.Allocation) (model.Allocation, error) {
	if m.WriteAllocationFunc != nil {
		return m.WriteAllocationFunc(ctx, a)
	}
	return m.put(a), nil
}

func (m *MockAllocationStore) put(a model.Allocation) model.Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[a.ID] = a
	m.writes++
	return a
}

func (m *MockAllocationStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx AllocationStore) error) error {
	if m.WithinTxFunc != nil {
		return m.WithinTxFunc(ctx, fn)
	}
	return m.runTx(ctx, fn)
}

// runTx restores the previous contents when fn fails.
func (m *MockAllocationStore) runTx(ctx context.Context, fn func(ctx context.Context, tx AllocationStore) error) error {
	m.mu.Lock()
	snapshot := make(map[string]model.Allocation, len(m.allocations))
	for k, v := range m.allocations {
		snapshot[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.allocations = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MockAllocationStore) get(id string) model.Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocations[id]
}

type MockCapacityLookup struct {
	overrides map[string]map[time.Time]float64
}

func (m *MockCapacityLookup) set(employeeID string, day time.Time, hours float64) {
	if m.overrides == nil {
		m.overrides = make(map[string]map[time.Time]float64)
	}
	if m.overrides[employeeID] == nil {
		m.overrides[employeeID] = make(map[time.Time]float64)
	}
	m.overrides[employeeID][interval.Day(day)] = hours
}

func (m *MockCapacityLookup) SetDailyCapacity(ctx context.Context, employeeID string, day time.Time, hours float64) error {
	m.set(employeeID, day, hours)
	return nil
}

func (m *MockCapacityLookup) FindDailyCapacityOverride(ctx context.Context, employeeID string, day time.Time) (float64, bool, error) {
	v, ok := m.overrides[employeeID][interval.Day(day)]
	return v, ok, nil
}

func (m *MockCapacityLookup) FindDailyCapacityOverrides(ctx context.Context, employeeID string, start, end time.Time) (map[time.Time]float64, error) {
	out := make(map[time.Time]float64)
	for day, v := range m.overrides[employeeID] {
		if interval.Contains(start, end, day) {
			out[day] = v
		}
	}
	return out, nil
}

type MockEmployeeDirectory struct {
	employees map[string]model.Employee
}

func newMockDirectory(employees ...model.Employee) *MockEmployeeDirectory {
	m := &MockEmployeeDirectory{employees: make(map[string]model.Employee)}
	for _, e := range employees {
		m.employees[e.ID] = e
	}
	return m
}

func (m *MockEmployeeDirectory) GetEmployee(ctx context.Context, id string) (model.Employee, error) {
	e, ok := m.employees[id]
	if !ok {
		return model.Employee{}, &NotFoundError{Resource: "employee", ID: id}
	}
	return e, nil
}

func (m *MockEmployeeDirectory) ListEmployees(ctx context.Context, department string) ([]model.Employee, error) {
	var out []model.Employee
	for _, e := range m.employees {
		if e.Active && (department == "" || e.Department == department) {
			out = append(out, e)
		}
	}
	return out, nil
}

type MockConflictLedger struct {
	mu           sync.Mutex
	conflicts    map[string]model.Conflict
	acknowledged map[string]string
	resolutions  []model.ResolutionRecord
}

func newMockLedger() *MockConflictLedger {
	return &MockConflictLedger{
		conflicts:    make(map[string]model.Conflict),
		acknowledged: make(map[string]string),
	}
}

func (m *MockConflictLedger) SaveConflicts(ctx context.Context, conflicts []model.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range conflicts {
		m.conflicts[c.ID] = c
	}
	return nil
}

func (m *MockConflictLedger) GetConflict(ctx context.Context, id string) (model.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return model.Conflict{}, &NotFoundError{Resource: "conflict", ID: id}
	}
	return c, nil
}

func (m *MockConflictLedger) AcknowledgedIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.acknowledged[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *MockConflictLedger) Acknowledge(ctx context.Context, conflictID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acknowledged[conflictID] = reason
	return nil
}

func (m *MockConflictLedger) SaveResolution(ctx context.Context, rec model.ResolutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions = append(m.resolutions, rec)
	return nil
}

func (m *MockConflictLedger) ListResolutions(ctx context.Context, conflictID string) ([]model.ResolutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ResolutionRecord
	for _, r := range m.resolutions {
		if r.Resolution.ConflictID == conflictID {
			out = append(out, r)
		}
	}
	return out, nil
}

type MockResolutionGuard struct {
	AcquireFunc func(ctx context.Context, conflictID string) bool
	released    []string
}

func (m *MockResolutionGuard) Acquire(ctx context.Context, conflictID string) bool {
	return m.AcquireFunc(ctx, conflictID)
}

func (m *MockResolutionGuard) Release(ctx context.Context, conflictID string) {
	m.released = append(m.released, conflictID)
}
