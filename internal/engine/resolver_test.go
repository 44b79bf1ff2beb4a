package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"staffplanner/internal/interval"
	"staffplanner/internal/model"
)

func strPtr(s string) *string { return &s }

func timePtr(s string) *time.Time {
	d := day(s)
	return &d
}

// overlapFixture persists A (Jan, full time) and B (Jan 15..Feb 15, half time) for emp-1
// and returns the overlap conflict recorded for B.
func overlapFixture(t *testing.T) (*fixture, model.Conflict) {
	t.Helper()
	b := weekly("b", "emp-1", "2024-01-15", "2024-02-15", 20)
	f := setupEngine(t, weekly("a", "emp-1", "2024-01-01", "2024-01-31", 40), b)

	report, err := f.engine.CheckConflicts(context.Background(), ConflictQuery{
		EmployeeID:     "emp-1",
		Start:          b.StartDate,
		End:            b.EndDate,
		ExcludeID:      "b",
		AllocatedHours: hoursPtr(b.AllocatedHours),
	})
	if err != nil {
		t.Fatalf("CheckConflicts() error = %v", err)
	}
	return f, findConflict(t, report.Conflicts, model.ConflictOverlap)
}

func TestResolve_ReassignToIdleEmployee(t *testing.T) {
	f, conflict := overlapFixture(t)

	res, err := f.engine.ResolveConflict(context.Background(), model.ConflictResolution{
		ConflictID:    conflict.ID,
		Kind:          model.ResolutionReassign,
		AllocationID:  "b",
		NewEmployeeID: strPtr("emp-3"),
	})
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if !res.Success || res.State != model.StateResolved {
		t.Fatalf("result = %+v", res)
	}
	if len(res.RemainingConflicts) != 0 {
		t.Errorf("remaining = %+v, want none", res.RemainingConflicts)
	}
	if got := f.store.get("b").EmployeeID; got != "emp-3" {
		t.Errorf("b belongs to %s, want emp-3", got)
	}
	if len(f.ledger.resolutions) != 1 || f.ledger.resolutions[0].State != model.StateResolved {
		t.Errorf("resolution history = %+v", f.ledger.resolutions)
	}
}

func TestResolve_RescheduleBlockedThenAccepted(t *testing.T) {
	f, conflict := overlapFixture(t)
	before := f.store.get("b")

	res, err := f.engine.ResolveConflict(context.Background(), model.ConflictResolution{
		ConflictID:   conflict.ID,
		Kind:         model.ResolutionReschedule,
		AllocationID: "b",
		NewStartDate: timePtr("2024-01-20"),
		NewEndDate:   timePtr("2024-02-20"),
	})
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if res.Success || res.State != model.StateFailed {
		t.Fatalf("expected failed state, got %+v", res)
	}
	if len(res.RemainingConflicts) == 0 {
		t.Error("expected remaining conflicts to be reported")
	}
	for _, rem := range res.RemainingConflicts {
		if _, err := f.engine.RecordedConflicts(context.Background(), []string{rem.ID}); err != nil {
			t.Errorf("remaining conflict %s of a failed attempt is not recorded: %v", rem.ID, err)
		}
	}
	if after := f.store.get("b"); !after.StartDate.Equal(before.StartDate) {
		t.Error("a blocked resolution must not write")
	}

	res, err = f.engine.ResolveConflict(context.Background(), model.ConflictResolution{
		ConflictID:      conflict.ID,
		Kind:            model.ResolutionReschedule,
		AllocationID:    "b",
		NewStartDate:    timePtr("2024-01-20"),
		NewEndDate:      timePtr("2024-02-20"),
		AcceptRemaining: true,
	})
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if !res.Success || res.State != model.StateResolved {
		t.Fatalf("expected resolved state, got %+v", res)
	}
	if got := interval.FormatDate(f.store.get("b").StartDate); got != "2024-01-20" {
		t.Errorf("b starts %s, want 2024-01-20", got)
	}
}

func TestResolve_FollowsSuggestedReschedule(t *testing.T) {
	f, conflict := overlapFixture(t)
	s := conflict.SuggestedResolution

	res, err := f.engine.ResolveConflict(context.Background(), model.ConflictResolution{
		ConflictID:   conflict.ID,
		Kind:         model.ResolutionReschedule,
		NewStartDate: s.NewStartDate,
		NewEndDate:   s.NewEndDate,
	})
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	b := f.store.get("b")
	if interval.FormatDate(b.StartDate) != "2024-02-01" || interval.FormatDate(b.EndDate) != "2024-03-03" {
		t.Errorf("b = %s..%s", interval.FormatDate(b.StartDate), interval.FormatDate(b.EndDate))
	}
	if b.Days() != 32 {
		t.Errorf("duration changed to %d days", b.Days())
	}
}

func TestResolve_ReduceHoursLeavesLowOverlap(t *testing.T) {
	a := weekly("a", "emp-1", "2024-01-01", "2024-01-31", 30)
	b := weekly("b", "emp-1", "2024-01-01", "2024-01-31", 20)
	f := setupEngine(t, a, b)

	report, err := f.engine.CheckConflicts(context.Background(), ConflictQuery{
		EmployeeID: "emp-1", Start: b.StartDate, End: b.EndDate, ExcludeID: "b", AllocatedHours: hoursPtr(b.AllocatedHours),
	})
	if err != nil {
		t.Fatalf("CheckConflicts() error = %v", err)
	}
	over := findConflict(t, report.Conflicts, model.ConflictOverCapacity)

	res, err := f.engine.ResolveConflict(context.Background(), model.ConflictResolution{
		ConflictID:        over.ID,
		Kind:              model.ResolutionReduceHours,
		AllocationID:      "b",
		NewAllocatedHours: hoursPtr(interval.HoursForWeeklyRate(8, b.StartDate, b.EndDate)),
	})
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if len(res.RemainingConflicts) != 1 {
		t.Fatalf("remaining = %+v, want the overlap only", res.RemainingConflicts)
	}
	rem := res.RemainingConflicts[0]
	if rem.Kind != model.ConflictOverlap || rem.Severity != model.SeverityLow {
		t.Errorf("remaining = %+v, want a low overlap", rem)
	}
	if _, err := f.ledger.GetConflict(context.Background(), rem.ID); err != nil {
		t.Errorf("remaining conflict should be recorded: %v", err)
	}
}

func TestResolve_Split(t *testing.T) {
	a := weekly("a", "emp-1", "2024-01-01", "2024-01-31", 10)
	a.AllocatedHours = 100
	f := setupEngine(t, a)
	f.ledger.conflicts["c-split"] = model.Conflict{ID: "c-split", Kind: model.ConflictOverlap, EmployeeID: "emp-1", AllocationIDs: []string{"a"}}

	res, err := f.engine.ResolveConflict(context.Background(), model.ConflictResolution{
		ConflictID: "c-split",
		Kind:       model.ResolutionSplit,
		SplitDate:  timePtr("2024-01-11"),
	})
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if !res.Success || len(res.Allocations) != 3 {
		t.Fatalf("result = %+v", res)
	}
	if f.store.get("a").Active {
		t.Error("original should be deactivated")
	}

	first, second := res.Allocations[1], res.Allocations[2]
	if interval.FormatDate(first.EndDate) != "2024-01-10" || interval.FormatDate(second.StartDate) != "2024-01-11" {
		t.Errorf("parts = %s..%s and %s..%s",
			interval.FormatDate(first.StartDate), interval.FormatDate(first.EndDate),
			interval.FormatDate(second.StartDate), interval.FormatDate(second.EndDate))
	}
	if first.ID == "a" || second.ID == "a" || first.ID == second.ID {
		t.Errorf("parts need fresh IDs, got %s and %s", first.ID, second.ID)
	}
	if !approx(first.AllocatedHours, 32.26) || !approx(second.AllocatedHours, 67.74) {
		t.Errorf("shares = %v + %v", first.AllocatedHours, second.AllocatedHours)
	}
	if !approx(first.AllocatedHours+second.AllocatedHours, 100) {
		t.Errorf("shares sum to %v, want 100", first.AllocatedHours+second.AllocatedHours)
	}
}

func TestResolve_Ignore(t *testing.T) {
	f, conflict := overlapFixture(t)

	res, err := f.engine.ResolveConflict(context.Background(), model.ConflictResolution{
		ConflictID: conflict.ID,
		Kind:       model.ResolutionIgnore,
		Reason:     strPtr("client approved double booking"),
	})
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if !res.Success || res.State != model.StateResolved {
		t.Fatalf("result = %+v", res)
	}
	if f.ledger.acknowledged[conflict.ID] != "client approved double booking" {
		t.Errorf("acknowledgement = %q", f.ledger.acknowledged[conflict.ID])
	}

	b := f.store.get("b")
	q := ConflictQuery{EmployeeID: "emp-1", Start: b.StartDate, End: b.EndDate, ExcludeID: "b", AllocatedHours: hoursPtr(b.AllocatedHours)}
	report, err := f.engine.CheckConflicts(context.Background(), q)
	if err != nil {
		t.Fatalf("CheckConflicts() error = %v", err)
	}
	for _, c := range report.Conflicts {
		if c.ID == conflict.ID {
			t.Error("acknowledged conflict should be filtered")
		}
	}

	q.IncludeAcknowledged = true
	report, err = f.engine.CheckConflicts(context.Background(), q)
	if err != nil {
		t.Fatalf("CheckConflicts() error = %v", err)
	}
	got := findConflict(t, report.Conflicts, model.ConflictOverlap)
	if got.ID != conflict.ID || !got.Acknowledged {
		t.Errorf("expected acknowledged conflict, got %+v", got)
	}
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		res     func(c model.Conflict) model.ConflictResolution
		wantErr error
	}{
		{"missing conflict id", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{Kind: model.ResolutionIgnore}
		}, ErrValidation},
		{"unknown kind", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{ConflictID: c.ID, Kind: "teleport"}
		}, ErrValidation},
		{"reschedule without dates", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{ConflictID: c.ID, Kind: model.ResolutionReschedule}
		}, ErrValidation},
		{"reschedule inverted", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{ConflictID: c.ID, Kind: model.ResolutionReschedule, NewStartDate: timePtr("2024-03-02"), NewEndDate: timePtr("2024-03-01")}
		}, ErrValidation},
		{"reduce to zero", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{ConflictID: c.ID, Kind: model.ResolutionReduceHours, NewAllocatedHours: hoursPtr(0)}
		}, ErrValidation},
		{"reassign to same employee", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{ConflictID: c.ID, Kind: model.ResolutionReassign, AllocationID: "b", NewEmployeeID: strPtr("emp-1")}
		}, ErrValidation},
		{"reassign to unknown employee", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{ConflictID: c.ID, Kind: model.ResolutionReassign, NewEmployeeID: strPtr("nobody")}
		}, ErrNotFound},
		{"reassign to inactive employee", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{ConflictID: c.ID, Kind: model.ResolutionReassign, NewEmployeeID: strPtr("emp-gone")}
		}, ErrValidation},
		{"split on first day", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{ConflictID: c.ID, Kind: model.ResolutionSplit, AllocationID: "b", SplitDate: timePtr("2024-01-15")}
		}, ErrValidation},
		{"target outside conflict", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{ConflictID: c.ID, Kind: model.ResolutionReduceHours, AllocationID: "zzz", NewAllocatedHours: hoursPtr(1)}
		}, ErrValidation},
		{"unknown conflict", func(c model.Conflict) model.ConflictResolution {
			return model.ConflictResolution{ConflictID: "missing", Kind: model.ResolutionIgnore}
		}, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, conflict := overlapFixture(t)
			before := f.store.writes

			res, err := f.engine.ResolveConflict(context.Background(), tt.res(conflict))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if res.State != model.StateFailed {
				t.Errorf("state = %q, want failed", res.State)
			}
			if f.store.writes != before {
				t.Error("a failed resolution must not write")
			}
		})
	}
}

func TestResolve_ConcurrencyConflict(t *testing.T) {
	f, conflict := overlapFixture(t)
	f.store.WithinTxFunc = func(ctx context.Context, fn func(ctx context.Context, tx AllocationStore) error) error {
		return &ConcurrencyConflictError{Err: errors.New("could not serialize access")}
	}

	res, err := f.engine.ResolveConflict(context.Background(), model.ConflictResolution{
		ConflictID:    conflict.ID,
		Kind:          model.ResolutionReassign,
		NewEmployeeID: strPtr("emp-3"),
	})
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("error = %v, want concurrency conflict", err)
	}
	if res.State != model.StateFailed {
		t.Errorf("state = %q", res.State)
	}
}

func TestResolutionTransitions(t *testing.T) {
	a := newResolutionAttempt()
	if err := a.moveTo(model.StateResolved); err == nil {
		t.Error("pending -> resolved should be rejected")
	}
	if err := a.moveTo(model.StateResolving); err != nil {
		t.Fatalf("pending -> resolving: %v", err)
	}
	if err := a.moveTo(model.StateResolved); err != nil {
		t.Fatalf("resolving -> resolved: %v", err)
	}
	if err := a.moveTo(model.StateFailed); err == nil {
		t.Error("resolved is final")
	}
}

func autoResolveFixture(t *testing.T) (*fixture, []model.Conflict) {
	t.Helper()
	b := weekly("b", "emp-1", "2024-01-15", "2024-02-15", 20)
	d := weekly("d", "emp-2", "2024-03-10", "2024-03-20", 20)
	f := setupEngine(t,
		weekly("a", "emp-1", "2024-01-01", "2024-01-31", 40),
		b,
		weekly("c", "emp-2", "2024-03-01", "2024-03-31", 40),
		d,
	)

	var all []model.Conflict
	for _, x := range []model.Allocation{b, d} {
		report, err := f.engine.CheckConflicts(context.Background(), ConflictQuery{
			EmployeeID: x.EmployeeID, Start: x.StartDate, End: x.EndDate, ExcludeID: x.ID, AllocatedHours: hoursPtr(x.AllocatedHours),
		})
		if err != nil {
			t.Fatalf("CheckConflicts() error = %v", err)
		}
		all = append(all, report.Conflicts...)
	}
	return f, all
}

func TestAutoResolve_IndependentFailures(t *testing.T) {
	f, conflicts := autoResolveFixture(t)
	f.store.WriteAllocationFunc = func(ctx context.Context, a model.Allocation) (model.Allocation, error) {
		if a.ID == "d" {
			return model.Allocation{}, errors.New("connection reset")
		}
		return f.store.put(a), nil
	}

	outcomes := f.engine.AutoResolve(context.Background(), conflicts)
	if len(outcomes) != len(conflicts) {
		t.Fatalf("outcomes = %d, want %d", len(outcomes), len(conflicts))
	}

	var resolved, failed, skipped int
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			skipped++
		case o.Error != "":
			failed++
		case o.Result != nil && o.Result.Success:
			resolved++
		}
	}
	if resolved != 1 || failed != 1 || skipped != 2 {
		t.Errorf("resolved=%d failed=%d skipped=%d, want 1/1/2", resolved, failed, skipped)
	}
	if got := interval.FormatDate(f.store.get("b").StartDate); got != "2024-02-01" {
		t.Errorf("b starts %s, want 2024-02-01", got)
	}
	if got := interval.FormatDate(f.store.get("d").StartDate); got != "2024-03-10" {
		t.Errorf("d should be unchanged, starts %s", got)
	}

	foundReason := false
	for _, rec := range f.ledger.resolutions {
		if rec.Resolution.Reason != nil && *rec.Resolution.Reason == DefaultAutoResolveReason {
			foundReason = true
		}
	}
	if !foundReason {
		t.Error("auto-resolved records should carry the system reason")
	}
}

func TestAutoResolve_Guard(t *testing.T) {
	f, conflicts := autoResolveFixture(t)
	guard := &MockResolutionGuard{AcquireFunc: func(ctx context.Context, id string) bool { return false }}
	f.engine.WithResolutionGuard(guard)
	before := f.store.writes

	for _, o := range f.engine.AutoResolve(context.Background(), conflicts) {
		if !o.Skipped {
			t.Errorf("outcome %+v should be skipped", o)
		}
	}
	if f.store.writes != before {
		t.Error("guarded conflicts must not be resolved")
	}
	if len(guard.released) != 0 {
		t.Errorf("nothing was acquired, released %v", guard.released)
	}
}

func TestAutoResolve_Cancelled(t *testing.T) {
	f, conflicts := autoResolveFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, o := range f.engine.AutoResolve(ctx, conflicts) {
		if o.Error == "" || o.Result != nil {
			t.Errorf("outcome %+v should report cancellation", o)
		}
	}
}

func TestAutoResolve_RangeCheckMovesLaterAllocation(t *testing.T) {
	f := setupEngine(t,
		weekly("a", "emp-1", "2024-01-01", "2024-01-31", 20),
		weekly("b", "emp-1", "2024-01-15", "2024-02-15", 10),
	)
	ctx := context.Background()
	q := ConflictQuery{EmployeeID: "emp-1", Start: day("2024-01-01"), End: day("2024-02-29")}

	report, err := f.engine.CheckConflicts(ctx, q)
	if err != nil {
		t.Fatalf("CheckConflicts() error = %v", err)
	}
	outcomes := f.engine.AutoResolve(ctx, report.Conflicts)
	if len(outcomes) != 1 || outcomes[0].Result == nil || !outcomes[0].Result.Success {
		t.Fatalf("outcomes = %+v", outcomes)
	}

	a, b := f.store.get("a"), f.store.get("b")
	if interval.FormatDate(a.StartDate) != "2024-01-01" || interval.FormatDate(a.EndDate) != "2024-01-31" {
		t.Errorf("a moved to %s..%s", interval.FormatDate(a.StartDate), interval.FormatDate(a.EndDate))
	}
	if interval.FormatDate(b.StartDate) != "2024-02-01" || interval.FormatDate(b.EndDate) != "2024-03-03" {
		t.Errorf("b = %s..%s, want 2024-02-01..2024-03-03", interval.FormatDate(b.StartDate), interval.FormatDate(b.EndDate))
	}

	again, err := f.engine.CheckConflicts(ctx, q)
	if err != nil {
		t.Fatalf("CheckConflicts() error = %v", err)
	}
	if again.HasConflicts {
		t.Errorf("conflicts after auto-resolve = %+v", again.Conflicts)
	}
}

func TestResolutionHistory(t *testing.T) {
	f, conflict := overlapFixture(t)
	ctx := context.Background()

	empty, err := f.engine.ResolutionHistory(ctx, conflict.ID)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("history before any attempt = %v, %v", empty, err)
	}

	blocked := model.ConflictResolution{
		ConflictID:   conflict.ID,
		Kind:         model.ResolutionReschedule,
		AllocationID: "b",
		NewStartDate: timePtr("2024-01-20"),
		NewEndDate:   timePtr("2024-02-20"),
	}
	if _, err := f.engine.ResolveConflict(ctx, blocked); err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	blocked.AcceptRemaining = true
	if _, err := f.engine.ResolveConflict(ctx, blocked); err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}

	history, err := f.engine.ResolutionHistory(ctx, conflict.ID)
	if err != nil {
		t.Fatalf("ResolutionHistory() error = %v", err)
	}
	if len(history) != 2 || history[0].State != model.StateFailed || history[1].State != model.StateResolved {
		t.Errorf("history = %+v, want failed then resolved", history)
	}

	if _, err := f.engine.ResolutionHistory(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown conflict error = %v, want not found", err)
	}
	if _, err := f.engine.ResolutionHistory(ctx, " "); !errors.Is(err, ErrValidation) {
		t.Errorf("blank id error = %v, want validation", err)
	}
}
