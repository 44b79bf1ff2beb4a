package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"staffplanner/internal/interval"
	"staffplanner/internal/model"
	"staffplanner/pkg/logger"
	"staffplanner/pkg/metrics"
)

var resolutionTransitions = map[model.ResolutionState][]model.ResolutionState{
	model.StatePending:   {model.StateResolving, model.StateFailed},
	model.StateResolving: {model.StateResolved, model.StateFailed},
}

// resolutionAttempt tracks one resolution through pending, resolving and a final state.
type resolutionAttempt struct {
	state model.ResolutionState
}

func newResolutionAttempt() *resolutionAttempt {
	return &resolutionAttempt{state: model.StatePending}
}

func (a *resolutionAttempt) moveTo(next model.ResolutionState) error {
	for _, allowed := range resolutionTransitions[a.state] {
		if allowed == next {
			a.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid resolution transition %s -> %s", a.state, next)
}

// ResolveConflict applies a resolution to a recorded conflict. The mutation is projected and
// re-checked first. If blocking conflicts would remain and AcceptRemaining is false, nothing
// is written and the result is failed with the remaining conflicts listed.
func (e *Engine) ResolveConflict(ctx context.Context, res model.ConflictResolution) (model.ResolutionResult, error) {
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger)
	log.Debug("Resolving conflict",
		zap.String("conflict_id", res.ConflictID),
		zap.String("kind", string(res.Kind)))

	attempt := newResolutionAttempt()
	result, err := e.resolve(ctx, attempt, res)
	if err != nil && attempt.state != model.StateFailed {
		_ = attempt.moveTo(model.StateFailed)
	}
	result.State = attempt.state
	if result.RemainingConflicts == nil {
		result.RemainingConflicts = []model.Conflict{}
	}

	metrics.IncrementResolution(string(res.Kind), string(result.State))
	e.finish("resolve_conflict", start, err)
	if err != nil {
		log.Warn("Failed to resolve conflict", zap.String("conflict_id", res.ConflictID), zap.Error(err))
		return result, err
	}

	log.Info("Conflict resolution finished",
		zap.String("conflict_id", res.ConflictID),
		zap.String("state", string(result.State)),
		zap.Int("remaining", len(result.RemainingConflicts)))
	return result, nil
}

func (e *Engine) resolve(ctx context.Context, attempt *resolutionAttempt, res model.ConflictResolution) (model.ResolutionResult, error) {
	if err := validateResolution(res); err != nil {
		return model.ResolutionResult{}, err
	}
	conflict, err := e.ledger.GetConflict(ctx, res.ConflictID)
	if err != nil {
		return model.ResolutionResult{}, err
	}
	if err := attempt.moveTo(model.StateResolving); err != nil {
		return model.ResolutionResult{}, err
	}

	if res.Kind == model.ResolutionIgnore {
		if err := e.ledger.Acknowledge(ctx, conflict.ID, deref(res.Reason)); err != nil {
			return model.ResolutionResult{}, fmt.Errorf("failed to acknowledge conflict: %w", err)
		}
		if err := attempt.moveTo(model.StateResolved); err != nil {
			return model.ResolutionResult{}, err
		}
		e.saveRecord(ctx, res, conflict, model.StateResolved, nil, nil)
		return model.ResolutionResult{Success: true}, nil
	}

	if res.Kind == model.ResolutionReassign {
		emp, err := e.employees.GetEmployee(ctx, strings.TrimSpace(*res.NewEmployeeID))
		if err != nil {
			return model.ResolutionResult{}, err
		}
		if !emp.Active {
			return model.ResolutionResult{}, invalid("new_employee_id", "employee %s is not active", emp.ID)
		}
	}

	var result model.ResolutionResult
	err = e.withRetry(ctx, "resolve_conflict", func(ctx context.Context) error {
		result = model.ResolutionResult{}
		return e.store.WithinTx(ctx, func(ctx context.Context, tx AllocationStore) error {
			target, err := e.resolutionTarget(ctx, tx, conflict, res)
			if err != nil {
				return err
			}
			plan, err := e.plan(target, res)
			if err != nil {
				return err
			}
			remaining, err := e.project(ctx, tx, plan)
			if err != nil {
				return err
			}
			result.RemainingConflicts = remaining
			if hasBlocking(remaining) && !res.AcceptRemaining {
				return nil
			}
			for _, a := range plan {
				written, err := tx.WriteAllocation(ctx, a)
				if err != nil {
					return err
				}
				result.Allocations = append(result.Allocations, written)
			}
			result.Success = true
			return nil
		})
	})
	if err != nil {
		return model.ResolutionResult{}, err
	}

	final := model.StateFailed
	if result.Success {
		final = model.StateResolved
	}
	// 失败时也记录, 返回的冲突 id 才能被查询
	if len(result.RemainingConflicts) > 0 {
		if err := e.ledger.SaveConflicts(ctx, result.RemainingConflicts); err != nil {
			logger.WithTrace(ctx, e.logger).Error("Failed to record remaining conflicts",
				zap.String("conflict_id", conflict.ID), zap.Error(err))
		}
	}
	if err := attempt.moveTo(final); err != nil {
		return model.ResolutionResult{}, err
	}

	allocIDs := make([]string, 0, len(result.Allocations))
	for _, a := range result.Allocations {
		allocIDs = append(allocIDs, a.ID)
	}
	e.saveRecord(ctx, res, conflict, final, allocIDs, result.RemainingConflicts)
	return result, nil
}

// resolutionTarget loads the allocation a resolution acts on. Without an explicit ID it is the
// suggested target, or else the latest-starting active allocation of the conflict.
func (e *Engine) resolutionTarget(ctx context.Context, tx AllocationStore, conflict model.Conflict, res model.ConflictResolution) (model.Allocation, error) {
	id := strings.TrimSpace(res.AllocationID)
	if id == "" && conflict.SuggestedResolution != nil {
		id = conflict.SuggestedResolution.AllocationID
	}
	if id != "" {
		if !contains(conflict.AllocationIDs, id) {
			return model.Allocation{}, invalid("allocation_id", "allocation %s is not part of conflict %s", id, conflict.ID)
		}
		return loadActive(ctx, tx, id)
	}

	var target model.Allocation
	found := false
	for _, cid := range conflict.AllocationIDs {
		a, err := tx.GetAllocation(ctx, cid)
		if err != nil {
			return model.Allocation{}, err
		}
		if !a.Active {
			continue
		}
		if !found || laterStart(a, target) {
			target, found = a, true
		}
	}
	if !found {
		return model.Allocation{}, &NotFoundError{Resource: "allocation", ID: strings.Join(conflict.AllocationIDs, ",")}
	}
	return target, nil
}

// plan returns every allocation the resolution writes, in write order.
func (e *Engine) plan(current model.Allocation, res model.ConflictResolution) ([]model.Allocation, error) {
	now := e.now()
	updated := current
	updated.UpdatedAt = now

	switch res.Kind {
	case model.ResolutionReschedule:
		updated.StartDate = interval.Day(*res.NewStartDate)
		updated.EndDate = interval.Day(*res.NewEndDate)
	case model.ResolutionReduceHours:
		updated.AllocatedHours = *res.NewAllocatedHours
	case model.ResolutionReassign:
		next := strings.TrimSpace(*res.NewEmployeeID)
		if next == current.EmployeeID {
			return nil, invalid("new_employee_id", "allocation %s already belongs to employee %s", current.ID, next)
		}
		updated.EmployeeID = next
	case model.ResolutionSplit:
		return splitAllocation(current, *res.SplitDate, now)
	default:
		return nil, invalid("kind", "unsupported resolution kind %q", res.Kind)
	}

	if err := validateAllocation(updated); err != nil {
		return nil, err
	}
	return []model.Allocation{updated}, nil
}

// splitAllocation deactivates a and replaces it with [start, split-1] and [split, end].
// Hours are shared by day count, rounded to cents, with the remainder on the second part.
func splitAllocation(a model.Allocation, splitDate time.Time, now time.Time) ([]model.Allocation, error) {
	split := interval.Day(splitDate)
	start, end := interval.Day(a.StartDate), interval.Day(a.EndDate)
	if !split.After(start) || !split.Before(end) {
		return nil, invalid("split_date", "%s is not strictly inside %s..%s",
			interval.FormatDate(split), interval.FormatDate(start), interval.FormatDate(end))
	}

	firstEnd := split.AddDate(0, 0, -1)
	total := decimal.NewFromFloat(a.AllocatedHours)
	firstShare := total.
		Mul(decimal.NewFromInt(int64(interval.DayCount(start, firstEnd)))).
		Div(decimal.NewFromInt(int64(a.Days()))).
		Round(2)
	secondShare := total.Sub(firstShare)
	if !firstShare.IsPositive() || !secondShare.IsPositive() {
		return nil, invalid("split_date", "allocation %s has too few hours to split", a.ID)
	}

	original := a
	original.Active = false
	original.UpdatedAt = now

	first := a
	first.ID = uuid.NewString()
	first.EndDate = firstEnd
	first.AllocatedHours = firstShare.InexactFloat64()
	first.ActualHours = nil
	first.CreatedAt, first.UpdatedAt = now, now

	second := a
	second.ID = uuid.NewString()
	second.StartDate = split
	second.AllocatedHours = secondShare.InexactFloat64()
	second.ActualHours = nil
	second.CreatedAt, second.UpdatedAt = now, now

	return []model.Allocation{original, first, second}, nil
}

// project re-runs detection for every active allocation in plan against the state the
// plan would leave behind.
func (e *Engine) project(ctx context.Context, tx AllocationStore, plan []model.Allocation) ([]model.Conflict, error) {
	planned := make(map[string]bool, len(plan))
	byEmployee := make(map[string][]model.Allocation)
	for _, a := range plan {
		planned[a.ID] = true
		if a.Active {
			byEmployee[a.EmployeeID] = append(byEmployee[a.EmployeeID], a)
		}
	}
	employees := make([]string, 0, len(byEmployee))
	for id := range byEmployee {
		employees = append(employees, id)
	}
	sort.Strings(employees)

	var detected []detectedConflict
	seen := make(map[string]bool)
	for _, employeeID := range employees {
		current, err := tx.FindActiveAllocationsForEmployee(ctx, employeeID)
		if err != nil {
			return nil, err
		}
		var base []model.Allocation
		for _, a := range current {
			if !planned[a.ID] {
				base = append(base, a)
			}
		}
		items := byEmployee[employeeID]
		for i, item := range items {
			siblings := append([]model.Allocation(nil), base...)
			for j, other := range items {
				if j != i {
					siblings = append(siblings, other)
				}
			}
			found, err := e.detect(ctx, item, siblings)
			if err != nil {
				return nil, err
			}
			for _, d := range found {
				if !seen[d.conflict.ID] {
					seen[d.conflict.ID] = true
					detected = append(detected, d)
				}
			}
		}
	}
	if len(detected) == 0 {
		return []model.Conflict{}, nil
	}

	ids := make([]string, 0, len(detected))
	for _, d := range detected {
		ids = append(ids, d.conflict.ID)
	}
	acked, err := e.ledger.AcknowledgedIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load acknowledgements: %w", err)
	}
	out := make([]model.Conflict, 0, len(detected))
	for _, d := range detected {
		if acked[d.conflict.ID] {
			continue
		}
		out = append(out, d.conflict)
	}
	return out, nil
}

func (e *Engine) saveRecord(ctx context.Context, res model.ConflictResolution, conflict model.Conflict, state model.ResolutionState, allocationIDs []string, remaining []model.Conflict) {
	remainingIDs := make([]string, 0, len(remaining))
	for _, c := range remaining {
		remainingIDs = append(remainingIDs, c.ID)
	}
	rec := model.ResolutionRecord{
		ID:                   uuid.NewString(),
		Resolution:           res,
		EmployeeID:           conflict.EmployeeID,
		State:                state,
		AllocationIDs:        allocationIDs,
		RemainingConflictIDs: remainingIDs,
		ResolvedAt:           e.now(),
	}
	if err := e.ledger.SaveResolution(ctx, rec); err != nil {
		logger.WithTrace(ctx, e.logger).Error("Failed to save resolution record",
			zap.String("conflict_id", conflict.ID), zap.Error(err))
	}
}

func validateResolution(res model.ConflictResolution) error {
	if strings.TrimSpace(res.ConflictID) == "" {
		return invalid("conflict_id", "conflict id is required")
	}
	if !res.Kind.Valid() {
		return invalid("kind", "unknown resolution kind %q", res.Kind)
	}
	switch res.Kind {
	case model.ResolutionReschedule:
		if res.NewStartDate == nil || res.NewEndDate == nil {
			return invalid("new_start_date", "reschedule needs both new_start_date and new_end_date")
		}
		if err := interval.CheckBounds(*res.NewStartDate, *res.NewEndDate); err != nil {
			return invalid("date_range", "%v", err)
		}
	case model.ResolutionReduceHours:
		if res.NewAllocatedHours == nil {
			return invalid("new_allocated_hours", "reduce_hours needs new_allocated_hours")
		}
		return checkHours("new_allocated_hours", *res.NewAllocatedHours)
	case model.ResolutionReassign:
		if res.NewEmployeeID == nil || strings.TrimSpace(*res.NewEmployeeID) == "" {
			return invalid("new_employee_id", "reassign needs new_employee_id")
		}
	case model.ResolutionSplit:
		if res.SplitDate == nil {
			return invalid("split_date", "split_allocation needs split_date")
		}
	}
	return nil
}

// hasBlocking reports whether any conflict is worse than low.
func hasBlocking(conflicts []model.Conflict) bool {
	for _, c := range conflicts {
		if c.Severity.Rank() > model.SeverityLow.Rank() {
			return true
		}
	}
	return false
}

type AutoResolveOutcome struct {
	ConflictID string                  `json:"conflict_id"`
	Result     *model.ResolutionResult `json:"result,omitempty"`
	Skipped    bool                    `json:"skipped"`
	Error      string                  `json:"error,omitempty"`
}

// AutoResolve applies the suggested reschedule of every auto-resolvable conflict.
// Each conflict is handled on its own; one failure does not stop the rest.
func (e *Engine) AutoResolve(ctx context.Context, conflicts []model.Conflict) []AutoResolveOutcome {
	log := logger.WithTrace(ctx, e.logger)
	outcomes := make([]AutoResolveOutcome, 0, len(conflicts))

	for _, c := range conflicts {
		outcome := AutoResolveOutcome{ConflictID: c.ID}
		if err := ctx.Err(); err != nil {
			outcome.Error = err.Error()
			outcomes = append(outcomes, outcome)
			continue
		}
		if !c.CanAutoResolve || c.SuggestedResolution == nil {
			outcome.Skipped = true
			outcome.Error = "conflict is not auto-resolvable"
			outcomes = append(outcomes, outcome)
			continue
		}
		if e.guard != nil && !e.guard.Acquire(ctx, c.ID) {
			outcome.Skipped = true
			outcome.Error = "conflict is already being resolved"
			outcomes = append(outcomes, outcome)
			continue
		}

		res := *c.SuggestedResolution
		res.ConflictID = c.ID
		res.Kind = model.ResolutionReschedule
		reason := e.cfg.AutoResolveReason
		res.Reason = &reason

		result, err := e.ResolveConflict(ctx, res)
		if e.guard != nil {
			e.guard.Release(ctx, c.ID)
		}
		outcome.Result = &result
		if err != nil {
			outcome.Error = err.Error()
			log.Warn("Auto-resolve failed", zap.String("conflict_id", c.ID), zap.Error(err))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ResolutionHistory lists the resolution attempts made on a recorded conflict, oldest first.
func (e *Engine) ResolutionHistory(ctx context.Context, conflictID string) ([]model.ResolutionRecord, error) {
	conflictID = strings.TrimSpace(conflictID)
	if conflictID == "" {
		return nil, invalid("conflict_id", "conflict id is required")
	}
	if _, err := e.ledger.GetConflict(ctx, conflictID); err != nil {
		return nil, err
	}
	records, err := e.ledger.ListResolutions(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resolutions of %s: %w", conflictID, err)
	}
	if records == nil {
		records = []model.ResolutionRecord{}
	}
	return records, nil
}
