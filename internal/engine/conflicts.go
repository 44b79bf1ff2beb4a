package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"staffplanner/internal/interval"
	"staffplanner/internal/model"
	"staffplanner/pkg/logger"
	"staffplanner/pkg/metrics"
)

// conflictNamespace seeds the name-based conflict IDs.
var conflictNamespace = uuid.MustParse("6f1c2a0e-5d0b-4f7e-9a57-3b8e2d4c1a90")

type ConflictQuery struct {
	EmployeeID string    `json:"employee_id"`
	Start      time.Time `json:"start_date"`
	End        time.Time `json:"end_date"`
	// ExcludeID is the allocation being edited. Its stored version is ignored.
	ExcludeID string `json:"exclude_allocation_id,omitempty"`
	// AllocatedHours adds the candidate's own demand to the capacity check. When only ExcludeID
	// is set the stored hours of that allocation are used.
	AllocatedHours      *float64 `json:"allocated_hours,omitempty"`
	IncludeAcknowledged bool     `json:"include_acknowledged"`
}

type detectedConflict struct {
	conflict    model.Conflict
	suggestions []string
}

// CheckConflicts reports the overlap and over-capacity conflicts a candidate range would have
// with the employee's active allocations. A query with neither ExcludeID nor AllocatedHours
// checks the stored allocations inside the range against each other instead. Repeated calls
// over unchanged data return the same conflicts with the same IDs.
func (e *Engine) CheckConflicts(ctx context.Context, q ConflictQuery) (model.ConflictReport, error) {
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger)
	log.Debug("Checking conflicts",
		zap.String("employee_id", q.EmployeeID),
		zap.Time("start", q.Start),
		zap.Time("end", q.End))

	report, err := e.checkConflicts(ctx, q)
	e.finish("check_conflicts", start, err)
	if err != nil {
		log.Warn("Conflict check failed", zap.String("employee_id", q.EmployeeID), zap.Error(err))
		return model.ConflictReport{}, err
	}

	log.Info("Conflicts checked",
		zap.String("employee_id", q.EmployeeID),
		zap.Int("conflicts", len(report.Conflicts)))
	return report, nil
}

func (e *Engine) checkConflicts(ctx context.Context, q ConflictQuery) (model.ConflictReport, error) {
	employeeID := strings.TrimSpace(q.EmployeeID)
	if employeeID == "" {
		return model.ConflictReport{}, invalid("employee_id", "employee id is required")
	}
	if err := interval.CheckBounds(q.Start, q.End); err != nil {
		return model.ConflictReport{}, invalid("date_range", "%v", err)
	}

	var hours *float64
	if q.AllocatedHours != nil {
		if err := checkHours("allocated_hours", *q.AllocatedHours); err != nil {
			return model.ConflictReport{}, err
		}
		hours = q.AllocatedHours
	}

	active, err := e.store.FindActiveAllocationsForEmployee(ctx, employeeID)
	if err != nil {
		return model.ConflictReport{}, err
	}

	var detected []detectedConflict
	if hours == nil && q.ExcludeID == "" {
		// 只有日期范围: 检查范围内已有分配之间的冲突
		detected, err = e.scan(ctx, employeeID, interval.Day(q.Start), interval.Day(q.End), without(active, ""))
	} else {
		candidate := model.Allocation{
			ID:         candidateRef,
			EmployeeID: employeeID,
			StartDate:  interval.Day(q.Start),
			EndDate:    interval.Day(q.End),
			Active:     true,
		}
		if q.ExcludeID != "" {
			candidate.ID = q.ExcludeID
			for _, a := range active {
				if a.ID == q.ExcludeID {
					candidate.AllocatedHours = a.AllocatedHours
				}
			}
		}
		if hours != nil {
			candidate.AllocatedHours = *hours
		}
		detected, err = e.detect(ctx, candidate, without(active, q.ExcludeID))
	}
	if err != nil {
		return model.ConflictReport{}, err
	}
	kept, err := e.record(ctx, detected, q.IncludeAcknowledged)
	if err != nil {
		return model.ConflictReport{}, err
	}

	report := model.ConflictReport{Conflicts: []model.Conflict{}, Suggestions: []string{}}
	seen := make(map[string]bool)
	for _, d := range kept {
		report.Conflicts = append(report.Conflicts, d.conflict)
		metrics.IncrementConflictDetected(string(d.conflict.Kind), string(d.conflict.Severity))
		for _, s := range d.suggestions {
			if !seen[s] {
				seen[s] = true
				report.Suggestions = append(report.Suggestions, s)
			}
		}
	}
	report.HasConflicts = len(report.Conflicts) > 0
	return report, nil
}

// record saves detected conflicts to the ledger and marks acknowledged ones.
// Acknowledged conflicts are dropped unless includeAcknowledged is set.
func (e *Engine) record(ctx context.Context, detected []detectedConflict, includeAcknowledged bool) ([]detectedConflict, error) {
	if len(detected) == 0 {
		return nil, nil
	}
	conflicts := make([]model.Conflict, 0, len(detected))
	ids := make([]string, 0, len(detected))
	for _, d := range detected {
		conflicts = append(conflicts, d.conflict)
		ids = append(ids, d.conflict.ID)
	}
	if err := e.ledger.SaveConflicts(ctx, conflicts); err != nil {
		return nil, fmt.Errorf("failed to record conflicts: %w", err)
	}
	acked, err := e.ledger.AcknowledgedIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load acknowledgements: %w", err)
	}

	out := make([]detectedConflict, 0, len(detected))
	for _, d := range detected {
		if acked[d.conflict.ID] {
			if !includeAcknowledged {
				continue
			}
			d.conflict.Acknowledged = true
		}
		out = append(out, d)
	}
	return out, nil
}

// detect builds the conflicts of candidate against siblings over the candidate's range.
// A candidate with zero hours takes part in overlap pairing but adds no demand.
func (e *Engine) detect(ctx context.Context, candidate model.Allocation, siblings []model.Allocation) ([]detectedConflict, error) {
	start, end := interval.Day(candidate.StartDate), interval.Day(candidate.EndDate)
	overlaps := overlapping(siblings, start, end)

	pool := append([]model.Allocation(nil), overlaps...)
	if candidate.AllocatedHours > 0 {
		pool = append(pool, candidate)
	}
	dm, err := e.buildDayModel(ctx, candidate.EmployeeID, start, end, pool)
	if err != nil {
		return nil, err
	}

	var out []detectedConflict
	for _, o := range overlaps {
		out = append(out, overlapConflict(dm, candidate, o))
	}
	if d, ok := capacityConflict(dm, candidate, pool, start, end); ok {
		out = append(out, d)
	}

	sortDetected(out)
	return out, nil
}

// scan pairs the stored allocations inside [start, end] with each other. An overlapping pair
// is reported once when their intersection touches the window.
func (e *Engine) scan(ctx context.Context, employeeID string, start, end time.Time, active []model.Allocation) ([]detectedConflict, error) {
	allocs := overlapping(active, start, end)
	dm, err := e.buildDayModel(ctx, employeeID, start, end, allocs)
	if err != nil {
		return nil, err
	}

	var out []detectedConflict
	for i := range allocs {
		for j := i + 1; j < len(allocs); j++ {
			ws, we, ok := interval.Intersect(allocs[i].StartDate, allocs[i].EndDate, allocs[j].StartDate, allocs[j].EndDate)
			if !ok || we.Before(start) || ws.After(end) {
				continue
			}
			out = append(out, overlapConflict(dm, allocs[j], allocs[i]))
		}
	}
	window := model.Allocation{ID: candidateRef, EmployeeID: employeeID, StartDate: start, EndDate: end}
	if d, ok := capacityConflict(dm, window, allocs, start, end); ok {
		out = append(out, d)
	}

	sortDetected(out)
	return out, nil
}

func sortDetected(out []detectedConflict) {
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].conflict, out[j].conflict
		if !a.WindowStart.Equal(b.WindowStart) {
			return a.WindowStart.Before(b.WindowStart)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
}

func overlapConflict(dm *dayModel, candidate, other model.Allocation) detectedConflict {
	ws, we, _ := interval.Intersect(candidate.StartDate, candidate.EndDate, other.StartDate, other.EndDate)
	rate := dm.peakRate(ws, we)
	severity := classifySeverity(rate)
	if severity == model.SeverityNone {
		severity = model.SeverityLow
	}

	ids := affectedIDs([]string{other.ID, candidate.ID})
	c := model.Conflict{
		Kind:            model.ConflictOverlap,
		Severity:        severity,
		EmployeeID:      candidate.EmployeeID,
		AllocationIDs:   ids,
		WindowStart:     ws,
		WindowEnd:       we,
		UtilizationRate: rate,
		Description: fmt.Sprintf("%s overlaps allocation %s from %s to %s (peak utilization %.0f%%)",
			describe(candidate), other.ID, interval.FormatDate(ws), interval.FormatDate(we), rate*100),
	}
	c.ID = conflictID(c)

	// 未保存的候选分配总是让步
	if candidate.ID == candidateRef {
		newStart := interval.Day(other.EndDate).AddDate(0, 0, 1)
		suggestion := fmt.Sprintf("Start %s on %s, after allocation %s ends",
			describe(candidate), interval.FormatDate(newStart), other.ID)
		return detectedConflict{conflict: c, suggestions: []string{suggestion}}
	}

	// the later-starting allocation moves to the day after the earlier one ends
	earlier, later := other, candidate
	if laterStart(other, candidate) {
		earlier, later = candidate, other
	}
	newStart := interval.Day(earlier.EndDate).AddDate(0, 0, 1)
	newEnd := newStart.AddDate(0, 0, later.Days()-1)

	suggestion := fmt.Sprintf("Reschedule %s to %s..%s, after allocation %s ends",
		describe(later), interval.FormatDate(newStart), interval.FormatDate(newEnd), earlier.ID)
	c.CanAutoResolve = true
	c.SuggestedResolution = &model.ConflictResolution{
		ConflictID:   c.ID,
		Kind:         model.ResolutionReschedule,
		AllocationID: later.ID,
		NewStartDate: &newStart,
		NewEndDate:   &newEnd,
	}
	return detectedConflict{conflict: c, suggestions: []string{suggestion}}
}

func capacityConflict(dm *dayModel, candidate model.Allocation, pool []model.Allocation, start, end time.Time) (detectedConflict, bool) {
	days := dm.violatingDays(start, end)
	if len(days) == 0 {
		return detectedConflict{}, false
	}

	peak := 0.0
	var refs []string
	for _, day := range days {
		peak = math.Max(peak, dm.rate(day))
		refs = append(refs, dm.contributors[day]...)
	}
	ws, we := days[0], days[len(days)-1]

	c := model.Conflict{
		Kind:            model.ConflictOverCapacity,
		Severity:        classifySeverity(peak),
		EmployeeID:      candidate.EmployeeID,
		AllocationIDs:   affectedIDs(refs),
		WindowStart:     ws,
		WindowEnd:       we,
		UtilizationRate: peak,
		Description: fmt.Sprintf("Employee %s is over capacity on %d day(s) between %s and %s (peak utilization %.0f%%)",
			candidate.EmployeeID, len(days), interval.FormatDate(ws), interval.FormatDate(we), peak*100),
	}
	c.ID = conflictID(c)

	target, ok := reductionTarget(dm, candidate, pool)
	if !ok {
		return detectedConflict{conflict: c}, true
	}

	var suggestions []string
	if hours, ok := fittingHours(dm, target, days); ok {
		suggestions = append(suggestions, fmt.Sprintf("Reduce %s to at most %.2f hours", describe(target), hours))
		if target.ID != candidateRef {
			h := hours
			c.SuggestedResolution = &model.ConflictResolution{
				ConflictID:        c.ID,
				Kind:              model.ResolutionReduceHours,
				AllocationID:      target.ID,
				NewAllocatedHours: &h,
			}
		}
	}
	if first := days[0]; first.After(interval.Day(target.StartDate)) && first.Before(interval.Day(target.EndDate)) {
		suggestions = append(suggestions, fmt.Sprintf("Split %s at %s", describe(target), interval.FormatDate(first)))
	}
	suggestions = append(suggestions, fmt.Sprintf("Reassign %s to an employee with available capacity", describe(target)))
	return detectedConflict{conflict: c, suggestions: suggestions}, true
}

// reductionTarget picks the allocation whose hours a reduce_hours suggestion should change:
// the candidate when it carries demand, otherwise the latest-starting contributor.
func reductionTarget(dm *dayModel, candidate model.Allocation, pool []model.Allocation) (model.Allocation, bool) {
	if candidate.AllocatedHours > 0 {
		return candidate, true
	}
	var target model.Allocation
	found := false
	for _, a := range pool {
		if _, ok := dm.hours[a.ID]; !ok {
			continue
		}
		if !found || laterStart(a, target) {
			target, found = a, true
		}
	}
	return target, found
}

// fittingHours returns the largest total for target, to the cent, that brings every
// violating day it covers under capacity.
func fittingHours(dm *dayModel, target model.Allocation, days []time.Time) (float64, bool) {
	daily := dm.hours[target.ID]
	allowed := math.Inf(1)
	for _, day := range days {
		if !target.Covers(day) {
			continue
		}
		allowed = math.Min(allowed, dm.available[day]-(dm.demand[day]-daily))
	}
	if math.IsInf(allowed, 1) || allowed <= 0 {
		return 0, false
	}
	hours := math.Floor(allowed*float64(target.Days())*100-1) / 100
	if hours <= 0 {
		return 0, false
	}
	return hours, true
}

// laterStart reports whether a starts after b, breaking ties by ID.
func laterStart(a, b model.Allocation) bool {
	as, bs := interval.Day(a.StartDate), interval.Day(b.StartDate)
	if !as.Equal(bs) {
		return as.After(bs)
	}
	return a.ID > b.ID
}

func affectedIDs(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	out := make([]string, 0, len(refs))
	for _, id := range refs {
		if id == "" || id == candidateRef || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func describe(a model.Allocation) string {
	if a.ID == candidateRef {
		return "the requested allocation"
	}
	return "allocation " + a.ID
}

// conflictID is a name-based UUID over what identifies the conflict. Severity and rate are
// left out so an acknowledgement survives a change in hours.
func conflictID(c model.Conflict) string {
	name := strings.Join([]string{
		string(c.Kind),
		c.EmployeeID,
		strings.Join(c.AllocationIDs, ","),
		interval.FormatDate(c.WindowStart),
		interval.FormatDate(c.WindowEnd),
	}, "|")
	return uuid.NewSHA1(conflictNamespace, []byte(name)).String()
}

// RecordedConflicts loads conflicts from the ledger by ID, in the order given.
func (e *Engine) RecordedConflicts(ctx context.Context, ids []string) ([]model.Conflict, error) {
	out := make([]model.Conflict, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, invalid("conflict_ids", "conflict id is required")
		}
		c, err := e.ledger.GetConflict(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
