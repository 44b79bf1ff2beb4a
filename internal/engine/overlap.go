package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"staffplanner/internal/interval"
	"staffplanner/internal/model"
	"staffplanner/pkg/logger"
)

// FindOverlaps lists the employee's active allocations that share at least one day with
// [start, end], ordered by start date then ID. excludeID drops the allocation being edited.
// The result is advisory; commits re-check inside their own transaction.
func (e *Engine) FindOverlaps(ctx context.Context, employeeID string, start, end time.Time, excludeID string) ([]model.Allocation, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, invalid("employee_id", "employee id is required")
	}
	if err := interval.CheckBounds(start, end); err != nil {
		return nil, invalid("date_range", "%v", err)
	}

	active, err := e.store.FindActiveAllocationsForEmployee(ctx, employeeID)
	if err != nil {
		logger.WithTrace(ctx, e.logger).Error("Failed to load allocations",
			zap.String("employee_id", employeeID), zap.Error(err))
		return nil, err
	}
	return overlapping(without(active, excludeID), start, end), nil
}

func overlapping(allocs []model.Allocation, start, end time.Time) []model.Allocation {
	var out []model.Allocation
	for _, a := range allocs {
		if a.Active && a.OverlapsRange(start, end) {
			out = append(out, a)
		}
	}
	sortAllocations(out)
	return out
}

func sortAllocations(allocs []model.Allocation) {
	sort.SliceStable(allocs, func(i, j int) bool {
		si, sj := interval.Day(allocs[i].StartDate), interval.Day(allocs[j].StartDate)
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return allocs[i].ID < allocs[j].ID
	})
}
