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

// GetUtilizationSummary rolls allocated against available hours up per employee over
// [start, end], optionally for one department.
func (e *Engine) GetUtilizationSummary(ctx context.Context, start, end time.Time, department string) (model.UtilizationSummary, error) {
	began := time.Now()
	log := logger.WithTrace(ctx, e.logger)
	log.Debug("Building utilization summary",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.String("department", department))

	summary, err := e.utilizationSummary(ctx, start, end, strings.TrimSpace(department))
	e.finish("utilization_summary", began, err)
	if err != nil {
		log.Error("Failed to build utilization summary", zap.Error(err))
		return model.UtilizationSummary{}, err
	}

	log.Info("Utilization summary built",
		zap.Int("employees", summary.TotalEmployees),
		zap.Int("conflicts", summary.TotalConflicts))
	return summary, nil
}

func (e *Engine) utilizationSummary(ctx context.Context, start, end time.Time, department string) (model.UtilizationSummary, error) {
	if err := interval.CheckBounds(start, end); err != nil {
		return model.UtilizationSummary{}, invalid("date_range", "%v", err)
	}
	start, end = interval.Day(start), interval.Day(end)

	employees, err := e.employees.ListEmployees(ctx, department)
	if err != nil {
		return model.UtilizationSummary{}, err
	}
	sort.Slice(employees, func(i, j int) bool { return employees[i].ID < employees[j].ID })

	summary := model.UtilizationSummary{
		Start:      start,
		End:        end,
		Department: department,
		Employees:  make([]model.EmployeeUtilization, 0, len(employees)),
	}
	total := 0.0
	for _, emp := range employees {
		u, err := e.employeeUtilization(ctx, emp, start, end)
		if err != nil {
			return model.UtilizationSummary{}, err
		}
		summary.Employees = append(summary.Employees, u)
		total += u.UtilizationRate
		summary.TotalConflicts += u.ConflictDays
		switch u.Class {
		case model.Overutilized:
			summary.OverutilizedCount++
		case model.Underutilized:
			summary.UnderutilizedCount++
		default:
			summary.BalancedCount++
		}
	}
	summary.TotalEmployees = len(summary.Employees)
	if summary.TotalEmployees > 0 {
		summary.AverageUtilizationRate = total / float64(summary.TotalEmployees)
	}
	return summary, nil
}

func (e *Engine) employeeUtilization(ctx context.Context, emp model.Employee, start, end time.Time) (model.EmployeeUtilization, error) {
	active, err := e.store.FindActiveAllocationsForEmployee(ctx, emp.ID)
	if err != nil {
		return model.EmployeeUtilization{}, err
	}
	dm, err := e.buildDayModel(ctx, emp.ID, start, end, overlapping(active, start, end))
	if err != nil {
		return model.EmployeeUtilization{}, err
	}

	u := model.EmployeeUtilization{EmployeeID: emp.ID, Department: emp.Department}
	for _, day := range dm.days {
		u.AllocatedHours += dm.demand[day]
		u.AvailableHours += dm.available[day]
		if dm.rate(day) >= 1.0 {
			u.ConflictDays++
		}
	}
	u.UtilizationRate = utilizationRate(u.AllocatedHours, u.AvailableHours)

	switch {
	case u.UtilizationRate > e.cfg.OverutilizedThreshold:
		u.Class = model.Overutilized
	case u.UtilizationRate < e.cfg.UnderutilizedThreshold:
		u.Class = model.Underutilized
	default:
		u.Class = model.Balanced
	}
	return u, nil
}
