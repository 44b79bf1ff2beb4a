package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"staffplanner/internal/interval"
	"staffplanner/internal/model"
	"staffplanner/pkg/logger"
	"staffplanner/pkg/metrics"
)

// candidateRef stands in for an allocation that has not been persisted yet.
const candidateRef = "candidate"

type CapacityRequest struct {
	EmployeeID     string    `json:"employee_id"`
	AllocatedHours float64   `json:"allocated_hours"`
	Start          time.Time `json:"start_date"`
	End            time.Time `json:"end_date"`
	ExcludeID      string    `json:"exclude_allocation_id,omitempty"`
	Force          bool      `json:"force"`
}

// ValidateCapacity checks whether adding AllocatedHours over [Start, End] keeps the employee
// under capacity on every day. The representative figures come from the worst day.
func (e *Engine) ValidateCapacity(ctx context.Context, req CapacityRequest) (model.CapacityValidationResult, error) {
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger)
	log.Debug("Validating capacity",
		zap.String("employee_id", req.EmployeeID),
		zap.Float64("allocated_hours", req.AllocatedHours))

	result, err := e.validateCapacity(ctx, req)
	e.finish("validate_capacity", start, err)
	if err != nil {
		log.Warn("Capacity validation failed", zap.String("employee_id", req.EmployeeID), zap.Error(err))
		return model.CapacityValidationResult{}, err
	}

	log.Info("Capacity validated",
		zap.String("employee_id", req.EmployeeID),
		zap.Bool("is_valid", result.IsValid),
		zap.Float64("utilization_rate", result.UtilizationRate))
	return result, nil
}

func (e *Engine) validateCapacity(ctx context.Context, req CapacityRequest) (model.CapacityValidationResult, error) {
	employeeID := strings.TrimSpace(req.EmployeeID)
	if employeeID == "" {
		return model.CapacityValidationResult{}, invalid("employee_id", "employee id is required")
	}
	if err := checkHours("allocated_hours", req.AllocatedHours); err != nil {
		return model.CapacityValidationResult{}, err
	}
	if err := interval.CheckBounds(req.Start, req.End); err != nil {
		return model.CapacityValidationResult{}, invalid("date_range", "%v", err)
	}

	active, err := e.store.FindActiveAllocationsForEmployee(ctx, employeeID)
	if err != nil {
		return model.CapacityValidationResult{}, err
	}

	id := req.ExcludeID
	if id == "" {
		id = candidateRef
	}
	candidate := model.Allocation{
		ID:             id,
		EmployeeID:     employeeID,
		StartDate:      interval.Day(req.Start),
		EndDate:        interval.Day(req.End),
		AllocatedHours: req.AllocatedHours,
		Active:         true,
	}
	return e.evaluateCapacity(ctx, candidate, without(active, req.ExcludeID), req.Force)
}

// evaluateCapacity expands candidate plus every intersecting sibling day by day.
func (e *Engine) evaluateCapacity(ctx context.Context, candidate model.Allocation, siblings []model.Allocation, force bool) (model.CapacityValidationResult, error) {
	pool := append(overlapping(siblings, candidate.StartDate, candidate.EndDate), candidate)
	dm, err := e.buildDayModel(ctx, candidate.EmployeeID, candidate.StartDate, candidate.EndDate, pool)
	if err != nil {
		return model.CapacityValidationResult{}, err
	}

	result := model.CapacityValidationResult{Days: dm.snapshots()}
	worst := -1
	for i, day := range result.Days {
		if worst < 0 || day.UtilizationRate > result.Days[worst].UtilizationRate {
			worst = i
		}
		if day.UtilizationRate >= 1.0 {
			result.Violations = append(result.Violations, model.DayViolation{
				Date:            day.Date,
				AvailableHours:  day.AvailableHours,
				AllocatedHours:  day.AllocatedHours,
				UtilizationRate: day.UtilizationRate,
				Severity:        classifySeverity(day.UtilizationRate),
			})
		}
	}
	if worst >= 0 {
		w := result.Days[worst]
		result.MaxCapacityHours = w.AvailableHours
		result.CurrentAllocatedHours = w.AllocatedHours
		result.UtilizationRate = w.UtilizationRate
		result.Severity = classifySeverity(w.UtilizationRate)
	}

	result.Warnings = violationWarnings(result.Violations)
	switch {
	case len(result.Violations) == 0:
		result.IsValid = true
		metrics.IncrementCapacityValidation("valid")
	case force:
		result.IsValid = true
		result.Warnings = append(result.Warnings, "capacity exceeded; accepted because force was set")
		metrics.IncrementCapacityValidation("forced")
	default:
		metrics.IncrementCapacityValidation("invalid")
	}
	return result, nil
}

// classifySeverity maps a utilization rate onto the severity scale. Rates under 1.0 have none.
func classifySeverity(rate float64) model.Severity {
	switch {
	case rate >= 1.3:
		return model.SeverityCritical
	case rate >= 1.1:
		return model.SeverityHigh
	case rate >= 1.0:
		return model.SeverityMedium
	default:
		return model.SeverityNone
	}
}

func violationWarnings(violations []model.DayViolation) []string {
	if len(violations) == 0 {
		return nil
	}
	var warnings []string
	i := 0
	for i < len(violations) {
		j := i
		peak := violations[i]
		for j+1 < len(violations) && violations[j].Date.AddDate(0, 0, 1).Equal(violations[j+1].Date) {
			j++
			if violations[j].UtilizationRate > peak.UtilizationRate {
				peak = violations[j]
			}
		}
		warnings = append(warnings, fmt.Sprintf("%s to %s: %.2fh allocated of %.2fh available (%.0f%% utilization, %s)",
			interval.FormatDate(violations[i].Date), interval.FormatDate(violations[j].Date),
			peak.AllocatedHours, peak.AvailableHours, peak.UtilizationRate*100, peak.Severity))
		i = j + 1
	}
	return warnings
}

// dayModel is the per-day demand and capacity of one employee over a window.
type dayModel struct {
	employeeID   string
	days         []time.Time
	available    map[time.Time]float64
	demand       map[time.Time]float64
	contributors map[time.Time][]string
	hours        map[string]float64 // daily hours per contributing allocation
}

func (e *Engine) buildDayModel(ctx context.Context, employeeID string, start, end time.Time, allocs []model.Allocation) (*dayModel, error) {
	start, end = interval.Day(start), interval.Day(end)
	overrides, err := e.capacity.FindDailyCapacityOverrides(ctx, employeeID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load capacity overrides: %w", err)
	}

	dm := &dayModel{
		employeeID:   employeeID,
		days:         interval.DaysInRange(start, end),
		available:    make(map[time.Time]float64),
		demand:       make(map[time.Time]float64),
		contributors: make(map[time.Time][]string),
		hours:        make(map[string]float64),
	}
	for _, day := range dm.days {
		if v, ok := overrides[day]; ok {
			dm.available[day] = v
		} else {
			dm.available[day] = e.cfg.DefaultDailyCapacity
		}
	}

	for _, a := range allocs {
		if !a.Active {
			continue
		}
		ws, we, ok := interval.Intersect(a.StartDate, a.EndDate, start, end)
		if !ok {
			continue
		}
		daily := a.DailyHours()
		dm.hours[a.ID] = daily
		for _, day := range interval.DaysInRange(ws, we) {
			dm.demand[day] += daily
			dm.contributors[day] = append(dm.contributors[day], a.ID)
		}
	}
	for _, ids := range dm.contributors {
		sort.Strings(ids)
	}
	return dm, nil
}

func (dm *dayModel) rate(day time.Time) float64 {
	return utilizationRate(dm.demand[day], dm.available[day])
}

func (dm *dayModel) snapshots() []model.CapacitySnapshot {
	out := make([]model.CapacitySnapshot, 0, len(dm.days))
	for _, day := range dm.days {
		out = append(out, model.CapacitySnapshot{
			EmployeeID:      dm.employeeID,
			Date:            day,
			AvailableHours:  dm.available[day],
			AllocatedHours:  dm.demand[day],
			UtilizationRate: dm.rate(day),
			Contributors:    dm.contributors[day],
		})
	}
	return out
}

// violatingDays returns the days in [start, end] at or above full utilization.
func (dm *dayModel) violatingDays(start, end time.Time) []time.Time {
	var out []time.Time
	for _, day := range dm.days {
		if interval.Contains(start, end, day) && dm.rate(day) >= 1.0 {
			out = append(out, day)
		}
	}
	return out
}

func (dm *dayModel) peakRate(start, end time.Time) float64 {
	peak := 0.0
	for _, day := range dm.days {
		if interval.Contains(start, end, day) {
			peak = math.Max(peak, dm.rate(day))
		}
	}
	return peak
}

// utilizationRate is rounded to 1e-6 so that an allocation filling a day exactly lands on 1.0.
func utilizationRate(demand, available float64) float64 {
	if available <= 0 {
		if demand > 0 {
			return ZeroCapacityRate
		}
		return 0
	}
	return math.Round(demand/available*1e6) / 1e6
}

// SetCapacityOverride records how many hours an employee is available on one day. Zero marks
// a day off. Later checks over that day use the override instead of the default.
func (e *Engine) SetCapacityOverride(ctx context.Context, employeeID string, day time.Time, hours float64) (model.CapacityOverride, error) {
	start := time.Now()
	log := logger.WithTrace(ctx, e.logger)

	override, err := e.setCapacityOverride(ctx, employeeID, day, hours)
	e.finish("set_capacity_override", start, err)
	if err != nil {
		log.Warn("Capacity override rejected", zap.String("employee_id", employeeID), zap.Error(err))
		return model.CapacityOverride{}, err
	}

	log.Info("Capacity override set",
		zap.String("employee_id", override.EmployeeID),
		zap.String("date", interval.FormatDate(override.Date)),
		zap.Float64("available_hours", override.AvailableHours))
	return override, nil
}

func (e *Engine) setCapacityOverride(ctx context.Context, employeeID string, day time.Time, hours float64) (model.CapacityOverride, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return model.CapacityOverride{}, invalid("employee_id", "employee id is required")
	}
	if day.IsZero() {
		return model.CapacityOverride{}, invalid("date", "date is required")
	}
	if math.IsNaN(hours) || hours < 0 || hours > 24 {
		return model.CapacityOverride{}, invalid("available_hours", "must be between 0 and 24, got %v", hours)
	}
	if e.overrides == nil {
		return model.CapacityOverride{}, ErrCapacityReadOnly
	}
	if _, err := e.employees.GetEmployee(ctx, employeeID); err != nil {
		return model.CapacityOverride{}, err
	}

	day = interval.Day(day)
	if err := e.overrides.SetDailyCapacity(ctx, employeeID, day, hours); err != nil {
		return model.CapacityOverride{}, fmt.Errorf("failed to set capacity of %s: %w", employeeID, err)
	}
	return model.CapacityOverride{EmployeeID: employeeID, Date: day, AvailableHours: hours}, nil
}
