package handler

import (
	"strings"
	"time"

	"staffplanner/internal/engine"
	"staffplanner/internal/interval"
	"staffplanner/internal/model"
)

// Dates travel as YYYY-MM-DD strings.

type allocationRequest struct {
	EmployeeID     string   `json:"employee_id"`
	ProjectID      string   `json:"project_id"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	AllocatedHours *float64 `json:"allocated_hours"`
	// HoursPerWeek is converted to a total when allocated_hours is absent.
	HoursPerWeek *float64 `json:"hours_per_week"`
	HourlyRate   *float64 `json:"hourly_rate"`
	Role         string   `json:"role"`
	Notes        *string  `json:"notes"`
}

func (r allocationRequest) toInput() (engine.AllocationInput, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return engine.AllocationInput{}, err
	}
	end, err := parseDate("end_date", r.EndDate)
	if err != nil {
		return engine.AllocationInput{}, err
	}
	hours, err := totalHours(r.AllocatedHours, r.HoursPerWeek, start, end)
	if err != nil {
		return engine.AllocationInput{}, err
	}
	return engine.AllocationInput{
		EmployeeID:     r.EmployeeID,
		ProjectID:      r.ProjectID,
		StartDate:      start,
		EndDate:        end,
		AllocatedHours: hours,
		HourlyRate:     r.HourlyRate,
		Role:           r.Role,
		Notes:          r.Notes,
	}, nil
}

type allocationPatchRequest struct {
	ProjectID      *string  `json:"project_id"`
	StartDate      *string  `json:"start_date"`
	EndDate        *string  `json:"end_date"`
	AllocatedHours *float64 `json:"allocated_hours"`
	HourlyRate     *float64 `json:"hourly_rate"`
	Role           *string  `json:"role"`
	ActualHours    *float64 `json:"actual_hours"`
	Notes          *string  `json:"notes"`
}

func (r allocationPatchRequest) toPatch() (engine.AllocationPatch, error) {
	start, err := parseOptionalDate("start_date", r.StartDate)
	if err != nil {
		return engine.AllocationPatch{}, err
	}
	end, err := parseOptionalDate("end_date", r.EndDate)
	if err != nil {
		return engine.AllocationPatch{}, err
	}
	return engine.AllocationPatch{
		ProjectID:      r.ProjectID,
		StartDate:      start,
		EndDate:        end,
		AllocatedHours: r.AllocatedHours,
		HourlyRate:     r.HourlyRate,
		Role:           r.Role,
		ActualHours:    r.ActualHours,
		Notes:          r.Notes,
	}, nil
}

type conflictCheckRequest struct {
	EmployeeID          string   `json:"employee_id"`
	StartDate           string   `json:"start_date"`
	EndDate             string   `json:"end_date"`
	ExcludeID           string   `json:"exclude_allocation_id"`
	AllocatedHours      *float64 `json:"allocated_hours"`
	HoursPerWeek        *float64 `json:"hours_per_week"`
	IncludeAcknowledged bool     `json:"include_acknowledged"`
}

func (r conflictCheckRequest) toQuery() (engine.ConflictQuery, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return engine.ConflictQuery{}, err
	}
	end, err := parseDate("end_date", r.EndDate)
	if err != nil {
		return engine.ConflictQuery{}, err
	}
	q := engine.ConflictQuery{
		EmployeeID:          r.EmployeeID,
		Start:               start,
		End:                 end,
		ExcludeID:           r.ExcludeID,
		IncludeAcknowledged: r.IncludeAcknowledged,
	}
	if r.AllocatedHours != nil || r.HoursPerWeek != nil {
		hours, err := totalHours(r.AllocatedHours, r.HoursPerWeek, start, end)
		if err != nil {
			return engine.ConflictQuery{}, err
		}
		q.AllocatedHours = &hours
	}
	return q, nil
}

type capacityRequest struct {
	EmployeeID     string   `json:"employee_id"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	AllocatedHours *float64 `json:"allocated_hours"`
	HoursPerWeek   *float64 `json:"hours_per_week"`
	ExcludeID      string   `json:"exclude_allocation_id"`
	Force          bool     `json:"force"`
}

func (r capacityRequest) toRequest() (engine.CapacityRequest, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return engine.CapacityRequest{}, err
	}
	end, err := parseDate("end_date", r.EndDate)
	if err != nil {
		return engine.CapacityRequest{}, err
	}
	hours, err := totalHours(r.AllocatedHours, r.HoursPerWeek, start, end)
	if err != nil {
		return engine.CapacityRequest{}, err
	}
	return engine.CapacityRequest{
		EmployeeID:     r.EmployeeID,
		AllocatedHours: hours,
		Start:          start,
		End:            end,
		ExcludeID:      r.ExcludeID,
		Force:          r.Force,
	}, nil
}

type resolveRequest struct {
	Kind              string   `json:"kind"`
	AllocationID      string   `json:"allocation_id"`
	NewStartDate      *string  `json:"new_start_date"`
	NewEndDate        *string  `json:"new_end_date"`
	NewAllocatedHours *float64 `json:"new_allocated_hours"`
	NewEmployeeID     *string  `json:"new_employee_id"`
	SplitDate         *string  `json:"split_date"`
	Reason            *string  `json:"reason"`
	AcceptRemaining   bool     `json:"accept_remaining"`
}

func (r resolveRequest) toResolution(conflictID string) (model.ConflictResolution, error) {
	newStart, err := parseOptionalDate("new_start_date", r.NewStartDate)
	if err != nil {
		return model.ConflictResolution{}, err
	}
	newEnd, err := parseOptionalDate("new_end_date", r.NewEndDate)
	if err != nil {
		return model.ConflictResolution{}, err
	}
	split, err := parseOptionalDate("split_date", r.SplitDate)
	if err != nil {
		return model.ConflictResolution{}, err
	}
	return model.ConflictResolution{
		ConflictID:        conflictID,
		Kind:              model.ResolutionKind(strings.TrimSpace(r.Kind)),
		AllocationID:      r.AllocationID,
		NewStartDate:      newStart,
		NewEndDate:        newEnd,
		NewAllocatedHours: r.NewAllocatedHours,
		NewEmployeeID:     r.NewEmployeeID,
		SplitDate:         split,
		Reason:            r.Reason,
		AcceptRemaining:   r.AcceptRemaining,
	}, nil
}

// autoResolveRequest selects conflicts either by id or by scanning an employee's range.
type autoResolveRequest struct {
	ConflictIDs []string `json:"conflict_ids"`
	EmployeeID  string   `json:"employee_id"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
}

type capacityOverrideRequest struct {
	AvailableHours *float64 `json:"available_hours"`
}

func parseDate(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, &engine.ValidationError{Field: field, Message: "is required"}
	}
	d, err := interval.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &engine.ValidationError{Field: field, Message: "must be a YYYY-MM-DD date"}
	}
	return d, nil
}

func parseOptionalDate(field string, s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseDate(field, *s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func totalHours(total, perWeek *float64, start, end time.Time) (float64, error) {
	switch {
	case total != nil:
		return *total, nil
	case perWeek != nil:
		return interval.HoursForWeeklyRate(*perWeek, start, end), nil
	}
	return 0, &engine.ValidationError{Field: "allocated_hours", Message: "allocated_hours or hours_per_week is required"}
}
