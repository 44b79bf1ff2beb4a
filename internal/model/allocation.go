package model

import (
	"time"

	"staffplanner/internal/interval"
)

// Allocation assigns part of an employee's time to a project over an inclusive date range.
// AllocatedHours is the total over the range, spread evenly over calendar days.
type Allocation struct {
	ID             string    `json:"id"`
	EmployeeID     string    `json:"employee_id"`
	ProjectID      string    `json:"project_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	AllocatedHours float64   `json:"allocated_hours"`
	HourlyRate     *float64  `json:"hourly_rate,omitempty"`
	Role           string    `json:"role"`
	Active         bool      `json:"active"`
	ActualHours    *float64  `json:"actual_hours,omitempty"`
	Notes          *string   `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DailyHours is the allocation's contribution to each covered day.
func (a Allocation) DailyHours() float64 {
	return interval.DailyHours(a.AllocatedHours, a.StartDate, a.EndDate)
}

func (a Allocation) Days() int {
	return interval.DayCount(a.StartDate, a.EndDate)
}

// Covers reports whether the allocation contributes hours on day.
func (a Allocation) Covers(day time.Time) bool {
	return a.Active && interval.Contains(a.StartDate, a.EndDate, day)
}

func (a Allocation) OverlapsRange(start, end time.Time) bool {
	return interval.Overlaps(a.StartDate, a.EndDate, start, end)
}

type Employee struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Active     bool   `json:"active"`
}
