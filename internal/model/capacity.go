package model

import "time"

// CapacitySnapshot is the derived per-day demand of one employee.
type CapacitySnapshot struct {
	EmployeeID      string    `json:"employee_id"`
	Date            time.Time `json:"date"`
	AvailableHours  float64   `json:"available_hours"`
	AllocatedHours  float64   `json:"allocated_hours"`
	UtilizationRate float64   `json:"utilization_rate"`
	Contributors    []string  `json:"contributors,omitempty"`
}

type DayViolation struct {
	Date            time.Time `json:"date"`
	AvailableHours  float64   `json:"available_hours"`
	AllocatedHours  float64   `json:"allocated_hours"`
	UtilizationRate float64   `json:"utilization_rate"`
	Severity        Severity  `json:"severity"`
}

type CapacityValidationResult struct {
	IsValid               bool               `json:"is_valid"`
	Warnings              []string           `json:"warnings"`
	MaxCapacityHours      float64            `json:"max_capacity_hours"`
	CurrentAllocatedHours float64            `json:"current_allocated_hours"`
	UtilizationRate       float64            `json:"utilization_rate"`
	Severity              Severity           `json:"severity,omitempty"`
	Violations            []DayViolation     `json:"violations,omitempty"`
	Days                  []CapacitySnapshot `json:"days,omitempty"`
}

type UtilizationClass string

const (
	Overutilized  UtilizationClass = "overutilized"
	Underutilized UtilizationClass = "underutilized"
	Balanced      UtilizationClass = "balanced"
)

type EmployeeUtilization struct {
	EmployeeID      string           `json:"employee_id"`
	Department      string           `json:"department"`
	AllocatedHours  float64          `json:"allocated_hours"`
	AvailableHours  float64          `json:"available_hours"`
	UtilizationRate float64          `json:"utilization_rate"`
	Class           UtilizationClass `json:"class"`
	ConflictDays    int              `json:"conflict_days"`
}

type UtilizationSummary struct {
	Start                  time.Time             `json:"start"`
	End                    time.Time             `json:"end"`
	Department             string                `json:"department,omitempty"`
	TotalEmployees         int                   `json:"total_employees"`
	OverutilizedCount      int                   `json:"overutilized_count"`
	UnderutilizedCount     int                   `json:"underutilized_count"`
	BalancedCount          int                   `json:"balanced_count"`
	AverageUtilizationRate float64               `json:"average_utilization_rate"`
	TotalConflicts         int                   `json:"total_conflicts"`
	Employees              []EmployeeUtilization `json:"employees"`
}

// CapacityOverride replaces the default available hours of one employee on one day.
type CapacityOverride struct {
	EmployeeID     string    `json:"employee_id"`
	Date           time.Time `json:"date"`
	AvailableHours float64   `json:"available_hours"`
}
