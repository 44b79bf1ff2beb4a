package model

import "time"

type ConflictKind string

const (
	ConflictOverlap      ConflictKind = "overlap"
	ConflictOverCapacity ConflictKind = "over_capacity"
)

type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so the worst one can be picked.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Conflict is a computed view over allocations. Its ID is derived from its content so that
// repeated scans over unchanged data produce the same conflict.
type Conflict struct {
	ID                  string              `json:"id"`
	Kind                ConflictKind        `json:"kind"`
	Severity            Severity            `json:"severity"`
	EmployeeID          string              `json:"employee_id"`
	AllocationIDs       []string            `json:"allocation_ids"`
	WindowStart         time.Time           `json:"window_start"`
	WindowEnd           time.Time           `json:"window_end"`
	UtilizationRate     float64             `json:"utilization_rate"`
	Description         string              `json:"description"`
	CanAutoResolve      bool                `json:"can_auto_resolve"`
	SuggestedResolution *ConflictResolution `json:"suggested_resolution,omitempty"`
	Acknowledged        bool                `json:"acknowledged"`
}

type ResolutionKind string

const (
	ResolutionReschedule  ResolutionKind = "reschedule"
	ResolutionReduceHours ResolutionKind = "reduce_hours"
	ResolutionReassign    ResolutionKind = "reassign"
	ResolutionSplit       ResolutionKind = "split_allocation"
	ResolutionIgnore      ResolutionKind = "ignore"
)

func (k ResolutionKind) Valid() bool {
	switch k {
	case ResolutionReschedule, ResolutionReduceHours, ResolutionReassign, ResolutionSplit, ResolutionIgnore:
		return true
	}
	return false
}

type ResolutionState string

const (
	StatePending   ResolutionState = "pending"
	StateResolving ResolutionState = "resolving"
	StateResolved  ResolutionState = "resolved"
	StateFailed    ResolutionState = "failed"
)

// ConflictResolution is an action taken on a conflict. Only the parameters of its Kind are read.
type ConflictResolution struct {
	ConflictID        string         `json:"conflict_id"`
	Kind              ResolutionKind `json:"kind"`
	AllocationID      string         `json:"allocation_id,omitempty"`
	NewStartDate      *time.Time     `json:"new_start_date,omitempty"`
	NewEndDate        *time.Time     `json:"new_end_date,omitempty"`
	NewAllocatedHours *float64       `json:"new_allocated_hours,omitempty"`
	NewEmployeeID     *string        `json:"new_employee_id,omitempty"`
	SplitDate         *time.Time     `json:"split_date,omitempty"`
	Reason            *string        `json:"reason,omitempty"`
	AcceptRemaining   bool           `json:"accept_remaining"`
}

// ResolutionRecord is the history entry written once a resolution attempt finishes.
type ResolutionRecord struct {
	ID                   string             `json:"id"`
	Resolution           ConflictResolution `json:"resolution"`
	EmployeeID           string             `json:"employee_id"`
	State                ResolutionState    `json:"state"`
	AllocationIDs        []string           `json:"allocation_ids"`
	RemainingConflictIDs []string           `json:"remaining_conflict_ids"`
	ResolvedAt           time.Time          `json:"resolved_at"`
}

type ConflictReport struct {
	HasConflicts bool       `json:"has_conflicts"`
	Conflicts    []Conflict `json:"conflicts"`
	Suggestions  []string   `json:"suggestions"`
}

type ResolutionResult struct {
	Success            bool            `json:"success"`
	State              ResolutionState `json:"state"`
	RemainingConflicts []Conflict      `json:"remaining_conflicts"`
	Allocations        []Allocation    `json:"allocations,omitempty"`
}
