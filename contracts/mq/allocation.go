package mq

import "time"

// Routing keys on the events exchange.
const (
	RoutingAllocationCreated     = "allocation.created"
	RoutingAllocationUpdated     = "allocation.updated"
	RoutingAllocationDeactivated = "allocation.deactivated"
	RoutingConflictResolved      = "conflict.resolved"
	RoutingConflictAcknowledged  = "conflict.acknowledged"
)

// Aggregate types stored with outbox rows.
const (
	AggregateAllocation = "allocation"
	AggregateConflict   = "conflict"
)

// AllocationEventPayload 分配变更事件的 payload
type AllocationEventPayload struct {
	AllocationID   string    `json:"allocation_id"`
	EmployeeID     string    `json:"employee_id"`
	ProjectID      string    `json:"project_id"`
	StartDate      string    `json:"start_date"`
	EndDate        string    `json:"end_date"`
	AllocatedHours float64   `json:"allocated_hours"`
	Role           string    `json:"role,omitempty"`
	Active         bool      `json:"active"`
	OccurredAt     time.Time `json:"occurred_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// ConflictResolvedPayload 冲突处理结束（resolved 或 failed）
type ConflictResolvedPayload struct {
	ConflictID           string    `json:"conflict_id"`
	EmployeeID           string    `json:"employee_id"`
	Resolution           string    `json:"resolution"`
	State                string    `json:"state"`
	AllocationIDs        []string  `json:"allocation_ids"`
	RemainingConflictIDs []string  `json:"remaining_conflict_ids"`
	ResolvedAt           time.Time `json:"resolved_at"`
	TraceID              string    `json:"trace_id,omitempty"`
}

// ConflictAcknowledgedPayload 冲突被标记为忽略
type ConflictAcknowledgedPayload struct {
	ConflictID     string    `json:"conflict_id"`
	Reason         string    `json:"reason,omitempty"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}
