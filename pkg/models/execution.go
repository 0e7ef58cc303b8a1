package models

import "time"

// ExecutionType distinguishes how a run was requested.
type ExecutionType string

const (
	ExecutionTypePreview    ExecutionType = "preview"    // Editor-initiated run of the current draft
	ExecutionTypeProduction ExecutionType = "production" // Run of a published version
	ExecutionTypePartial    ExecutionType = "partial"    // Run of a subset of nodes
)

// ExecutionStatus is the lifecycle state of an execution. Transitions are
// monotonic: pending -> running -> completed | failed, no re-entry.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// CanTransitionTo reports whether moving to the target status is a legal
// forward transition.
func (s ExecutionStatus) CanTransitionTo(target ExecutionStatus) bool {
	switch s {
	case ExecutionStatusPending:
		return target == ExecutionStatusRunning || target == ExecutionStatusFailed
	case ExecutionStatusRunning:
		return target == ExecutionStatusCompleted || target == ExecutionStatusFailed
	default:
		return false
	}
}

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// Execution is one run of a workflow. Created once per run request; the
// status only moves forward.
type Execution struct {
	ID                string          `json:"id"          validate:"required"`
	WorkflowID        string          `json:"workflow_id" validate:"required"`
	WorkflowVersionID *string         `json:"workflow_version_id,omitempty"`
	Type              ExecutionType   `json:"type"        validate:"required,oneof=preview production partial"`
	TriggerData       map[string]any  `json:"trigger_data,omitempty"`
	Status            ExecutionStatus `json:"status"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
}

// Clone returns a deep copy. The runner mutates its execution record while
// it runs; callers holding a result of Start must see a stable snapshot.
func (e *Execution) Clone() *Execution {
	clone := *e

	if e.WorkflowVersionID != nil {
		versionID := *e.WorkflowVersionID
		clone.WorkflowVersionID = &versionID
	}

	if e.StartedAt != nil {
		startedAt := *e.StartedAt
		clone.StartedAt = &startedAt
	}

	if e.CompletedAt != nil {
		completedAt := *e.CompletedAt
		clone.CompletedAt = &completedAt
	}

	clone.TriggerData = cloneMap(e.TriggerData)
	clone.Metadata = cloneMap(e.Metadata)

	return &clone
}

// NodeStatus is the lifecycle state of a single node within an execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// IsTerminal reports whether the node status is final.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed
}

// NodeExecution is the per-node record of one execution. Once it reaches a
// terminal status it is never mutated again; repositories enforce this.
// Timestamps are non-decreasing: queued_at <= started_at <= completed_at.
type NodeExecution struct {
	ExecutionID string         `json:"execution_id" validate:"required"`
	NodeID      string         `json:"node_id"      validate:"required"`
	NodeType    string         `json:"node_type"`
	Status      NodeStatus     `json:"status"`
	InputData   map[string]any `json:"input_data,omitempty"`
	OutputData  map[string]any `json:"output_data,omitempty"`
	Error       string         `json:"error,omitempty"`
	QueuedAt    *time.Time     `json:"queued_at,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// DurationUs returns the node run time in microseconds, or zero while the
// node has not finished.
func (n *NodeExecution) DurationUs() int64 {
	if n.StartedAt == nil || n.CompletedAt == nil {
		return 0
	}

	return n.CompletedAt.Sub(*n.StartedAt).Microseconds()
}
