// Package web provides the HTTP surface of the edit-session service:
// operation submission, sync, locks, presence, execution start, and SSE
// event streams.
package web

import (
	"encoding/json"

	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/operations"
)

// SubmitOperationRequest is the wire form of one operation submission. The
// payload is validated against the operation kind's JSON schema before it is
// decoded.
type SubmitOperationRequest struct {
	Type      operations.Kind `json:"type"       validate:"required"`
	Payload   json.RawMessage `json:"payload"`
	UserID    string          `json:"user_id"    validate:"required"`
	ClientSeq uint64          `json:"client_seq"`
}

// LockRequest identifies the user acquiring or releasing a node lock.
type LockRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// PresenceRequest updates one user's presence entry. A nil FocusedNodeID
// leaves focus unchanged; an empty string clears it.
type PresenceRequest struct {
	SelectedNodeIDs []string `json:"selected_node_ids"`
	FocusedNodeID   *string  `json:"focused_node_id"`
}

// StartExecutionRequest starts a run of a workflow's current draft. Starting
// twice with the same execution id is idempotent.
type StartExecutionRequest struct {
	ExecutionID string               `json:"execution_id,omitempty"`
	WorkflowID  string               `json:"workflow_id"            validate:"required"`
	Type        models.ExecutionType `json:"type,omitempty"         validate:"omitempty,oneof=preview production partial"`
	TriggerData map[string]any       `json:"trigger_data,omitempty"`
}
