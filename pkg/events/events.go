// Package events defines event types and structures for collaborative editing
// and execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/operations"
)

type EventType string

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

// Topic prefixes. Collaboration and execution streams are independent: edit
// operations are totally ordered per workflow, execution events per
// execution, with no ordering between the two.
const (
	collabTopicPrefix    = "loom.collab."
	presenceTopicPrefix  = "loom.presence."
	executionTopicPrefix = "loom.execution."
)

// CollabTopic is the edit-session broadcast topic for one workflow.
func CollabTopic(workflowID string) string {
	return collabTopicPrefix + workflowID
}

// PresenceTopic is the presence broadcast topic for one workflow.
func PresenceTopic(workflowID string) string {
	return presenceTopicPrefix + workflowID
}

// ExecutionTopic is the lifecycle broadcast topic for one execution.
func ExecutionTopic(executionID string) string {
	return executionTopicPrefix + executionID
}

const (
	// Edit-session events.
	OperationAppliedEvent EventType = "operation.applied"
	LockAcquiredEvent     EventType = "session.lock.acquired"
	LockReleasedEvent     EventType = "session.lock.released"

	// Presence events.
	PresenceUpdatedEvent EventType = "presence.updated"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionUpdatedEvent   EventType = "execution.updated"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	NodeStartedEvent        EventType = "node.started"
	NodeCompletedEvent      EventType = "node.completed"
	NodeFailedEvent         EventType = "node.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// OperationApplied is broadcast to every subscriber of a workflow's collab
// topic after the authority commits an operation. Seq is the authoritative
// position of the operation in the workflow's total order; subscribers must
// apply broadcasts in exact seq order and fall back to a full resync on gaps.
type OperationApplied struct {
	BaseEvent

	Operation *operations.Envelope    `json:"operation"`
	Patch     []operations.PatchEntry `json:"patch,omitempty"`
	Seq       uint64                  `json:"seq"`
}

func (e OperationApplied) GetType() EventType {
	return OperationAppliedEvent
}

type LockAcquired struct {
	BaseEvent

	NodeID    string    `json:"node_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e LockAcquired) GetType() EventType {
	return LockAcquiredEvent
}

type LockReleased struct {
	BaseEvent

	NodeID string `json:"node_id"`
	UserID string `json:"user_id"`
}

func (e LockReleased) GetType() EventType {
	return LockReleasedEvent
}

// PresenceUpdated carries the full presence roster for a workflow. It is
// best-effort: a lost update self-heals on the next one.
type PresenceUpdated struct {
	BaseEvent

	Users []*models.PresenceEntry `json:"users"`
}

func (e PresenceUpdated) GetType() EventType {
	return PresenceUpdatedEvent
}

// Execution lifecycle events

type ExecutionStarted struct {
	BaseEvent

	Execution *models.Execution `json:"execution"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionUpdated struct {
	BaseEvent

	Execution *models.Execution `json:"execution"`
}

func (e ExecutionUpdated) GetType() EventType {
	return ExecutionUpdatedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	Execution *models.Execution `json:"execution"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	Execution *models.Execution `json:"execution"`
	Error     string            `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type NodeStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	NodeTypeID  string         `json:"node_type_id"`
	QueuedAt    *time.Time     `json:"queued_at,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	InputData   map[string]any `json:"input_data,omitempty"`
}

func (e NodeStarted) GetType() EventType {
	return NodeStartedEvent
}

type NodeCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationUs  int64          `json:"duration_us"`
	OutputData  map[string]any `json:"output_data,omitempty"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type NodeFailed struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	CompletedAt time.Time `json:"completed_at"`
	DurationUs  int64     `json:"duration_us"`
	Error       string    `json:"error"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
