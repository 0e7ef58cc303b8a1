package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDraftNotFound indicates no draft exists for the given workflow.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrExecutionNotFound indicates an execution was not found by id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates an execution with the same id
	// already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrTerminalNodeExecution indicates a write against a node execution
	// that already reached a terminal status.
	ErrTerminalNodeExecution = errors.New("node execution already terminal")

	// ErrInvalidStatusTransition indicates a non-monotonic execution status
	// update.
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// DraftError wraps draft-related errors with operation context.
type DraftError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *DraftError) Error() string {
	return fmt.Sprintf("%s operation failed for draft %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *DraftError) Unwrap() error {
	return e.Err
}

func (e *DraftError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDraftError creates a new draft error with context.
func NewDraftError(op, workflowID string, err error) *DraftError {
	return &DraftError{Op: op, WorkflowID: workflowID, Err: err}
}

// ExecutionError wraps execution-related errors with operation context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s operation failed for node %s of execution %s: %v", e.Op, e.NodeID, e.ExecutionID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsDraftNotFound checks if an error indicates a missing draft.
func IsDraftNotFound(err error) bool {
	return errors.Is(err, ErrDraftNotFound)
}

// IsExecutionNotFound checks if an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}
