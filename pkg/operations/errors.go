// Package operations defines the typed draft mutation operations and the pure
// engine that applies them. Engine functions are deterministic and
// side-effect-free, which is what lets every subscriber replay the same
// operation stream and converge on an identical draft.
package operations

import (
	"errors"
	"fmt"
	"strings"
)

// Engine errors are plain return values, never panics. A failed apply leaves
// the input draft and overlay untouched.
var (
	// ErrDuplicateNode indicates an add_node with an id already in the draft.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrNodeNotFound indicates the target node is absent from the draft.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodesNotFound indicates connection endpoints missing from the draft.
	ErrNodesNotFound = errors.New("nodes not found")

	// ErrDuplicateConnection indicates an edge with the same source and
	// target already exists.
	ErrDuplicateConnection = errors.New("duplicate connection")

	// ErrConnectionNotFound indicates no matching edge exists.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrNodeNotPinned indicates an unpin for a node with no pinned output.
	ErrNodeNotPinned = errors.New("node not pinned")

	// ErrNodeNotDisabled indicates an enable for a node that is not disabled.
	ErrNodeNotDisabled = errors.New("node not disabled")

	// ErrUnknownOperation indicates an operation kind the engine does not
	// dispatch.
	ErrUnknownOperation = errors.New("unknown operation")
)

// MissingNodesError reports which connection endpoints did not resolve.
type MissingNodesError struct {
	NodeIDs []string
}

func (e *MissingNodesError) Error() string {
	return fmt.Sprintf("nodes not found: %s", strings.Join(e.NodeIDs, ", "))
}

func (e *MissingNodesError) Unwrap() error {
	return ErrNodesNotFound
}

// IsValidationError reports whether the error is an engine rejection, as
// opposed to an infrastructure failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrDuplicateNode) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrNodesNotFound) ||
		errors.Is(err, ErrDuplicateConnection) ||
		errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrNodeNotPinned) ||
		errors.Is(err, ErrNodeNotDisabled) ||
		errors.Is(err, ErrUnknownOperation)
}
