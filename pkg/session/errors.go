package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by every authority method after the
	// session's context was cancelled or its loop died.
	ErrSessionClosed = errors.New("session closed")

	// ErrNodeLocked reports that a mutating operation or lock acquisition
	// hit a node locked by another user.
	ErrNodeLocked = errors.New("node locked by another user")
)

// LockedError carries the identity of the lock holder so callers can surface
// who is blocking them.
type LockedError struct {
	NodeID   string
	HolderID string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("node %q is locked by %q", e.NodeID, e.HolderID)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrNodeLocked
}

// IsLocked reports whether err is a lock conflict.
func IsLocked(err error) bool {
	return errors.Is(err, ErrNodeLocked)
}
