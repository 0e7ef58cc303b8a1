package models

import "time"

// DefaultLockLease is how long a node lock stays valid without being
// refreshed. A disconnected holder's lock is normally released by the
// presence disconnect hook; the lease is the backstop for the case where
// that hook never fires.
const DefaultLockLease = 2 * time.Minute

// NodeLock records exclusive edit ownership of one node. At most one holder
// per node; acquiring an already-held lock fails rather than queuing.
type NodeLock struct {
	NodeID     string    `json:"node_id"`
	UserID     string    `json:"user_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lease has lapsed at the given instant.
func (l *NodeLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// PresenceEntry is one connected user's ephemeral editor state: what they
// have selected and which node they are actively editing. Removed when the
// user disconnects; nothing authoritative depends on it.
type PresenceEntry struct {
	UserID          string    `json:"user_id"`
	SelectedNodeIDs []string  `json:"selected_node_ids,omitempty"`
	FocusedNodeID   *string   `json:"focused_node_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}
