// Package presence tracks which users are connected to a workflow's edit
// session and what they have selected. Presence is ephemeral and
// best-effort: every change rebroadcasts the full roster, so a lost update
// self-heals on the next one.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/events"
	"github.com/loomhq/loom/pkg/models"
)

// DisconnectHook is invoked after a user's presence entry is removed. The
// session layer registers a hook that releases the user's node locks.
type DisconnectHook func(ctx context.Context, workflowID, userID string)

// Registry hands out one Tracker per workflow and carries the disconnect
// hooks shared by all of them.
type Registry struct {
	bus    eventbus.EventBus
	logger *slog.Logger

	mu       sync.Mutex
	trackers map[string]*Tracker
	hooks    []DisconnectHook
}

func NewRegistry(bus eventbus.EventBus, logger *slog.Logger) *Registry {
	return &Registry{
		bus:      bus,
		logger:   logger.With("module", "presence"),
		trackers: make(map[string]*Tracker),
	}
}

// OnDisconnect registers a hook invoked for every disconnect across all
// workflows. Register hooks before the first tracker is used.
func (r *Registry) OnDisconnect(hook DisconnectHook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hooks = append(r.hooks, hook)
}

// Tracker returns the tracker for the workflow, creating it on first use.
func (r *Registry) Tracker(workflowID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracker, ok := r.trackers[workflowID]
	if !ok {
		tracker = &Tracker{
			workflowID: workflowID,
			registry:   r,
			users:      make(map[string]*models.PresenceEntry),
		}
		r.trackers[workflowID] = tracker
	}

	return tracker
}

// Tracker holds the presence roster of one workflow.
type Tracker struct {
	workflowID string
	registry   *Registry

	mu    sync.RWMutex
	users map[string]*models.PresenceEntry
}

// UpdateSelection replaces the set of nodes the user has selected.
func (t *Tracker) UpdateSelection(ctx context.Context, userID string, nodeIDs []string) {
	t.mu.Lock()
	entry := t.entry(userID)
	entry.SelectedNodeIDs = append([]string(nil), nodeIDs...)
	entry.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()

	t.broadcast(ctx)
}

// UpdateFocus marks the node whose configuration the user is editing.
func (t *Tracker) UpdateFocus(ctx context.Context, userID, nodeID string) {
	t.mu.Lock()
	entry := t.entry(userID)
	entry.FocusedNodeID = &nodeID
	entry.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()

	t.broadcast(ctx)
}

// ClearFocus clears the user's focused node.
func (t *Tracker) ClearFocus(ctx context.Context, userID string) {
	t.mu.Lock()
	entry := t.entry(userID)
	entry.FocusedNodeID = nil
	entry.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()

	t.broadcast(ctx)
}

// Disconnect removes the user from the roster and runs the registered
// disconnect hooks. Disconnecting an unknown user is a no-op.
func (t *Tracker) Disconnect(ctx context.Context, userID string) {
	t.mu.Lock()
	_, known := t.users[userID]
	delete(t.users, userID)
	t.mu.Unlock()

	if !known {
		return
	}

	t.broadcast(ctx)

	t.registry.mu.Lock()
	hooks := append([]DisconnectHook(nil), t.registry.hooks...)
	t.registry.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx, t.workflowID, userID)
	}
}

// Users returns the roster sorted by user id.
func (t *Tracker) Users() []*models.PresenceEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.roster()
}

// entry must be called with the write lock held.
func (t *Tracker) entry(userID string) *models.PresenceEntry {
	entry, ok := t.users[userID]
	if !ok {
		entry = &models.PresenceEntry{UserID: userID}
		t.users[userID] = entry
	}

	return entry
}

// roster must be called with at least the read lock held.
func (t *Tracker) roster() []*models.PresenceEntry {
	users := make([]*models.PresenceEntry, 0, len(t.users))
	for _, entry := range t.users {
		copied := *entry
		copied.SelectedNodeIDs = append([]string(nil), entry.SelectedNodeIDs...)
		users = append(users, &copied)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })

	return users
}

func (t *Tracker) broadcast(ctx context.Context) {
	t.mu.RLock()
	users := t.roster()
	t.mu.RUnlock()

	event := &events.PresenceUpdated{
		BaseEvent: events.NewBaseEvent(events.PresenceUpdatedEvent, t.workflowID),
		Users:     users,
	}

	if err := t.registry.bus.Publish(ctx, events.PresenceTopic(t.workflowID), t.workflowID, event); err != nil {
		t.registry.logger.Warn("Failed to publish presence update",
			"workflow_id", t.workflowID, "error", err)
	}
}
