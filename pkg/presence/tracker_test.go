package presence

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/pkg/channels/gochannel"
	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/events"
)

func newTestRegistry(t *testing.T) (*Registry, eventbus.EventBus) {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return NewRegistry(bus, slog.Default()), bus
}

func TestTracker_SelectionAndFocus(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)
	tracker := registry.Tracker("wf-1")

	tracker.UpdateSelection(ctx, "alice", []string{"n1", "n2"})
	tracker.UpdateFocus(ctx, "alice", "n1")
	tracker.UpdateSelection(ctx, "bob", []string{"n3"})

	users := tracker.Users()
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].UserID)
	assert.Equal(t, []string{"n1", "n2"}, users[0].SelectedNodeIDs)
	require.NotNil(t, users[0].FocusedNodeID)
	assert.Equal(t, "n1", *users[0].FocusedNodeID)
	assert.Equal(t, "bob", users[1].UserID)

	tracker.ClearFocus(ctx, "alice")
	assert.Nil(t, tracker.Users()[0].FocusedNodeID)
}

func TestTracker_DisconnectRunsHooks(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	var (
		mu    sync.Mutex
		calls []string
	)

	registry.OnDisconnect(func(_ context.Context, workflowID, userID string) {
		mu.Lock()
		calls = append(calls, workflowID+"/"+userID)
		mu.Unlock()
	})

	tracker := registry.Tracker("wf-1")
	tracker.UpdateSelection(ctx, "alice", []string{"n1"})
	tracker.Disconnect(ctx, "alice")

	assert.Empty(t, tracker.Users())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"wf-1/alice"}, calls)
}

func TestTracker_DisconnectUnknownUserIsNoOp(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	hookCalled := false

	registry.OnDisconnect(func(context.Context, string, string) {
		hookCalled = true
	})

	registry.Tracker("wf-1").Disconnect(ctx, "ghost")

	assert.False(t, hookCalled)
}

func TestTracker_BroadcastsRoster(t *testing.T) {
	ctx := context.Background()
	registry, bus := newTestRegistry(t)

	ch, err := bus.Subscribe(ctx, events.PresenceTopic("wf-1"))
	require.NoError(t, err)

	registry.Tracker("wf-1").UpdateSelection(ctx, "alice", []string{"n1"})

	select {
	case env := <-ch:
		updated, ok := env.Event.(*events.PresenceUpdated)
		require.True(t, ok)
		require.Len(t, updated.Users, 1)
		assert.Equal(t, "alice", updated.Users[0].UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence.updated broadcast")
	}
}

func TestRegistry_TrackerPerWorkflow(t *testing.T) {
	registry, _ := newTestRegistry(t)

	assert.Same(t, registry.Tracker("wf-1"), registry.Tracker("wf-1"))
	assert.NotSame(t, registry.Tracker("wf-1"), registry.Tracker("wf-2"))
}
