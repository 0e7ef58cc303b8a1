package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/pkg/channels/gochannel"
	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := newTestBus(t)

	received, err := bus.Subscribe(ctx, events.CollabTopic("wf-1"))
	require.NoError(t, err)

	event := events.LockAcquired{
		BaseEvent: events.NewBaseEvent(events.LockAcquiredEvent, "wf-1"),
		NodeID:    "a",
		UserID:    "user-1",
	}

	require.NoError(t, bus.Publish(ctx, events.CollabTopic("wf-1"), "wf-1", event))

	select {
	case envelope := <-received:
		assert.Equal(t, events.LockAcquiredEvent, envelope.Type)
		assert.Equal(t, "wf-1", envelope.Key)

		decoded, ok := envelope.Event.(*events.LockAcquired)
		require.True(t, ok)
		assert.Equal(t, "a", decoded.NodeID)
		assert.Equal(t, "user-1", decoded.UserID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_TopicsAreIndependent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := newTestBus(t)

	wf1, err := bus.Subscribe(ctx, events.CollabTopic("wf-1"))
	require.NoError(t, err)

	wf2, err := bus.Subscribe(ctx, events.CollabTopic("wf-2"))
	require.NoError(t, err)

	event := events.LockReleased{
		BaseEvent: events.NewBaseEvent(events.LockReleasedEvent, "wf-2"),
		NodeID:    "a",
		UserID:    "user-1",
	}

	require.NoError(t, bus.Publish(ctx, events.CollabTopic("wf-2"), "wf-2", event))

	select {
	case envelope := <-wf2:
		assert.Equal(t, events.LockReleasedEvent, envelope.Type)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	select {
	case envelope := <-wf1:
		t.Fatalf("unexpected event on wf-1 topic: %+v", envelope)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatermillEventBus_PreservesEmissionOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := newTestBus(t)

	received, err := bus.Subscribe(ctx, events.ExecutionTopic("ex-1"))
	require.NoError(t, err)

	for _, nodeID := range []string{"a", "b", "c"} {
		event := events.NodeStarted{
			BaseEvent:   events.NewBaseEvent(events.NodeStartedEvent, "wf-1"),
			ExecutionID: "ex-1",
			NodeID:      nodeID,
			StartedAt:   time.Now().UTC(),
		}
		require.NoError(t, bus.Publish(ctx, events.ExecutionTopic("ex-1"), "ex-1", event))
	}

	for _, want := range []string{"a", "b", "c"} {
		select {
		case envelope := <-received:
			decoded, ok := envelope.Event.(*events.NodeStarted)
			require.True(t, ok)
			assert.Equal(t, want, decoded.NodeID)
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
