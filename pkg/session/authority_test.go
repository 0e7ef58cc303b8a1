package session

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
	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/operations"
	"github.com/loomhq/loom/pkg/persistence/file"
	"github.com/loomhq/loom/pkg/testutil"
)

func newTestAuthority(t *testing.T, draft *models.Draft) (*Authority, eventbus.EventBus) {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	persist := file.NewPersistence(t.TempDir())

	authority := newAuthority(draft.WorkflowID, draft, 0, bus, persist.Drafts(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go authority.run(ctx)

	return authority, bus
}

func mustEncode(t *testing.T, op operations.Operation) *operations.Envelope {
	t.Helper()

	env, err := operations.Encode(op)
	require.NoError(t, err)

	return env
}

func TestAuthority_ApplyOperationAssignsSequence(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1")
	authority, _ := newTestAuthority(t, draft)

	first, err := authority.ApplyOperation(ctx, mustEncode(t, operations.AddNode{
		Base: operations.Base{UserID: "alice"},
		Node: testutil.CreateTestNode(testutil.WithNodeID("n1")),
	}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Seq)

	second, err := authority.ApplyOperation(ctx, mustEncode(t, operations.UpdateNodePosition{
		Base:     operations.Base{UserID: "alice"},
		NodeID:   "n1",
		Position: models.Position{X: 10, Y: 20},
	}))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestAuthority_RejectedOperationDoesNotAdvanceSequence(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1", testutil.CreateTestNode(testutil.WithNodeID("n1")))
	authority, _ := newTestAuthority(t, draft)

	_, err := authority.ApplyOperation(ctx, mustEncode(t, operations.RemoveNode{
		Base:   operations.Base{UserID: "alice"},
		NodeID: "missing",
	}))
	require.ErrorIs(t, err, operations.ErrNodeNotFound)

	state, err := authority.SyncState(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), state.Seq)
	require.Len(t, state.Draft.Nodes, 1)
}

func TestAuthority_LockBlocksForeignMutation(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1", testutil.CreateTestNode(testutil.WithNodeID("n1")))
	authority, _ := newTestAuthority(t, draft)

	_, err := authority.AcquireNodeLock(ctx, "n1", "alice")
	require.NoError(t, err)

	_, err = authority.ApplyOperation(ctx, mustEncode(t, operations.UpdateNodeConfig{
		Base:   operations.Base{UserID: "bob"},
		NodeID: "n1",
		Config: map[string]any{"expression": "changed"},
	}))
	require.Error(t, err)
	assert.True(t, IsLocked(err))

	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "alice", locked.HolderID)

	// The holder can still mutate.
	applied, err := authority.ApplyOperation(ctx, mustEncode(t, operations.UpdateNodeConfig{
		Base:   operations.Base{UserID: "alice"},
		NodeID: "n1",
		Config: map[string]any{"expression": "changed"},
	}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), applied.Seq)
}

func TestAuthority_LockDoesNotBlockConnectionOperations(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1",
		testutil.CreateTestNode(testutil.WithNodeID("n1")),
		testutil.CreateTestNode(testutil.WithNodeID("n2")),
	)
	draft.Connections = nil
	authority, _ := newTestAuthority(t, draft)

	_, err := authority.AcquireNodeLock(ctx, "n1", "alice")
	require.NoError(t, err)

	_, err = authority.ApplyOperation(ctx, mustEncode(t, operations.AddConnection{
		Base:     operations.Base{UserID: "bob"},
		SourceID: "n1",
		TargetID: "n2",
	}))
	require.NoError(t, err)
}

func TestAuthority_LockExclusivityUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1", testutil.CreateTestNode(testutil.WithNodeID("n1")))
	authority, _ := newTestAuthority(t, draft)

	const contenders = 16

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)

	for i := range contenders {
		wg.Add(1)

		go func(user int) {
			defer wg.Done()

			lock, err := authority.AcquireNodeLock(ctx, "n1", string(rune('a'+user)))
			if err == nil {
				mu.Lock()
				wins = append(wins, lock.UserID)
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	require.Len(t, wins, 1, "exactly one contender wins the lock")
}

func TestAuthority_ReacquireRefreshesLease(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1", testutil.CreateTestNode(testutil.WithNodeID("n1")))
	authority, _ := newTestAuthority(t, draft)

	first, err := authority.AcquireNodeLock(ctx, "n1", "alice")
	require.NoError(t, err)

	authority.now = func() time.Time { return time.Now().Add(time.Minute) }

	second, err := authority.AcquireNodeLock(ctx, "n1", "alice")
	require.NoError(t, err)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
}

func TestAuthority_SweepReleasesExpiredLocks(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1", testutil.CreateTestNode(testutil.WithNodeID("n1")))
	authority, _ := newTestAuthority(t, draft)

	_, err := authority.AcquireNodeLock(ctx, "n1", "alice")
	require.NoError(t, err)

	authority.now = func() time.Time { return time.Now().Add(models.DefaultLockLease + time.Second) }
	require.NoError(t, authority.SweepLocks(ctx))

	locks, err := authority.Locks(ctx)
	require.NoError(t, err)
	assert.Empty(t, locks)

	// The lock is free again for another user.
	authority.now = time.Now
	_, err = authority.AcquireNodeLock(ctx, "n1", "bob")
	require.NoError(t, err)
}

func TestAuthority_ReleaseUserLocks(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1",
		testutil.CreateTestNode(testutil.WithNodeID("n1")),
		testutil.CreateTestNode(testutil.WithNodeID("n2")),
	)
	authority, _ := newTestAuthority(t, draft)

	_, err := authority.AcquireNodeLock(ctx, "n1", "alice")
	require.NoError(t, err)
	_, err = authority.AcquireNodeLock(ctx, "n2", "bob")
	require.NoError(t, err)

	require.NoError(t, authority.ReleaseUserLocks(ctx, "alice"))

	locks, err := authority.Locks(ctx)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "bob", locks[0].UserID)
}

func TestAuthority_ReleaseForeignLockIsNoOp(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1", testutil.CreateTestNode(testutil.WithNodeID("n1")))
	authority, _ := newTestAuthority(t, draft)

	_, err := authority.AcquireNodeLock(ctx, "n1", "alice")
	require.NoError(t, err)

	require.NoError(t, authority.ReleaseNodeLock(ctx, "n1", "bob"))

	locks, err := authority.Locks(ctx)
	require.NoError(t, err)
	require.Len(t, locks, 1)
}

func TestAuthority_RemoveNodeDropsItsLock(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1", testutil.CreateTestNode(testutil.WithNodeID("n1")))
	authority, _ := newTestAuthority(t, draft)

	_, err := authority.AcquireNodeLock(ctx, "n1", "alice")
	require.NoError(t, err)

	applied, err := authority.ApplyOperation(ctx, mustEncode(t, operations.RemoveNode{
		Base:   operations.Base{UserID: "alice"},
		NodeID: "n1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "n1", applied.RemovedNodeID)

	locks, err := authority.Locks(ctx)
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestAuthority_SyncStateModes(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1")
	authority, _ := newTestAuthority(t, draft)

	for i := range 3 {
		_, err := authority.ApplyOperation(ctx, mustEncode(t, operations.AddNode{
			Base: operations.Base{UserID: "alice"},
			Node: testutil.CreateTestNode(testutil.WithNodeID(string(rune('a' + i)))),
		}))
		require.NoError(t, err)
	}

	t.Run("joiner gets full sync", func(t *testing.T) {
		state, err := authority.SyncState(ctx, -1)
		require.NoError(t, err)
		assert.Equal(t, SyncFull, state.Mode)
		assert.Equal(t, uint64(3), state.Seq)
		require.NotNil(t, state.Draft)
		require.NotNil(t, state.Editor)
		assert.Len(t, state.Draft.Nodes, 3)
	})

	t.Run("current client is up to date", func(t *testing.T) {
		state, err := authority.SyncState(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, SyncUpToDate, state.Mode)
		assert.Nil(t, state.Draft)
	})

	t.Run("recently behind client gets missed broadcasts", func(t *testing.T) {
		state, err := authority.SyncState(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, SyncIncremental, state.Mode)
		require.Len(t, state.Missed, 2)
		assert.Equal(t, uint64(2), state.Missed[0].Seq)
		assert.Equal(t, uint64(3), state.Missed[1].Seq)
	})

	t.Run("client ahead of authority gets full sync", func(t *testing.T) {
		state, err := authority.SyncState(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, SyncFull, state.Mode)
	})
}

func TestAuthority_BroadcastsOperationApplied(t *testing.T) {
	ctx := context.Background()
	draft := testutil.CreateTestDraft("wf-1")
	authority, bus := newTestAuthority(t, draft)

	ch, err := bus.Subscribe(ctx, events.CollabTopic("wf-1"))
	require.NoError(t, err)

	_, err = authority.ApplyOperation(ctx, mustEncode(t, operations.AddNode{
		Base: operations.Base{UserID: "alice"},
		Node: testutil.CreateTestNode(testutil.WithNodeID("n1")),
	}))
	require.NoError(t, err)

	select {
	case env := <-ch:
		applied, ok := env.Event.(*events.OperationApplied)
		require.True(t, ok)
		assert.Equal(t, uint64(1), applied.Seq)
		assert.Equal(t, operations.KindAddNode, applied.Operation.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for operation.applied broadcast")
	}
}

func TestAuthority_CheckpointPersistsDirtyDraft(t *testing.T) {
	ctx := context.Background()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	persist := file.NewPersistence(t.TempDir())
	drafts := persist.Drafts()

	seed := testutil.CreateTestDraft("wf-1")
	require.NoError(t, drafts.Save(ctx, seed, 0))

	authority := newAuthority("wf-1", seed, 0, bus, drafts, slog.Default())

	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go authority.run(runCtx)

	_, err = authority.ApplyOperation(ctx, mustEncode(t, operations.AddNode{
		Base: operations.Base{UserID: "alice"},
		Node: testutil.CreateTestNode(testutil.WithNodeID("n1")),
	}))
	require.NoError(t, err)

	require.NoError(t, authority.Checkpoint(ctx))

	loaded, seq, err := drafts.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.True(t, loaded.HasNode("n1"))
}

func TestAuthority_ClosedSessionRejectsCalls(t *testing.T) {
	draft := testutil.CreateTestDraft("wf-1")

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	persist := file.NewPersistence(t.TempDir())
	authority := newAuthority("wf-1", draft, 0, bus, persist.Drafts(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())

	finished := make(chan struct{})

	go func() {
		authority.run(ctx)
		authority.close()
		close(finished)
	}()

	cancel()
	<-finished

	_, err = authority.SyncState(context.Background(), -1)
	require.ErrorIs(t, err, ErrSessionClosed)
}
