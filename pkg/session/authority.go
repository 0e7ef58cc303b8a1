package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/events"
	"github.com/loomhq/loom/pkg/log"
	"github.com/loomhq/loom/pkg/metrics"
	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/operations"
	"github.com/loomhq/loom/pkg/persistence"
)

const (
	mailboxSize = 64

	// recentOpsCapacity bounds how far behind a reconnecting client can be
	// and still receive an incremental sync instead of a full one.
	recentOpsCapacity = 128
)

type SyncMode string

const (
	SyncFull        SyncMode = "full_sync"
	SyncIncremental SyncMode = "incremental"
	SyncUpToDate    SyncMode = "up_to_date"
)

// SyncState is the authority's answer to a client sync request. Full syncs
// carry the complete draft and overlay; incremental syncs carry only the
// broadcasts the client missed.
type SyncState struct {
	Mode   SyncMode                   `json:"mode"`
	Seq    uint64                     `json:"seq"`
	Draft  *models.Draft              `json:"draft,omitempty"`
	Editor *models.EditorState        `json:"editor,omitempty"`
	Locks  []*models.NodeLock         `json:"locks,omitempty"`
	Missed []*events.OperationApplied `json:"missed,omitempty"`
}

// Applied reports a committed operation back to the submitter.
type Applied struct {
	Seq           uint64                  `json:"seq"`
	Patch         []operations.PatchEntry `json:"patch,omitempty"`
	RemovedNodeID string                  `json:"removed_node_id,omitempty"`
}

// Authority is the single writer for one workflow's edit session. All state
// is owned by the loop goroutine; public methods post closures to the
// mailbox and wait for them to run, so operations are serialized in arrival
// order and the committed sequence is gapless by construction.
type Authority struct {
	workflowID string
	lease      time.Duration
	logger     *slog.Logger
	bus        eventbus.EventBus
	drafts     persistence.DraftRepository

	mailbox   chan func()
	closed    chan struct{}
	closeOnce sync.Once

	// Loop-owned state. Never touched outside the loop goroutine.
	draft  *models.Draft
	editor *models.EditorState
	seq    uint64
	locks  map[string]*models.NodeLock
	recent []*events.OperationApplied
	dirty  bool

	now func() time.Time
}

func newAuthority(
	workflowID string,
	draft *models.Draft,
	seq uint64,
	bus eventbus.EventBus,
	drafts persistence.DraftRepository,
	logger *slog.Logger,
) *Authority {
	return &Authority{
		workflowID: workflowID,
		lease:      models.DefaultLockLease,
		logger:     log.WithWorkflow(logger, workflowID),
		bus:        bus,
		drafts:     drafts,
		mailbox:    make(chan func(), mailboxSize),
		closed:     make(chan struct{}),
		draft:      draft,
		editor:     models.NewEditorState(),
		seq:        seq,
		locks:      make(map[string]*models.NodeLock),
		now:        time.Now,
	}
}

func (a *Authority) WorkflowID() string {
	return a.workflowID
}

func (a *Authority) run(ctx context.Context) {
	defer a.close()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-a.mailbox:
			fn()
		}
	}
}

func (a *Authority) close() {
	a.closeOnce.Do(func() {
		close(a.closed)
	})
}

// do posts fn to the mailbox and waits until the loop has executed it.
func (a *Authority) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})

	select {
	case a.mailbox <- func() {
		fn()
		close(done)
	}:
	case <-a.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-a.closed:
		return ErrSessionClosed
	}
}

// ApplyOperation validates one submitted operation against the current draft
// and lock table, commits it, and broadcasts the result. The returned
// sequence number is assigned only on success; rejected operations leave the
// session untouched.
func (a *Authority) ApplyOperation(ctx context.Context, env *operations.Envelope) (*Applied, error) {
	op, err := operations.Decode(env)
	if err != nil {
		metrics.OperationsRejected.WithLabelValues("decode").Inc()

		return nil, err
	}

	var (
		applied  *Applied
		applyErr error
	)

	err = a.do(ctx, func() {
		applied, applyErr = a.apply(ctx, env, op)
	})
	if err != nil {
		return nil, err
	}

	return applied, applyErr
}

func (a *Authority) apply(ctx context.Context, env *operations.Envelope, op operations.Operation) (*Applied, error) {
	if target := operations.TargetNodeID(op); target != "" {
		if lock, held := a.locks[target]; held && !lock.Expired(a.now()) && lock.UserID != op.Issuer() {
			metrics.OperationsRejected.WithLabelValues("locked").Inc()
			metrics.LockConflicts.Inc()

			return nil, &LockedError{NodeID: target, HolderID: lock.UserID}
		}
	}

	result, err := operations.Apply(a.draft, a.editor, op)
	if err != nil {
		metrics.OperationsRejected.WithLabelValues("validation").Inc()

		return nil, err
	}

	if result.Draft != nil {
		a.draft = result.Draft
		a.dirty = true
	}

	if result.Editor != nil {
		a.editor = result.Editor
	}

	if result.RemovedNodeID != "" {
		delete(a.locks, result.RemovedNodeID)
	}

	a.seq++

	event := &events.OperationApplied{
		BaseEvent: events.NewBaseEvent(events.OperationAppliedEvent, a.workflowID),
		Operation: env,
		Patch:     result.Patch,
		Seq:       a.seq,
	}
	a.remember(event)
	a.publish(ctx, events.CollabTopic(a.workflowID), event)

	metrics.OperationsApplied.WithLabelValues(string(op.Kind())).Inc()

	return &Applied{
		Seq:           a.seq,
		Patch:         result.Patch,
		RemovedNodeID: result.RemovedNodeID,
	}, nil
}

// AcquireNodeLock grants or refreshes exclusive edit ownership of a node.
// Re-acquiring a lock the user already holds extends the lease.
func (a *Authority) AcquireNodeLock(ctx context.Context, nodeID, userID string) (*models.NodeLock, error) {
	var (
		lock    *models.NodeLock
		lockErr error
	)

	err := a.do(ctx, func() {
		lock, lockErr = a.acquireLock(ctx, nodeID, userID)
	})
	if err != nil {
		return nil, err
	}

	return lock, lockErr
}

func (a *Authority) acquireLock(ctx context.Context, nodeID, userID string) (*models.NodeLock, error) {
	if !a.draft.HasNode(nodeID) {
		return nil, operations.ErrNodeNotFound
	}

	now := a.now()

	if existing, held := a.locks[nodeID]; held && !existing.Expired(now) {
		if existing.UserID != userID {
			metrics.LockConflicts.Inc()

			return nil, &LockedError{NodeID: nodeID, HolderID: existing.UserID}
		}

		existing.ExpiresAt = now.Add(a.lease)

		return existing, nil
	}

	lock := &models.NodeLock{
		NodeID:     nodeID,
		UserID:     userID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(a.lease),
	}
	a.locks[nodeID] = lock

	a.publish(ctx, events.CollabTopic(a.workflowID), &events.LockAcquired{
		BaseEvent: events.NewBaseEvent(events.LockAcquiredEvent, a.workflowID),
		NodeID:    nodeID,
		UserID:    userID,
		ExpiresAt: lock.ExpiresAt,
	})

	return lock, nil
}

// ReleaseNodeLock releases the user's lock on a node. Releasing a lock the
// user does not hold is a no-op.
func (a *Authority) ReleaseNodeLock(ctx context.Context, nodeID, userID string) error {
	return a.do(ctx, func() {
		lock, held := a.locks[nodeID]
		if !held || lock.UserID != userID {
			return
		}

		delete(a.locks, nodeID)
		a.publishLockReleased(ctx, nodeID, userID)
	})
}

// ReleaseUserLocks drops every lock held by the user. Wired as the presence
// disconnect hook.
func (a *Authority) ReleaseUserLocks(ctx context.Context, userID string) error {
	return a.do(ctx, func() {
		for nodeID, lock := range a.locks {
			if lock.UserID != userID {
				continue
			}

			delete(a.locks, nodeID)
			a.publishLockReleased(ctx, nodeID, userID)
		}
	})
}

// SyncState answers a client's sync request. haveSeq < 0 means the client
// has no state at all; a client behind by more than the recent-broadcast
// window gets a full sync rather than an incremental one.
func (a *Authority) SyncState(ctx context.Context, haveSeq int64) (*SyncState, error) {
	var state *SyncState

	err := a.do(ctx, func() {
		state = a.syncState(haveSeq)
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

func (a *Authority) syncState(haveSeq int64) *SyncState {
	if haveSeq >= 0 && uint64(haveSeq) == a.seq {
		return &SyncState{Mode: SyncUpToDate, Seq: a.seq}
	}

	if haveSeq >= 0 && uint64(haveSeq) < a.seq {
		if missed, ok := a.missedSince(uint64(haveSeq)); ok {
			return &SyncState{Mode: SyncIncremental, Seq: a.seq, Missed: missed}
		}
	}

	return &SyncState{
		Mode:   SyncFull,
		Seq:    a.seq,
		Draft:  a.draft.Clone(),
		Editor: a.editor.Clone(),
		Locks:  a.lockSnapshot(),
	}
}

// missedSince returns the buffered broadcasts after haveSeq, or false when
// the window no longer reaches back that far.
func (a *Authority) missedSince(haveSeq uint64) ([]*events.OperationApplied, bool) {
	if len(a.recent) == 0 || a.recent[0].Seq > haveSeq+1 {
		return nil, false
	}

	missed := make([]*events.OperationApplied, 0, a.seq-haveSeq)

	for _, ev := range a.recent {
		if ev.Seq > haveSeq {
			missed = append(missed, ev)
		}
	}

	return missed, true
}

// EditorState returns a snapshot of the session's editor overlay.
func (a *Authority) EditorState(ctx context.Context) (*models.EditorState, error) {
	var editor *models.EditorState

	err := a.do(ctx, func() {
		editor = a.editor.Clone()
	})
	if err != nil {
		return nil, err
	}

	return editor, nil
}

// Draft returns a snapshot of the session draft and its sequence number.
func (a *Authority) Draft(ctx context.Context) (*models.Draft, uint64, error) {
	var (
		draft *models.Draft
		seq   uint64
	)

	err := a.do(ctx, func() {
		draft = a.draft.Clone()
		seq = a.seq
	})
	if err != nil {
		return nil, 0, err
	}

	return draft, seq, nil
}

// Locks returns a snapshot of the active lock table.
func (a *Authority) Locks(ctx context.Context) ([]*models.NodeLock, error) {
	var locks []*models.NodeLock

	err := a.do(ctx, func() {
		locks = a.lockSnapshot()
	})
	if err != nil {
		return nil, err
	}

	return locks, nil
}

// SweepLocks releases every lock whose lease has lapsed.
func (a *Authority) SweepLocks(ctx context.Context) error {
	return a.do(ctx, func() {
		now := a.now()

		for nodeID, lock := range a.locks {
			if !lock.Expired(now) {
				continue
			}

			delete(a.locks, nodeID)
			a.publishLockReleased(ctx, nodeID, lock.UserID)
			a.logger.Info("Released expired node lock", "node_id", nodeID, "user_id", lock.UserID)
		}
	})
}

// Checkpoint persists the draft if it changed since the last checkpoint.
func (a *Authority) Checkpoint(ctx context.Context) error {
	var saveErr error

	err := a.do(ctx, func() {
		if !a.dirty {
			return
		}

		saveErr = a.drafts.Save(ctx, a.draft.Clone(), a.seq)
		if saveErr != nil {
			a.logger.Error("Failed to checkpoint draft", "error", saveErr)

			return
		}

		a.dirty = false
	})
	if err != nil {
		return err
	}

	return saveErr
}

func (a *Authority) lockSnapshot() []*models.NodeLock {
	locks := make([]*models.NodeLock, 0, len(a.locks))
	for _, lock := range a.locks {
		copied := *lock
		locks = append(locks, &copied)
	}

	return locks
}

func (a *Authority) remember(event *events.OperationApplied) {
	a.recent = append(a.recent, event)
	if len(a.recent) > recentOpsCapacity {
		a.recent = a.recent[1:]
	}
}

func (a *Authority) publishLockReleased(ctx context.Context, nodeID, userID string) {
	a.publish(ctx, events.CollabTopic(a.workflowID), &events.LockReleased{
		BaseEvent: events.NewBaseEvent(events.LockReleasedEvent, a.workflowID),
		NodeID:    nodeID,
		UserID:    userID,
	})
}

// publish is fire and forget. A bus failure is logged and the session moves
// on; clients that miss a broadcast recover through sync.
func (a *Authority) publish(ctx context.Context, topic string, event eventbus.Event) {
	if err := a.bus.Publish(ctx, topic, a.workflowID, event); err != nil {
		a.logger.Warn("Failed to publish session event", "topic", topic, "error", err)

		return
	}

	metrics.EventsPublished.WithLabelValues(string(event.GetType())).Inc()
}
