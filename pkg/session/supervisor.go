// Package session implements the single-writer edit session for a workflow:
// a supervisor that keeps at most one authority alive per workflow, and the
// authority actor that serializes operations, owns the node lock table, and
// broadcasts committed operations in sequence order.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/metrics"
	"github.com/loomhq/loom/pkg/persistence"
)

const (
	lockSweepSchedule  = "@every 30s"
	checkpointSchedule = "@every 1m"
)

// Supervisor creates and tracks session authorities. At most one authority
// runs per workflow id; a crashed authority is deregistered so the next
// EnsureSession starts a fresh one seeded from persistence.
type Supervisor struct {
	bus    eventbus.EventBus
	drafts persistence.DraftRepository
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Authority

	scheduler *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewSupervisor(ctx context.Context, bus eventbus.EventBus, drafts persistence.DraftRepository, logger *slog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(ctx)

	s := &Supervisor{
		bus:       bus,
		drafts:    drafts,
		logger:    logger.With("module", "session_supervisor"),
		sessions:  make(map[string]*Authority),
		scheduler: cron.New(),
		ctx:       ctx,
		cancel:    cancel,
	}

	// Registration cannot fail with valid @every specs.
	_, _ = s.scheduler.AddFunc(lockSweepSchedule, s.sweepLocks)
	_, _ = s.scheduler.AddFunc(checkpointSchedule, s.checkpoint)
	s.scheduler.Start()

	return s
}

// EnsureSession returns the running authority for the workflow, starting one
// if needed. Starting seeds the draft from persistence; on seed failure
// nothing is registered and the error is returned.
func (s *Supervisor) EnsureSession(ctx context.Context, workflowID string) (*Authority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if authority, ok := s.sessions[workflowID]; ok {
		return authority, nil
	}

	draft, seq, err := s.drafts.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("seed session for workflow %s: %w", workflowID, err)
	}

	authority := newAuthority(workflowID, draft, seq, s.bus, s.drafts, s.logger)
	s.sessions[workflowID] = authority
	metrics.ActiveSessions.Inc()

	go s.runAuthority(authority)

	s.logger.Info("Started session authority", "workflow_id", workflowID, "seq", seq)

	return authority, nil
}

// Session returns the running authority for the workflow, if any.
func (s *Supervisor) Session(workflowID string) (*Authority, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	authority, ok := s.sessions[workflowID]

	return authority, ok
}

// runAuthority hosts one authority loop. A panic in the loop deregisters the
// session; the lock table and editor overlay die with it, which is the
// documented restart semantics.
func (s *Supervisor) runAuthority(authority *Authority) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session authority panicked",
				"workflow_id", authority.WorkflowID(), "panic", r)
		}

		authority.close()
		s.deregister(authority)
	}()

	authority.run(s.ctx)
}

func (s *Supervisor) deregister(authority *Authority) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[authority.WorkflowID()] == authority {
		delete(s.sessions, authority.WorkflowID())
		metrics.ActiveSessions.Dec()
	}
}

func (s *Supervisor) snapshot() []*Authority {
	s.mu.Lock()
	defer s.mu.Unlock()

	authorities := make([]*Authority, 0, len(s.sessions))
	for _, authority := range s.sessions {
		authorities = append(authorities, authority)
	}

	return authorities
}

func (s *Supervisor) sweepLocks() {
	for _, authority := range s.snapshot() {
		if err := authority.SweepLocks(s.ctx); err != nil {
			s.logger.Warn("Lock sweep failed",
				"workflow_id", authority.WorkflowID(), "error", err)
		}
	}
}

func (s *Supervisor) checkpoint() {
	for _, authority := range s.snapshot() {
		if err := authority.Checkpoint(s.ctx); err != nil {
			s.logger.Warn("Draft checkpoint failed",
				"workflow_id", authority.WorkflowID(), "error", err)
		}
	}
}

// Close stops the scheduler, checkpoints every dirty draft, and shuts down
// all authorities.
func (s *Supervisor) Close(ctx context.Context) error {
	s.scheduler.Stop()

	for _, authority := range s.snapshot() {
		if err := authority.Checkpoint(ctx); err != nil {
			s.logger.Warn("Final checkpoint failed",
				"workflow_id", authority.WorkflowID(), "error", err)
		}
	}

	s.cancel()

	return nil
}
