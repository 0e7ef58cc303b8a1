// Package execution runs workflow drafts and fans their lifecycle events out
// to session subscribers. Execution event streams are completely independent
// of the edit-operation stream: they carry no sequence numbers and no
// ordering relation to concurrent edits.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/log"
	"github.com/loomhq/loom/pkg/metrics"
	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/persistence"
)

// StartRequest describes one run. The draft is a snapshot: edits made after
// Start never affect a running execution.
type StartRequest struct {
	ExecutionID string
	WorkflowID  string
	Type        models.ExecutionType
	TriggerData map[string]any
	Draft       *models.Draft
	Editor      *models.EditorState
}

// Starter creates executions and hosts one runner goroutine per execution.
// Start is idempotent on the execution id: starting an id that is already
// running, or that already ran, returns the existing execution.
type Starter struct {
	bus      eventbus.EventBus
	repo     persistence.ExecutionRepository
	executor NodeExecutor
	logger   *slog.Logger
	tracer   trace.Tracer

	mu      sync.Mutex
	running map[string]*models.Execution
}

func NewStarter(bus eventbus.EventBus, repo persistence.ExecutionRepository, executor NodeExecutor, logger *slog.Logger) *Starter {
	return &Starter{
		bus:      bus,
		repo:     repo,
		executor: executor,
		logger:   logger.With("module", "execution_starter"),
		tracer:   noop.NewTracerProvider().Tracer("execution"),
		running:  make(map[string]*models.Execution),
	}
}

// WithTracer replaces the default no-op tracer. Call before the first Start.
func (s *Starter) WithTracer(tracer trace.Tracer) *Starter {
	s.tracer = tracer

	return s
}

func (s *Starter) Start(ctx context.Context, req StartRequest) (*models.Execution, error) {
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.New().String()
	}

	if req.Editor == nil {
		req.Editor = models.NewEditorState()
	}

	s.mu.Lock()
	_, alreadyRunning := s.running[req.ExecutionID]
	s.mu.Unlock()

	// The runner goroutine owns and mutates the registered record, so the
	// duplicate-start path answers from the repository instead.
	if alreadyRunning {
		return s.repo.ExecutionByID(ctx, req.ExecutionID)
	}

	execution := &models.Execution{
		ID:          req.ExecutionID,
		WorkflowID:  req.WorkflowID,
		Type:        req.Type,
		TriggerData: req.TriggerData,
		Status:      models.ExecutionStatusPending,
	}

	if err := s.repo.CreateExecution(ctx, execution); err != nil {
		if errors.Is(err, persistence.ErrExecutionAlreadyExists) {
			return s.repo.ExecutionByID(ctx, req.ExecutionID)
		}

		return nil, &StartError{ExecutionID: req.ExecutionID, Err: err}
	}

	s.mu.Lock()
	s.running[req.ExecutionID] = execution
	s.mu.Unlock()

	metrics.ExecutionsStarted.WithLabelValues(string(req.Type)).Inc()
	metrics.ExecutionsRunning.Inc()

	r := &runner{
		execution: execution,
		draft:     req.Draft,
		editor:    req.Editor,
		executor:  s.executor,
		repo:      s.repo,
		bus:       s.bus,
		tracer:    s.tracer,
		logger:    log.WithWorkflow(s.logger.With("execution_id", execution.ID), req.WorkflowID),
	}

	// Snapshot before the runner goroutine starts mutating the record.
	snapshot := execution.Clone()

	// The runner outlives the request that started it.
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, req.ExecutionID)
			s.mu.Unlock()
			metrics.ExecutionsRunning.Dec()
		}()

		r.run(runCtx)
	}()

	s.logger.Info("Started execution",
		"execution_id", execution.ID, "workflow_id", req.WorkflowID, "type", req.Type)

	return snapshot, nil
}

// Running reports whether the execution is currently hosted by this starter.
func (s *Starter) Running(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.running[executionID]

	return ok
}
