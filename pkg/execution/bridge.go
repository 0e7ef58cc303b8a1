package execution

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/events"
	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/persistence"
)

// subscriptionBuffer is the per-subscription channel capacity. When a
// subscriber falls this far behind, the oldest undelivered event is dropped;
// it stays visible in the subscription's trace log.
const subscriptionBuffer = 64

// Bridge connects execution event streams to session subscribers: live
// fan-out over the bus plus history replay from persisted records for late
// joiners.
type Bridge struct {
	bus    eventbus.EventBus
	repo   persistence.ExecutionRepository
	logger *slog.Logger
}

func NewBridge(bus eventbus.EventBus, repo persistence.ExecutionRepository, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:    bus,
		repo:   repo,
		logger: logger.With("module", "execution_bridge"),
	}
}

// Subscription is one consumer's ordered view of an execution's events. Its
// trace log records every event the subscription saw, bounded FIFO, even
// when the consumer is too slow to drain the channel.
type Subscription struct {
	ExecutionID string

	out    chan eventbus.Envelope
	trace  *models.TraceLog
	cancel context.CancelFunc

	mu      sync.Mutex
	dropped int
}

// Events is the live stream. Closed when the subscription is closed.
func (s *Subscription) Events() <-chan eventbus.Envelope {
	return s.out
}

// Trace returns a snapshot of everything the subscription has seen.
func (s *Subscription) Trace() []models.TraceLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.trace.Entries()
}

// Dropped reports how many events were evicted from the live channel because
// the consumer lagged.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dropped
}

func (s *Subscription) Close() {
	s.cancel()
}

// Prefill records replayed history into the trace log and queues it on the
// live channel ahead of any live event.
func (s *Subscription) Prefill(history []eventbus.Envelope) {
	for _, env := range history {
		s.deliver(env)
	}
}

// deliver holds the mutex for the whole record-and-send so that Prefill on
// the caller's goroutine and the pump goroutine never interleave entries or
// evict each other's events mid-delivery.
func (s *Subscription) deliver(env eventbus.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(env)

	for {
		select {
		case s.out <- env:
			return
		default:
		}

		// Channel full: evict the oldest undelivered event.
		select {
		case <-s.out:
			s.dropped++
		default:
		}
	}
}

// record appends to the trace log. Callers hold s.mu.
func (s *Subscription) record(env eventbus.Envelope) {
	level := models.TraceLevelInfo
	data := map[string]any{"execution_id": s.ExecutionID}

	switch ev := env.Event.(type) {
	case *events.ExecutionFailed:
		level = models.TraceLevelError
		data["error"] = ev.Error
	case *events.NodeFailed:
		level = models.TraceLevelError
		data["node_id"] = ev.NodeID
		data["error"] = ev.Error
	case *events.NodeStarted:
		data["node_id"] = ev.NodeID
	case *events.NodeCompleted:
		data["node_id"] = ev.NodeID
	}

	s.trace.Append(level, string(env.Type), data)
}

// Subscribe opens a live subscription to one execution's event stream.
func (b *Bridge) Subscribe(ctx context.Context, executionID string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	ch, err := b.bus.Subscribe(ctx, events.ExecutionTopic(executionID))
	if err != nil {
		cancel()

		return nil, err
	}

	sub := &Subscription{
		ExecutionID: executionID,
		out:         make(chan eventbus.Envelope, subscriptionBuffer),
		trace:       models.NewTraceLog(models.DefaultTraceLogCapacity),
		cancel:      cancel,
	}

	go func() {
		defer close(sub.out)

		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-ch:
				if !ok {
					return
				}

				sub.deliver(env)
			}
		}
	}()

	return sub, nil
}

// Replay reconstructs an execution's event history from persisted records.
// The synthetic events mirror what a live subscriber would have seen, in
// record-timestamp order.
func (b *Bridge) Replay(ctx context.Context, executionID string) ([]eventbus.Envelope, error) {
	execution, err := b.repo.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	records, err := b.repo.NodeExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var history []eventbus.Envelope

	if execution.StartedAt != nil {
		history = append(history, b.envelope(executionID, &events.ExecutionStarted{
			BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, execution.WorkflowID),
			Execution: execution,
		}))
	}

	for _, record := range records {
		history = append(history, b.nodeHistory(execution, record)...)
	}

	switch execution.Status {
	case models.ExecutionStatusCompleted:
		history = append(history, b.envelope(executionID, &events.ExecutionCompleted{
			BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
			Execution: execution,
		}))
	case models.ExecutionStatusFailed:
		history = append(history, b.envelope(executionID, &events.ExecutionFailed{
			BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
			Execution: execution,
		}))
	default:
	}

	return history, nil
}

func (b *Bridge) nodeHistory(execution *models.Execution, record *models.NodeExecution) []eventbus.Envelope {
	var history []eventbus.Envelope

	if record.StartedAt != nil {
		history = append(history, b.envelope(execution.ID, &events.NodeStarted{
			BaseEvent:   events.NewBaseEvent(events.NodeStartedEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			NodeID:      record.NodeID,
			NodeTypeID:  record.NodeType,
			QueuedAt:    record.QueuedAt,
			StartedAt:   *record.StartedAt,
			InputData:   record.InputData,
		}))
	}

	if record.CompletedAt == nil {
		return history
	}

	switch record.Status {
	case models.NodeStatusCompleted:
		history = append(history, b.envelope(execution.ID, &events.NodeCompleted{
			BaseEvent:   events.NewBaseEvent(events.NodeCompletedEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			NodeID:      record.NodeID,
			CompletedAt: *record.CompletedAt,
			DurationUs:  record.DurationUs(),
			OutputData:  record.OutputData,
		}))
	case models.NodeStatusFailed:
		history = append(history, b.envelope(execution.ID, &events.NodeFailed{
			BaseEvent:   events.NewBaseEvent(events.NodeFailedEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			NodeID:      record.NodeID,
			CompletedAt: *record.CompletedAt,
			DurationUs:  record.DurationUs(),
			Error:       record.Error,
		}))
	default:
	}

	return history
}

func (b *Bridge) envelope(key string, event eventbus.Event) eventbus.Envelope {
	return eventbus.Envelope{
		Type:  event.GetType(),
		Key:   key,
		Event: event,
	}
}
