package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/events"
	"github.com/loomhq/loom/pkg/metrics"
	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/otelhelper"
	"github.com/loomhq/loom/pkg/persistence"
)

// runner executes one workflow run on its own goroutine. It walks the draft
// in topological order, honours the editor overlay, persists every record,
// and publishes lifecycle events on the execution's topic.
type runner struct {
	execution *models.Execution
	draft     *models.Draft
	editor    *models.EditorState
	executor  NodeExecutor
	repo      persistence.ExecutionRepository
	bus       eventbus.EventBus
	tracer    trace.Tracer
	logger    *slog.Logger
}

func (r *runner) run(ctx context.Context) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "execution.run",
		attribute.String(otelhelper.WorkflowIDKey, r.execution.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String("loom.execution.type", string(r.execution.Type)),
	)
	defer span.End()

	order, err := topoOrder(r.draft)
	if err != nil {
		otelhelper.SetError(span, err, "invalid workflow graph")
		r.finish(ctx, models.ExecutionStatusFailed, err)

		return
	}

	now := time.Now().UTC()
	r.execution.Status = models.ExecutionStatusRunning
	r.execution.StartedAt = &now

	if err := r.repo.UpdateExecution(ctx, r.execution); err != nil {
		r.logger.Error("Failed to persist execution start", "error", err)
	}

	r.publish(ctx, &events.ExecutionStarted{
		BaseEvent: r.baseEvent(events.ExecutionStartedEvent),
		Execution: r.execution,
	})

	// outputs holds the produced output of every node that ran (or was
	// skipped through). A node absent from outputs was halted.
	outputs := make(map[string]map[string]any, len(order))

	for _, node := range order {
		input, reachable := r.gatherInput(node.ID, outputs)
		if !reachable {
			continue
		}

		if r.editor.DisabledNodes[node.ID] == models.DisableModeStop {
			r.logger.Info("Node disabled with stop mode, halting branch", "node_id", node.ID)
			r.markHalted(ctx, node.ID)

			continue
		}

		output, err := r.runNode(ctx, node, input)
		if err != nil {
			otelhelper.SetError(span, err, "node execution failed")
			r.finish(ctx, models.ExecutionStatusFailed, err)

			return
		}

		outputs[node.ID] = output
	}

	r.finish(ctx, models.ExecutionStatusCompleted, nil)
}

// gatherInput merges the outputs of the node's upstream nodes. Root nodes
// receive the trigger data. A node none of whose upstream nodes produced
// output is unreachable for this run.
func (r *runner) gatherInput(nodeID string, outputs map[string]map[string]any) (map[string]any, bool) {
	var upstream []string

	for _, conn := range r.draft.Connections {
		if conn.TargetID == nodeID {
			upstream = append(upstream, conn.SourceID)
		}
	}

	if len(upstream) == 0 {
		input := make(map[string]any, len(r.execution.TriggerData))
		for k, v := range r.execution.TriggerData {
			input[k] = v
		}

		return input, true
	}

	input := make(map[string]any)
	reachable := false

	for _, sourceID := range upstream {
		output, ran := outputs[sourceID]
		if !ran {
			continue
		}

		reachable = true

		for k, v := range output {
			input[k] = v
		}
	}

	return input, reachable
}

// markHalted records a branch halt on the execution record so observers can
// tell why downstream nodes never emit events.
func (r *runner) markHalted(ctx context.Context, nodeID string) {
	if r.execution.Metadata == nil {
		r.execution.Metadata = make(map[string]any)
	}

	halted, _ := r.execution.Metadata["halted_nodes"].([]string)
	r.execution.Metadata["halted_nodes"] = append(halted, nodeID)

	if err := r.repo.UpdateExecution(ctx, r.execution); err != nil {
		r.logger.Error("Failed to persist branch halt", "node_id", nodeID, "error", err)
	}

	r.publish(ctx, &events.ExecutionUpdated{
		BaseEvent: r.baseEvent(events.ExecutionUpdatedEvent),
		Execution: r.execution,
	})
}

func (r *runner) runNode(ctx context.Context, node *models.Node, input map[string]any) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "execution.node",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String("loom.node.type", node.Type),
	)
	defer span.End()

	if pinned, ok := r.editor.PinnedOutputs[node.ID]; ok {
		return r.completePinned(ctx, node, pinned)
	}

	if r.editor.DisabledNodes[node.ID] == models.DisableModeSkip {
		return r.completeSkipped(ctx, node, input)
	}

	started := time.Now().UTC()
	record := &models.NodeExecution{
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      models.NodeStatusRunning,
		InputData:   input,
		QueuedAt:    &started,
		StartedAt:   &started,
	}

	if err := r.repo.SaveNodeExecution(ctx, record); err != nil {
		r.logger.Error("Failed to persist node start", "node_id", node.ID, "error", err)
	}

	r.publish(ctx, &events.NodeStarted{
		BaseEvent:   r.baseEvent(events.NodeStartedEvent),
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
		NodeTypeID:  node.Type,
		QueuedAt:    &started,
		StartedAt:   started,
		InputData:   input,
	})

	output, err := r.executor.Execute(ctx, node, input)
	completed := time.Now().UTC()
	record.CompletedAt = &completed

	if err != nil {
		otelhelper.SetError(span, err, "node executor returned error")
		record.Status = models.NodeStatusFailed
		record.Error = err.Error()

		if saveErr := r.repo.SaveNodeExecution(ctx, record); saveErr != nil {
			r.logger.Error("Failed to persist node failure", "node_id", node.ID, "error", saveErr)
		}

		r.publish(ctx, &events.NodeFailed{
			BaseEvent:   r.baseEvent(events.NodeFailedEvent),
			ExecutionID: r.execution.ID,
			NodeID:      node.ID,
			CompletedAt: completed,
			DurationUs:  record.DurationUs(),
			Error:       err.Error(),
		})

		return nil, fmt.Errorf("node %s failed: %w", node.ID, err)
	}

	record.Status = models.NodeStatusCompleted
	record.OutputData = output

	if saveErr := r.repo.SaveNodeExecution(ctx, record); saveErr != nil {
		r.logger.Error("Failed to persist node completion", "node_id", node.ID, "error", saveErr)
	}

	r.publish(ctx, &events.NodeCompleted{
		BaseEvent:   r.baseEvent(events.NodeCompletedEvent),
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
		CompletedAt: completed,
		DurationUs:  record.DurationUs(),
		OutputData:  output,
	})

	return output, nil
}

// completePinned emits a completed node without invoking the executor. The
// pinned value stands in for the node's real output.
func (r *runner) completePinned(ctx context.Context, node *models.Node, pinned any) (map[string]any, error) {
	output, _ := pinned.(map[string]any)
	if output == nil {
		output = map[string]any{"value": pinned}
	}

	now := time.Now().UTC()
	record := &models.NodeExecution{
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      models.NodeStatusCompleted,
		OutputData:  output,
		QueuedAt:    &now,
		StartedAt:   &now,
		CompletedAt: &now,
	}

	if err := r.repo.SaveNodeExecution(ctx, record); err != nil {
		r.logger.Error("Failed to persist pinned node", "node_id", node.ID, "error", err)
	}

	r.publish(ctx, &events.NodeCompleted{
		BaseEvent:   r.baseEvent(events.NodeCompletedEvent),
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
		CompletedAt: now,
		OutputData:  output,
	})

	return output, nil
}

// completeSkipped passes the input through a skip-disabled node unchanged.
func (r *runner) completeSkipped(ctx context.Context, node *models.Node, input map[string]any) (map[string]any, error) {
	now := time.Now().UTC()
	record := &models.NodeExecution{
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      models.NodeStatusCompleted,
		InputData:   input,
		OutputData:  input,
		QueuedAt:    &now,
		StartedAt:   &now,
		CompletedAt: &now,
	}

	if err := r.repo.SaveNodeExecution(ctx, record); err != nil {
		r.logger.Error("Failed to persist skipped node", "node_id", node.ID, "error", err)
	}

	r.publish(ctx, &events.NodeCompleted{
		BaseEvent:   r.baseEvent(events.NodeCompletedEvent),
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
		CompletedAt: now,
		OutputData:  input,
	})

	return input, nil
}

func (r *runner) finish(ctx context.Context, status models.ExecutionStatus, cause error) {
	now := time.Now().UTC()
	r.execution.Status = status
	r.execution.CompletedAt = &now

	if err := r.repo.UpdateExecution(ctx, r.execution); err != nil {
		r.logger.Error("Failed to persist execution finish", "error", err)
	}

	if status == models.ExecutionStatusFailed {
		message := ""
		if cause != nil {
			message = cause.Error()
		}

		r.logger.Warn("Execution failed", "error", message)
		r.publish(ctx, &events.ExecutionFailed{
			BaseEvent: r.baseEvent(events.ExecutionFailedEvent),
			Execution: r.execution,
			Error:     message,
		})

		return
	}

	r.logger.Info("Execution completed")
	r.publish(ctx, &events.ExecutionCompleted{
		BaseEvent: r.baseEvent(events.ExecutionCompletedEvent),
		Execution: r.execution,
	})
}

func (r *runner) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.NewBaseEvent(eventType, r.execution.WorkflowID)
}

func (r *runner) publish(ctx context.Context, event eventbus.Event) {
	topic := events.ExecutionTopic(r.execution.ID)
	if err := r.bus.Publish(ctx, topic, r.execution.ID, event); err != nil {
		r.logger.Warn("Failed to publish execution event",
			"event_type", event.GetType(), "error", err)

		return
	}

	metrics.EventsPublished.WithLabelValues(string(event.GetType())).Inc()
}

// topoOrder returns the draft's nodes in dependency order (Kahn's
// algorithm). Ties break on draft declaration order so runs are
// reproducible. A cycle is a hard error.
func topoOrder(draft *models.Draft) ([]*models.Node, error) {
	indegree := make(map[string]int, len(draft.Nodes))
	for _, node := range draft.Nodes {
		indegree[node.ID] = 0
	}

	for _, conn := range draft.Connections {
		if _, ok := indegree[conn.TargetID]; ok {
			indegree[conn.TargetID]++
		}
	}

	var queue []*models.Node

	for _, node := range draft.Nodes {
		if indegree[node.ID] == 0 {
			queue = append(queue, node)
		}
	}

	order := make([]*models.Node, 0, len(draft.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, conn := range draft.Connections {
			if conn.SourceID != node.ID {
				continue
			}

			indegree[conn.TargetID]--
			if indegree[conn.TargetID] == 0 {
				if target := draft.Node(conn.TargetID); target != nil {
					queue = append(queue, target)
				}
			}
		}
	}

	if len(order) != len(draft.Nodes) {
		return nil, fmt.Errorf("workflow %s contains a connection cycle", draft.WorkflowID)
	}

	return order, nil
}
