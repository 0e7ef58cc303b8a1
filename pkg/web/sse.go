package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/events"
)

func setStreamHeaders(c fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
}

func writeEvent(w *bufio.Writer, env eventbus.Envelope) error {
	data, err := json.Marshal(env.Event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data); err != nil {
		return err
	}

	return w.Flush()
}

// StreamWorkflowEvents answers GET /workflows/:id/events: a merged SSE
// stream of the workflow's collab and presence topics. The stream carries no
// history; a client syncs first, then consumes broadcasts from here.
func (h *Handlers) StreamWorkflowEvents(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if _, err := h.supervisor.EnsureSession(c.Context(), workflowID); err != nil {
		return handleSessionError(c, err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Context()))

	collabCh, err := h.bus.Subscribe(ctx, events.CollabTopic(workflowID))
	if err != nil {
		cancel()

		return internalError(c, err)
	}

	presenceCh, err := h.bus.Subscribe(ctx, events.PresenceTopic(workflowID))
	if err != nil {
		cancel()

		return internalError(c, err)
	}

	setStreamHeaders(c)

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		for {
			var (
				env eventbus.Envelope
				ok  bool
			)

			select {
			case env, ok = <-collabCh:
			case env, ok = <-presenceCh:
			case <-ctx.Done():
				return
			}

			if !ok {
				return
			}

			if err := writeEvent(w, env); err != nil {
				// Client went away.
				return
			}
		}
	})
}

// StreamExecutionEvents answers GET /executions/:id/events?replay=true: the
// execution's live event stream, optionally prefixed with the replayed
// history reconstructed from persisted records.
func (h *Handlers) StreamExecutionEvents(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	replay := c.Query("replay") == "true"

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Context()))

	sub, err := h.bridge.Subscribe(ctx, executionID)
	if err != nil {
		cancel()

		return internalError(c, err)
	}

	if replay {
		history, err := h.bridge.Replay(ctx, executionID)
		if err != nil {
			sub.Close()
			cancel()

			return handleSessionError(c, err)
		}

		sub.Prefill(history)
	}

	setStreamHeaders(c)

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer sub.Close()

		for {
			select {
			case env, ok := <-sub.Events():
				if !ok {
					return
				}

				if err := writeEvent(w, env); err != nil {
					return
				}

				// Terminal events end the stream.
				if env.Type == events.ExecutionCompletedEvent || env.Type == events.ExecutionFailedEvent {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})
}
