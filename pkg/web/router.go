package web

import (
	"github.com/gofiber/fiber/v3"
)

// Register mounts every session, presence, and execution route on the app.
// Middleware and operational endpoints stay with the caller.
func (h *Handlers) Register(app *fiber.App) {
	workflows := app.Group("/workflows")
	workflows.Get("/:id/session/state", h.GetSyncState)
	workflows.Post("/:id/operations", h.SubmitOperation)
	workflows.Post("/:id/nodes/:nodeId/lock", h.AcquireLock)
	workflows.Delete("/:id/nodes/:nodeId/lock", h.ReleaseLock)
	workflows.Get("/:id/editor", h.GetEditorState)
	workflows.Put("/:id/presence/:userId", h.UpdatePresence)
	workflows.Delete("/:id/presence/:userId", h.Disconnect)
	workflows.Get("/:id/events", h.StreamWorkflowEvents)

	executions := app.Group("/executions")
	executions.Post("/", h.StartExecution)
	executions.Get("/:id", h.GetExecution)
	executions.Get("/:id/events", h.StreamExecutionEvents)

	app.Get("/health", h.HealthCheck)
}
