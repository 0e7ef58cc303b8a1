package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/execution"
	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/operations"
	"github.com/loomhq/loom/pkg/persistence"
	"github.com/loomhq/loom/pkg/presence"
	"github.com/loomhq/loom/pkg/session"
)

type Handlers struct {
	supervisor  *session.Supervisor
	presence    *presence.Registry
	starter     *execution.Starter
	bridge      *execution.Bridge
	persistence persistence.Persistence
	bus         eventbus.EventBus
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewHandlers(
	supervisor *session.Supervisor,
	presenceRegistry *presence.Registry,
	starter *execution.Starter,
	bridge *execution.Bridge,
	persist persistence.Persistence,
	bus eventbus.EventBus,
	validate *validator.Validate,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		supervisor:  supervisor,
		presence:    presenceRegistry,
		starter:     starter,
		bridge:      bridge,
		persistence: persist,
		bus:         bus,
		validate:    validate,
		logger:      logger.With("module", "web"),
	}
}

// GetSyncState answers GET /workflows/:id/session/state?have_seq=N.
func (h *Handlers) GetSyncState(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	haveSeq := int64(-1)

	if raw := c.Query("have_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return badRequest(c, "Invalid have_seq parameter")
		}

		haveSeq = parsed
	}

	authority, err := h.supervisor.EnsureSession(c.Context(), workflowID)
	if err != nil {
		return handleSessionError(c, err)
	}

	state, err := authority.SyncState(c.Context(), haveSeq)
	if err != nil {
		return handleSessionError(c, err)
	}

	return c.JSON(state)
}

// SubmitOperation answers POST /workflows/:id/operations.
func (h *Handlers) SubmitOperation(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req SubmitOperationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := operations.ValidatePayload(req.Type, req.Payload); err != nil {
		return badRequest(c, err.Error())
	}

	authority, err := h.supervisor.EnsureSession(c.Context(), workflowID)
	if err != nil {
		return handleSessionError(c, err)
	}

	applied, err := authority.ApplyOperation(c.Context(), &operations.Envelope{
		Type:      req.Type,
		Payload:   req.Payload,
		UserID:    req.UserID,
		ClientSeq: req.ClientSeq,
	})
	if err != nil {
		return handleSessionError(c, err)
	}

	return c.JSON(applied)
}

// AcquireLock answers POST /workflows/:id/nodes/:nodeId/lock.
func (h *Handlers) AcquireLock(c fiber.Ctx) error {
	workflowID := c.Params("id")
	nodeID := c.Params("nodeId")

	if workflowID == "" || nodeID == "" {
		return badRequest(c, "Workflow ID and node ID are required")
	}

	var req LockRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	authority, err := h.supervisor.EnsureSession(c.Context(), workflowID)
	if err != nil {
		return handleSessionError(c, err)
	}

	lock, err := authority.AcquireNodeLock(c.Context(), nodeID, req.UserID)
	if err != nil {
		return handleSessionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(lock)
}

// ReleaseLock answers DELETE /workflows/:id/nodes/:nodeId/lock.
func (h *Handlers) ReleaseLock(c fiber.Ctx) error {
	workflowID := c.Params("id")
	nodeID := c.Params("nodeId")

	if workflowID == "" || nodeID == "" {
		return badRequest(c, "Workflow ID and node ID are required")
	}

	var req LockRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	authority, err := h.supervisor.EnsureSession(c.Context(), workflowID)
	if err != nil {
		return handleSessionError(c, err)
	}

	if err := authority.ReleaseNodeLock(c.Context(), nodeID, req.UserID); err != nil {
		return handleSessionError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetEditorState answers GET /workflows/:id/editor.
func (h *Handlers) GetEditorState(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	authority, err := h.supervisor.EnsureSession(c.Context(), workflowID)
	if err != nil {
		return handleSessionError(c, err)
	}

	editor, err := authority.EditorState(c.Context())
	if err != nil {
		return handleSessionError(c, err)
	}

	locks, err := authority.Locks(c.Context())
	if err != nil {
		return handleSessionError(c, err)
	}

	return c.JSON(fiber.Map{
		"editor": editor,
		"locks":  locks,
	})
}

// UpdatePresence answers PUT /workflows/:id/presence/:userId.
func (h *Handlers) UpdatePresence(c fiber.Ctx) error {
	workflowID := c.Params("id")
	userID := c.Params("userId")

	if workflowID == "" || userID == "" {
		return badRequest(c, "Workflow ID and user ID are required")
	}

	var req PresenceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	tracker := h.presence.Tracker(workflowID)

	if req.SelectedNodeIDs != nil {
		tracker.UpdateSelection(c.Context(), userID, req.SelectedNodeIDs)
	}

	if req.FocusedNodeID != nil {
		if *req.FocusedNodeID == "" {
			tracker.ClearFocus(c.Context(), userID)
		} else {
			tracker.UpdateFocus(c.Context(), userID, *req.FocusedNodeID)
		}
	}

	return c.JSON(fiber.Map{"users": tracker.Users()})
}

// Disconnect answers DELETE /workflows/:id/presence/:userId. Removing the
// presence entry triggers the disconnect hooks, which release the user's
// node locks.
func (h *Handlers) Disconnect(c fiber.Ctx) error {
	workflowID := c.Params("id")
	userID := c.Params("userId")

	if workflowID == "" || userID == "" {
		return badRequest(c, "Workflow ID and user ID are required")
	}

	h.presence.Tracker(workflowID).Disconnect(c.Context(), userID)

	return c.SendStatus(fiber.StatusNoContent)
}

// StartExecution answers POST /executions. Preview and partial runs use the
// session's current draft and editor overlay; production runs use the draft
// without the overlay.
func (h *Handlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if req.Type == "" {
		req.Type = models.ExecutionTypePreview
	}

	authority, err := h.supervisor.EnsureSession(c.Context(), req.WorkflowID)
	if err != nil {
		return handleSessionError(c, err)
	}

	draft, _, err := authority.Draft(c.Context())
	if err != nil {
		return handleSessionError(c, err)
	}

	editor := models.NewEditorState()

	if req.Type != models.ExecutionTypeProduction {
		editor, err = authority.EditorState(c.Context())
		if err != nil {
			return handleSessionError(c, err)
		}
	}

	started, err := h.starter.Start(c.Context(), execution.StartRequest{
		ExecutionID: req.ExecutionID,
		WorkflowID:  req.WorkflowID,
		Type:        req.Type,
		TriggerData: req.TriggerData,
		Draft:       draft,
		Editor:      editor,
	})
	if err != nil {
		return handleSessionError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(started)
}

// GetExecution answers GET /executions/:id with the execution and its node
// records.
func (h *Handlers) GetExecution(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	exec, err := h.persistence.Executions().ExecutionByID(c.Context(), executionID)
	if err != nil {
		return handleSessionError(c, err)
	}

	nodes, err := h.persistence.Executions().NodeExecutions(c.Context(), executionID)
	if err != nil {
		return handleSessionError(c, err)
	}

	return c.JSON(fiber.Map{
		"execution": exec,
		"nodes":     nodes,
	})
}

// HealthCheck answers GET /health.
func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
