package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/pkg/channels/gochannel"
	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/execution"
	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/operations"
	"github.com/loomhq/loom/pkg/persistence/file"
	"github.com/loomhq/loom/pkg/presence"
	"github.com/loomhq/loom/pkg/session"
	"github.com/loomhq/loom/pkg/testutil"
	"github.com/loomhq/loom/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, *session.Supervisor) {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	persist := file.NewPersistence(t.TempDir())

	supervisor := session.NewSupervisor(context.Background(), bus, persist.Drafts(), slog.Default())
	t.Cleanup(func() { _ = supervisor.Close(context.Background()) })

	presenceRegistry := presence.NewRegistry(bus, slog.Default())
	presenceRegistry.OnDisconnect(func(ctx context.Context, workflowID, userID string) {
		if authority, ok := supervisor.Session(workflowID); ok {
			_ = authority.ReleaseUserLocks(ctx, userID)
		}
	})

	starter := execution.NewStarter(bus, persist.Executions(), execution.PassthroughExecutor{}, slog.Default())
	bridge := execution.NewBridge(bus, persist.Executions(), slog.Default())

	handlers := web.NewHandlers(
		supervisor,
		presenceRegistry,
		starter,
		bridge,
		persist,
		bus,
		validator.New(validator.WithRequiredStructEnabled()),
		slog.Default(),
	)

	app := fiber.New()
	handlers.Register(app)

	// Seed one editable workflow.
	draft := testutil.CreateTestDraft("wf-1",
		testutil.CreateTestNode(testutil.WithNodeID("n1")),
		testutil.CreateTestNode(testutil.WithNodeID("n2")),
	)
	require.NoError(t, persist.Drafts().Save(context.Background(), draft, 0))

	return app, supervisor
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func submitOperation(t *testing.T, app *fiber.App, workflowID string, body web.SubmitOperationRequest) *http.Response {
	t.Helper()

	return doJSON(t, app, http.MethodPost, "/workflows/"+workflowID+"/operations", body)
}

func TestGetSyncState(t *testing.T) {
	app, _ := setupTestApp(t)

	t.Run("joiner gets full sync", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/workflows/wf-1/session/state", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var state session.SyncState

		decodeBody(t, resp, &state)
		assert.Equal(t, session.SyncFull, state.Mode)
		require.NotNil(t, state.Draft)
		assert.Len(t, state.Draft.Nodes, 2)
	})

	t.Run("unknown workflow is 404", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/workflows/missing/session/state", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid have_seq is 400", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/workflows/wf-1/session/state?have_seq=abc", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSubmitOperation(t *testing.T) {
	app, _ := setupTestApp(t)

	t.Run("add node commits with sequence", func(t *testing.T) {
		node := testutil.CreateTestNode(testutil.WithNodeID("n3"))
		payload, err := json.Marshal(map[string]any{"node": node})
		require.NoError(t, err)

		resp := submitOperation(t, app, "wf-1", web.SubmitOperationRequest{
			Type:    operations.KindAddNode,
			Payload: payload,
			UserID:  "alice",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var applied session.Applied

		decodeBody(t, resp, &applied)
		assert.Equal(t, uint64(1), applied.Seq)
	})

	t.Run("unknown operation type is 400", func(t *testing.T) {
		resp := submitOperation(t, app, "wf-1", web.SubmitOperationRequest{
			Type:    operations.Kind("explode_node"),
			Payload: json.RawMessage(`{}`),
			UserID:  "alice",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing user id is 400", func(t *testing.T) {
		resp := submitOperation(t, app, "wf-1", web.SubmitOperationRequest{
			Type:    operations.KindRemoveNode,
			Payload: json.RawMessage(`{"node_id":"n1"}`),
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("removing a missing node is 404", func(t *testing.T) {
		resp := submitOperation(t, app, "wf-1", web.SubmitOperationRequest{
			Type:    operations.KindRemoveNode,
			Payload: json.RawMessage(`{"node_id":"ghost"}`),
			UserID:  "alice",
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		var problem map[string]any
		decodeBody(t, resp, &problem)
		assert.Equal(t, "not_found", problem["type"])
	})

	t.Run("schema rejects malformed payload", func(t *testing.T) {
		resp := submitOperation(t, app, "wf-1", web.SubmitOperationRequest{
			Type:    operations.KindRemoveNode,
			Payload: json.RawMessage(`{"node_id":7}`),
			UserID:  "alice",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLockEndpoints(t *testing.T) {
	app, _ := setupTestApp(t)

	t.Run("acquire then conflict then release", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/workflows/wf-1/nodes/n1/lock", web.LockRequest{UserID: "alice"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var lock models.NodeLock

		decodeBody(t, resp, &lock)
		assert.Equal(t, "alice", lock.UserID)

		resp = doJSON(t, app, http.MethodPost, "/workflows/wf-1/nodes/n1/lock", web.LockRequest{UserID: "bob"})
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		var conflict map[string]any

		decodeBody(t, resp, &conflict)
		assert.Equal(t, "alice", conflict["locked_by"])

		resp = doJSON(t, app, http.MethodDelete, "/workflows/wf-1/nodes/n1/lock", web.LockRequest{UserID: "alice"})
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, app, http.MethodPost, "/workflows/wf-1/nodes/n1/lock", web.LockRequest{UserID: "bob"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("locking a missing node is 404", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/workflows/wf-1/nodes/ghost/lock", web.LockRequest{UserID: "alice"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("locked node blocks foreign operation with 409", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/workflows/wf-1/nodes/n2/lock", web.LockRequest{UserID: "alice"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = submitOperation(t, app, "wf-1", web.SubmitOperationRequest{
			Type:    operations.KindUpdateNodeConfig,
			Payload: json.RawMessage(`{"node_id":"n2","config":{"x":1}}`),
			UserID:  "bob",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestEditorStateEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := submitOperation(t, app, "wf-1", web.SubmitOperationRequest{
		Type:    operations.KindPinNodeOutput,
		Payload: json.RawMessage(`{"node_id":"n1","output_data":{"cached":true}}`),
		UserID:  "alice",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/workflows/wf-1/editor", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Editor models.EditorState `json:"editor"`
	}

	decodeBody(t, resp, &body)
	assert.Contains(t, body.Editor.PinnedOutputs, "n1")
}

func TestPresenceEndpoints(t *testing.T) {
	app, supervisor := setupTestApp(t)
	ctx := context.Background()

	focused := "n1"
	resp := doJSON(t, app, http.MethodPut, "/workflows/wf-1/presence/alice", web.PresenceRequest{
		SelectedNodeIDs: []string{"n1"},
		FocusedNodeID:   &focused,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var roster struct {
		Users []*models.PresenceEntry `json:"users"`
	}

	decodeBody(t, resp, &roster)
	require.Len(t, roster.Users, 1)
	assert.Equal(t, "alice", roster.Users[0].UserID)

	// Alice takes a lock, then disconnects: the hook releases it.
	resp = doJSON(t, app, http.MethodPost, "/workflows/wf-1/nodes/n1/lock", web.LockRequest{UserID: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, app, http.MethodDelete, "/workflows/wf-1/presence/alice", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	authority, ok := supervisor.Session("wf-1")
	require.True(t, ok)

	locks, err := authority.Locks(ctx)
	require.NoError(t, err)
	assert.Empty(t, locks, "disconnect released alice's locks")
}

func TestExecutionEndpoints(t *testing.T) {
	app, _ := setupTestApp(t)

	t.Run("start preview run", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/executions/", web.StartExecutionRequest{
			ExecutionID: "exec-1",
			WorkflowID:  "wf-1",
			Type:        models.ExecutionTypePreview,
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var started models.Execution

		decodeBody(t, resp, &started)
		assert.Equal(t, "exec-1", started.ID)

		// Idempotent restart.
		resp = doJSON(t, app, http.MethodPost, "/executions/", web.StartExecutionRequest{
			ExecutionID: "exec-1",
			WorkflowID:  "wf-1",
			Type:        models.ExecutionTypePreview,
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var restarted models.Execution

		decodeBody(t, resp, &restarted)
		assert.Equal(t, started.ID, restarted.ID)
	})

	t.Run("unknown workflow is 404", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/executions/", web.StartExecutionRequest{
			WorkflowID: "missing",
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown execution is 404", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/executions/missing", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
