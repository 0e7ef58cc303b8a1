package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence("file://" + t.TempDir())
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := newTestPersistence(t)
	assert.NoError(t, p.HealthCheck(context.Background()))

	missing := NewPersistence("/nonexistent/loom-test-root")
	assert.Error(t, missing.HealthCheck(context.Background()))
}

func TestDraftRepository_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).Drafts()

	draft := &models.Draft{
		WorkflowID: "wf-1",
		Nodes: []*models.Node{
			{ID: "a", Type: "math", Name: "A", Config: map[string]any{"operand": float64(1)}},
		},
		Connections: []*models.Connection{
			{ID: "a->b", SourceID: "a", TargetID: "b"},
		},
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, repo.Save(ctx, draft, 42))

	loaded, seq, err := repo.Load(ctx, "wf-1")
	require.NoError(t, err)

	assert.Equal(t, uint64(42), seq)
	assert.Equal(t, draft.WorkflowID, loaded.WorkflowID)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, float64(1), loaded.Nodes[0].Config["operand"])
}

func TestDraftRepository_LoadMissing(t *testing.T) {
	repo := newTestPersistence(t).Drafts()

	_, _, err := repo.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, persistence.ErrDraftNotFound)
	assert.True(t, persistence.IsDraftNotFound(err))
}

func TestDraftRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).Drafts()

	require.NoError(t, repo.Save(ctx, &models.Draft{WorkflowID: "wf-1"}, 1))
	require.NoError(t, repo.Delete(ctx, "wf-1"))

	_, _, err := repo.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, persistence.ErrDraftNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "wf-1"), persistence.ErrDraftNotFound)
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).Executions()

	execution := &models.Execution{
		ID:         "ex-1",
		WorkflowID: "wf-1",
		Type:       models.ExecutionTypePreview,
		Status:     models.ExecutionStatusPending,
	}

	require.NoError(t, repo.CreateExecution(ctx, execution))
	assert.ErrorIs(t, repo.CreateExecution(ctx, execution), persistence.ErrExecutionAlreadyExists)

	execution.Status = models.ExecutionStatusRunning
	require.NoError(t, repo.UpdateExecution(ctx, execution))

	loaded, err := repo.ExecutionByID(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, loaded.Status)
}

func TestExecutionRepository_RejectsBackwardTransition(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).Executions()

	execution := &models.Execution{
		ID:         "ex-1",
		WorkflowID: "wf-1",
		Type:       models.ExecutionTypePreview,
		Status:     models.ExecutionStatusPending,
	}
	require.NoError(t, repo.CreateExecution(ctx, execution))

	execution.Status = models.ExecutionStatusRunning
	require.NoError(t, repo.UpdateExecution(ctx, execution))

	execution.Status = models.ExecutionStatusCompleted
	require.NoError(t, repo.UpdateExecution(ctx, execution))

	execution.Status = models.ExecutionStatusRunning
	assert.ErrorIs(t, repo.UpdateExecution(ctx, execution), persistence.ErrInvalidStatusTransition)
}

func TestExecutionRepository_NodeExecutions(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).Executions()

	require.NoError(t, repo.CreateExecution(ctx, &models.Execution{
		ID:         "ex-1",
		WorkflowID: "wf-1",
		Type:       models.ExecutionTypePreview,
		Status:     models.ExecutionStatusPending,
	}))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Save out of chronological order; reads come back sorted by timestamp.
	for _, record := range []*models.NodeExecution{
		newNodeExecution("ex-1", "b", base.Add(time.Second)),
		newNodeExecution("ex-1", "a", base),
		newNodeExecution("ex-1", "c", base.Add(2*time.Second)),
	} {
		require.NoError(t, repo.SaveNodeExecution(ctx, record))
	}

	records, err := repo.NodeExecutions(ctx, "ex-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].NodeID)
	assert.Equal(t, "b", records[1].NodeID)
	assert.Equal(t, "c", records[2].NodeID)
}

func TestExecutionRepository_TerminalNodeExecutionIsImmutable(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).Executions()

	require.NoError(t, repo.CreateExecution(ctx, &models.Execution{
		ID:         "ex-1",
		WorkflowID: "wf-1",
		Type:       models.ExecutionTypePreview,
		Status:     models.ExecutionStatusPending,
	}))

	started := time.Now().UTC()
	completed := started.Add(time.Second)

	record := &models.NodeExecution{
		ExecutionID: "ex-1",
		NodeID:      "a",
		Status:      models.NodeStatusCompleted,
		StartedAt:   &started,
		CompletedAt: &completed,
	}
	require.NoError(t, repo.SaveNodeExecution(ctx, record))

	record.Status = models.NodeStatusRunning
	assert.ErrorIs(t, repo.SaveNodeExecution(ctx, record), persistence.ErrTerminalNodeExecution)
}

func newNodeExecution(executionID, nodeID string, startedAt time.Time) *models.NodeExecution {
	return &models.NodeExecution{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Status:      models.NodeStatusRunning,
		StartedAt:   &startedAt,
	}
}
