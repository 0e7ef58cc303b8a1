// Package persistence provides the storage abstraction for workflow drafts
// and execution history.
package persistence

import (
	"context"

	"github.com/loomhq/loom/pkg/models"
)

type Persistence interface {
	Drafts() DraftRepository
	Executions() ExecutionRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// DraftRepository stores the canonical draft of each workflow together with
// the sequence number of the last applied operation. The session authority
// seeds from Load and checkpoints through Save; it is the only writer while
// a session is active.
type DraftRepository interface {
	Load(ctx context.Context, workflowID string) (*models.Draft, uint64, error)
	Save(ctx context.Context, draft *models.Draft, seq uint64) error
	Delete(ctx context.Context, workflowID string) error
}

// ExecutionRepository stores execution and per-node execution records. Node
// executions that reached a terminal status are immutable; saving over one
// fails with ErrTerminalNodeExecution.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	UpdateExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	SaveNodeExecution(ctx context.Context, nodeExecution *models.NodeExecution) error
	// NodeExecutions returns the records for one execution sorted by
	// timestamp, the order used to reconstruct history for late joiners.
	NodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error)
}
