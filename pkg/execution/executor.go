package execution

import (
	"context"

	"github.com/loomhq/loom/pkg/models"
)

// NodeExecutor runs the semantics of a single node. Node behavior is an
// external collaborator: the runner decides which nodes run and in what
// order, the executor decides what a node does with its input.
type NodeExecutor interface {
	Execute(ctx context.Context, node *models.Node, input map[string]any) (map[string]any, error)
}

// PassthroughExecutor forwards each node's input as its output. Used by
// loom-runner when no node semantics are plugged in, and by tests that only
// care about traversal order and event emission.
type PassthroughExecutor struct{}

func (PassthroughExecutor) Execute(_ context.Context, _ *models.Node, input map[string]any) (map[string]any, error) {
	return input, nil
}
