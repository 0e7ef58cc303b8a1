// Package testutil provides test data builders shared across packages.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/pkg/models"
)

// CreateTestNode creates a node with sensible defaults that overrides can
// adjust.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:       uuid.New().String(),
		Type:     "transform",
		Name:     "Test Node",
		Config:   map[string]any{"expression": "payload"},
		Position: models.Position{X: 100, Y: 200},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithNodeID sets the node id.
func WithNodeID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// WithNodeConfig replaces the node config.
func WithNodeConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// CreateTestDraft creates a draft with the given nodes and a linear chain of
// connections between them.
func CreateTestDraft(workflowID string, nodes ...*models.Node) *models.Draft {
	draft := &models.Draft{
		WorkflowID: workflowID,
		Nodes:      nodes,
		UpdatedAt:  time.Now().UTC(),
	}

	for i := 1; i < len(nodes); i++ {
		draft.Connections = append(draft.Connections, &models.Connection{
			ID:       nodes[i-1].ID + "->" + nodes[i].ID,
			SourceID: nodes[i-1].ID,
			TargetID: nodes[i].ID,
		})
	}

	return draft
}

// CreateTestExecution creates a pending execution for a workflow.
func CreateTestExecution(workflowID string, overrides ...func(*models.Execution)) *models.Execution {
	execution := &models.Execution{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Type:       models.ExecutionTypePreview,
		Status:     models.ExecutionStatusPending,
		Metadata:   map[string]any{},
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}
