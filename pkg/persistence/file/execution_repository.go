package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/persistence"
)

// ExecutionRepository stores one JSON document per execution, holding the
// execution record and its per-node records.
type ExecutionRepository struct {
	root string
	mu   sync.Mutex
}

type executionDocument struct {
	Execution      *models.Execution        `json:"execution"`
	NodeExecutions []*models.NodeExecution  `json:"node_executions"`
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (r *ExecutionRepository) path(executionID string) string {
	return filepath.Join(r.root, "executions", executionID+".json")
}

func (r *ExecutionRepository) read(executionID string) (*executionDocument, error) {
	data, err := os.ReadFile(r.path(executionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, err
	}

	var doc executionDocument

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("corrupt execution document: %w", err)
	}

	return &doc, nil
}

func (r *ExecutionRepository) write(doc *executionDocument) error {
	dir := filepath.Join(r.root, "executions")

	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(r.path(doc.Execution.ID), data, filePerm)
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.read(execution.ID)
	if err == nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if !errors.Is(err, persistence.ErrExecutionNotFound) {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	err = r.write(&executionDocument{Execution: execution, NodeExecutions: nil})
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("UpdateExecution", execution.ID, err)
	}

	current := doc.Execution.Status
	if current != execution.Status && !current.CanTransitionTo(execution.Status) {
		return persistence.NewExecutionError("UpdateExecution", execution.ID,
			fmt.Errorf("%w: %s -> %s", persistence.ErrInvalidStatusTransition, current, execution.Status))
	}

	doc.Execution = execution

	err = r.write(doc)
	if err != nil {
		return persistence.NewExecutionError("UpdateExecution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read(id)
	if err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	return doc.Execution, nil
}

func (r *ExecutionRepository) SaveNodeExecution(ctx context.Context, nodeExecution *models.NodeExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read(nodeExecution.ExecutionID)
	if err != nil {
		err = persistence.NewExecutionError("SaveNodeExecution", nodeExecution.ExecutionID, err)

		return err
	}

	for i, existing := range doc.NodeExecutions {
		if existing.NodeID != nodeExecution.NodeID {
			continue
		}

		if existing.Status.IsTerminal() {
			return &persistence.ExecutionError{
				Op:          "SaveNodeExecution",
				ExecutionID: nodeExecution.ExecutionID,
				NodeID:      nodeExecution.NodeID,
				Err:         persistence.ErrTerminalNodeExecution,
			}
		}

		doc.NodeExecutions[i] = nodeExecution

		return r.write(doc)
	}

	doc.NodeExecutions = append(doc.NodeExecutions, nodeExecution)

	return r.write(doc)
}

func (r *ExecutionRepository) NodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read(executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("NodeExecutions", executionID, err)
	}

	records := make([]*models.NodeExecution, len(doc.NodeExecutions))
	copy(records, doc.NodeExecutions)

	sort.SliceStable(records, func(i, j int) bool {
		return nodeExecutionTime(records[i]).Before(nodeExecutionTime(records[j]))
	})

	return records, nil
}

// nodeExecutionTime picks the earliest meaningful timestamp of a record for
// history ordering.
func nodeExecutionTime(record *models.NodeExecution) time.Time {
	switch {
	case record.QueuedAt != nil:
		return *record.QueuedAt
	case record.StartedAt != nil:
		return *record.StartedAt
	case record.CompletedAt != nil:
		return *record.CompletedAt
	default:
		return time.Time{}
	}
}
