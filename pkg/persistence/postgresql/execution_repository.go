package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	triggerData, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	metadata, err := json.Marshal(execution.Metadata)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, workflow_version_id, execution_type,
			trigger_data, status, started_at, completed_at, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID, execution.WorkflowVersionID, execution.Type,
		triggerData, execution.Status, execution.StartedAt, execution.CompletedAt, metadata,
	)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return nil
}

func (r *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	current, err := r.ExecutionByID(ctx, execution.ID)
	if err != nil {
		return err
	}

	if current.Status != execution.Status && !current.Status.CanTransitionTo(execution.Status) {
		return persistence.NewExecutionError("UpdateExecution", execution.ID,
			fmt.Errorf("%w: %s -> %s", persistence.ErrInvalidStatusTransition, current.Status, execution.Status))
	}

	metadata, err := json.Marshal(execution.Metadata)
	if err != nil {
		return persistence.NewExecutionError("UpdateExecution", execution.ID, err)
	}

	query := `
		UPDATE executions
		SET status = $2, started_at = $3, completed_at = $4, metadata = $5
		WHERE id = $1
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.Status, execution.StartedAt, execution.CompletedAt, metadata,
	)
	if err != nil {
		return persistence.NewExecutionError("UpdateExecution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `
		SELECT
			id, workflow_id, workflow_version_id, execution_type,
			trigger_data, status, started_at, completed_at, metadata
		FROM executions
		WHERE id = $1
	`

	var (
		execution   models.Execution
		triggerData []byte
		metadata    []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&execution.ID, &execution.WorkflowID, &execution.WorkflowVersionID, &execution.Type,
		&triggerData, &execution.Status, &execution.StartedAt, &execution.CompletedAt, &metadata,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	if len(triggerData) > 0 {
		err = json.Unmarshal(triggerData, &execution.TriggerData)
		if err != nil {
			return nil, persistence.NewExecutionError("ExecutionByID", id, err)
		}
	}

	if len(metadata) > 0 {
		err = json.Unmarshal(metadata, &execution.Metadata)
		if err != nil {
			return nil, persistence.NewExecutionError("ExecutionByID", id, err)
		}
	}

	return &execution, nil
}

func (r *ExecutionRepository) SaveNodeExecution(ctx context.Context, nodeExecution *models.NodeExecution) error {
	var status models.NodeStatus

	err := r.db.QueryRowContext(ctx,
		"SELECT status FROM node_executions WHERE execution_id = $1 AND node_id = $2",
		nodeExecution.ExecutionID, nodeExecution.NodeID,
	).Scan(&status)

	switch {
	case err == nil:
		if status.IsTerminal() {
			return &persistence.ExecutionError{
				Op:          "SaveNodeExecution",
				ExecutionID: nodeExecution.ExecutionID,
				NodeID:      nodeExecution.NodeID,
				Err:         persistence.ErrTerminalNodeExecution,
			}
		}
	case errors.Is(err, sql.ErrNoRows):
		// First write for this node.
	default:
		return persistence.NewExecutionError("SaveNodeExecution", nodeExecution.ExecutionID, err)
	}

	inputData, err := json.Marshal(nodeExecution.InputData)
	if err != nil {
		return persistence.NewExecutionError("SaveNodeExecution", nodeExecution.ExecutionID, err)
	}

	outputData, err := json.Marshal(nodeExecution.OutputData)
	if err != nil {
		return persistence.NewExecutionError("SaveNodeExecution", nodeExecution.ExecutionID, err)
	}

	query := `
		INSERT INTO node_executions (
			execution_id, node_id, node_type, status,
			input_data, output_data, error, queued_at, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (execution_id, node_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			input_data = EXCLUDED.input_data,
			output_data = EXCLUDED.output_data,
			error = EXCLUDED.error,
			queued_at = EXCLUDED.queued_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		nodeExecution.ExecutionID, nodeExecution.NodeID, nodeExecution.NodeType, nodeExecution.Status,
		inputData, outputData, nodeExecution.Error,
		nodeExecution.QueuedAt, nodeExecution.StartedAt, nodeExecution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveNodeExecution", nodeExecution.ExecutionID, err)
	}

	return nil
}

func (r *ExecutionRepository) NodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	query := `
		SELECT
			execution_id, node_id, node_type, status,
			input_data, output_data, error, queued_at, started_at, completed_at
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY COALESCE(queued_at, started_at, completed_at) ASC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("NodeExecutions", executionID, err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.NodeExecution, 0)

	for rows.Next() {
		var (
			record     models.NodeExecution
			inputData  []byte
			outputData []byte
			errorText  sql.NullString
		)

		err = rows.Scan(
			&record.ExecutionID, &record.NodeID, &record.NodeType, &record.Status,
			&inputData, &outputData, &errorText,
			&record.QueuedAt, &record.StartedAt, &record.CompletedAt,
		)
		if err != nil {
			return nil, persistence.NewExecutionError("NodeExecutions", executionID, err)
		}

		if len(inputData) > 0 {
			err = json.Unmarshal(inputData, &record.InputData)
			if err != nil {
				return nil, persistence.NewExecutionError("NodeExecutions", executionID, err)
			}
		}

		if len(outputData) > 0 {
			err = json.Unmarshal(outputData, &record.OutputData)
			if err != nil {
				return nil, persistence.NewExecutionError("NodeExecutions", executionID, err)
			}
		}

		record.Error = errorText.String
		records = append(records, &record)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewExecutionError("NodeExecutions", executionID, err)
	}

	return records, nil
}
