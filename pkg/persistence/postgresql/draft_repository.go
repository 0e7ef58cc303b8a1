package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/persistence"
)

// DraftRepository handles draft-related database operations.
type DraftRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDraftRepository creates a new draft repository.
func NewDraftRepository(db *sql.DB, logger *slog.Logger) *DraftRepository {
	return &DraftRepository{db: db, logger: logger}
}

func (r *DraftRepository) Load(ctx context.Context, workflowID string) (*models.Draft, uint64, error) {
	query := `
		SELECT document, seq
		FROM drafts
		WHERE workflow_id = $1
	`

	var (
		document []byte
		seq      uint64
	)

	err := r.db.QueryRowContext(ctx, query, workflowID).Scan(&document, &seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, persistence.NewDraftError("Load", workflowID, persistence.ErrDraftNotFound)
		}

		return nil, 0, persistence.NewDraftError("Load", workflowID, err)
	}

	var draft models.Draft

	err = json.Unmarshal(document, &draft)
	if err != nil {
		return nil, 0, persistence.NewDraftError("Load", workflowID, fmt.Errorf("corrupt draft document: %w", err))
	}

	return &draft, seq, nil
}

func (r *DraftRepository) Save(ctx context.Context, draft *models.Draft, seq uint64) error {
	document, err := json.Marshal(draft)
	if err != nil {
		return persistence.NewDraftError("Save", draft.WorkflowID, err)
	}

	query := `
		INSERT INTO drafts (workflow_id, document, seq, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workflow_id)
		DO UPDATE SET document = EXCLUDED.document, seq = EXCLUDED.seq, updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query, draft.WorkflowID, document, seq, time.Now().UTC())
	if err != nil {
		return persistence.NewDraftError("Save", draft.WorkflowID, err)
	}

	return nil
}

func (r *DraftRepository) Delete(ctx context.Context, workflowID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM drafts WHERE workflow_id = $1", workflowID)
	if err != nil {
		return persistence.NewDraftError("Delete", workflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewDraftError("Delete", workflowID, err)
	}

	if affected == 0 {
		return persistence.NewDraftError("Delete", workflowID, persistence.ErrDraftNotFound)
	}

	return nil
}
