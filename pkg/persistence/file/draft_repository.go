package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/persistence"
)

const dirPerm = 0o755
const filePerm = 0o644

// DraftRepository stores one JSON document per workflow draft, together with
// the last applied sequence number.
type DraftRepository struct {
	root string
	mu   sync.Mutex
}

type draftDocument struct {
	Draft *models.Draft `json:"draft"`
	Seq   uint64        `json:"seq"`
}

// NewDraftRepository creates a new draft repository.
func NewDraftRepository(root string) *DraftRepository {
	return &DraftRepository{root: root}
}

func (r *DraftRepository) path(workflowID string) string {
	return filepath.Join(r.root, "drafts", workflowID+".json")
}

func (r *DraftRepository) Load(ctx context.Context, workflowID string) (*models.Draft, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path(workflowID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, persistence.NewDraftError("Load", workflowID, persistence.ErrDraftNotFound)
		}

		return nil, 0, persistence.NewDraftError("Load", workflowID, err)
	}

	var doc draftDocument

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, 0, persistence.NewDraftError("Load", workflowID, fmt.Errorf("corrupt draft document: %w", err))
	}

	return doc.Draft, doc.Seq, nil
}

func (r *DraftRepository) Save(ctx context.Context, draft *models.Draft, seq uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Join(r.root, "drafts")

	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return persistence.NewDraftError("Save", draft.WorkflowID, err)
	}

	data, err := json.MarshalIndent(draftDocument{Draft: draft, Seq: seq}, "", "  ")
	if err != nil {
		return persistence.NewDraftError("Save", draft.WorkflowID, err)
	}

	err = os.WriteFile(r.path(draft.WorkflowID), data, filePerm)
	if err != nil {
		return persistence.NewDraftError("Save", draft.WorkflowID, err)
	}

	return nil
}

func (r *DraftRepository) Delete(ctx context.Context, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.path(workflowID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistence.NewDraftError("Delete", workflowID, persistence.ErrDraftNotFound)
		}

		return persistence.NewDraftError("Delete", workflowID, err)
	}

	return nil
}
