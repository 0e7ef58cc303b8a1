// Package file provides file-based persistence used in tests and local
// development. Drafts and executions are stored as JSON documents under a
// root directory.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/loomhq/loom/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the
// file system.
type Persistence struct {
	root          string
	draftRepo     *DraftRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a new instance rooted at the given directory. The
// root may carry a file:// scheme prefix.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		draftRepo:     NewDraftRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Drafts() persistence.DraftRepository {
	return fp.draftRepo
}

func (fp *Persistence) Executions() persistence.ExecutionRepository {
	return fp.executionRepo
}
