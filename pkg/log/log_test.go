package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithWorkflow(t *testing.T) {
	var buf bytes.Buffer

	logger := WithWorkflow(slog.New(slog.NewTextHandler(&buf, nil)), "wf-1")
	logger.Info("checkpointed draft")

	assert.Contains(t, buf.String(), "workflow_id=wf-1")
	assert.Contains(t, buf.String(), "checkpointed draft")
}
