package models

// DisableMode controls how a disabled node behaves during execution.
type DisableMode string

const (
	// DisableModeSkip passes input through the node unchanged.
	DisableModeSkip DisableMode = "skip"
	// DisableModeStop halts the branch at the disabled node.
	DisableModeStop DisableMode = "stop"
)

// EditorState is the per-session overlay on top of a draft: pinned node
// outputs and disabled nodes. It is not part of the persisted draft and lives
// exactly as long as the session authority; a restart resets it. Entries that
// reference a node no longer present in the draft are stale but are not
// auto-removed; the draft is authoritative.
type EditorState struct {
	PinnedOutputs map[string]any         `json:"pinned_outputs"`
	DisabledNodes map[string]DisableMode `json:"disabled_nodes"`
}

// NewEditorState returns an empty overlay.
func NewEditorState() *EditorState {
	return &EditorState{
		PinnedOutputs: make(map[string]any),
		DisabledNodes: make(map[string]DisableMode),
	}
}

// Clone returns a copy of the overlay with its own maps.
func (e *EditorState) Clone() *EditorState {
	clone := NewEditorState()

	for k, v := range e.PinnedOutputs {
		clone.PinnedOutputs[k] = v
	}

	for k, v := range e.DisabledNodes {
		clone.DisabledNodes[k] = v
	}

	return clone
}

// IsPinned reports whether the node has a pinned output.
func (e *EditorState) IsPinned(nodeID string) bool {
	_, ok := e.PinnedOutputs[nodeID]

	return ok
}

// IsDisabled reports whether the node is disabled.
func (e *EditorState) IsDisabled(nodeID string) bool {
	_, ok := e.DisabledNodes[nodeID]

	return ok
}
