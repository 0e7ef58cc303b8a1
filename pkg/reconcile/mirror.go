// Package reconcile maintains a client-side mirror of an edit session. The
// mirror applies the authority's broadcasts through the same operation
// engine, so a mirror that has seen every sequence number holds exactly the
// authority's draft. Everything here is deterministic and does no I/O; the
// transport and resync round-trips belong to the caller.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/loomhq/loom/pkg/events"
	"github.com/loomhq/loom/pkg/models"
	"github.com/loomhq/loom/pkg/operations"
	"github.com/loomhq/loom/pkg/session"
)

var (
	// ErrSequenceGap reports a broadcast that is not the next sequence
	// number. The mirror must be reset from a full sync.
	ErrSequenceGap = errors.New("sequence gap")

	// ErrDiverged reports that a broadcast the authority committed failed
	// against the local state. That means the mirror is corrupt; the only
	// recovery is a full resync.
	ErrDiverged = errors.New("mirror diverged from authority")

	// ErrNotSynced reports use of a mirror before its first full sync.
	ErrNotSynced = errors.New("mirror not synced")
)

// GapError carries the sequence numbers around a gap.
type GapError struct {
	Have uint64
	Got  uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("sequence gap: have %d, got %d", e.Have, e.Got)
}

func (e *GapError) Is(target error) bool {
	return target == ErrSequenceGap
}

// UIState is the purely local editor state layered over the mirrored draft.
type UIState struct {
	SelectedNodeIDs  []string
	FocusedNodeID    string
	OpenConfigNodeID string
	HeldLocks        map[string]struct{}
}

// Mirror is one client's replica of a session. Not safe for concurrent use;
// a client owns exactly one mirror and drives it from one goroutine.
type Mirror struct {
	draft  *models.Draft
	editor *models.EditorState
	seq    uint64
	synced bool
	ui     UIState
}

func NewMirror() *Mirror {
	return &Mirror{
		ui: UIState{HeldLocks: make(map[string]struct{})},
	}
}

// ResetFromSync adopts the authority's sync response. A full sync replaces
// all mirrored state and keeps local UI state where it still resolves; an
// incremental sync applies the missed broadcasts in order.
func (m *Mirror) ResetFromSync(state *session.SyncState) error {
	switch state.Mode {
	case session.SyncFull:
		m.draft = state.Draft.Clone()
		m.editor = state.Editor.Clone()
		m.seq = state.Seq
		m.synced = true
		m.repairUI()

		return nil
	case session.SyncUpToDate:
		if !m.synced {
			return ErrNotSynced
		}

		return nil
	case session.SyncIncremental:
		if !m.synced {
			return ErrNotSynced
		}

		for _, ev := range state.Missed {
			if err := m.ApplyBroadcast(ev); err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("unknown sync mode %q", state.Mode)
	}
}

// ApplyBroadcast applies one operation.applied broadcast. Broadcasts must
// arrive in exact sequence order; a gap means the client missed one and has
// to resync.
func (m *Mirror) ApplyBroadcast(ev *events.OperationApplied) error {
	if !m.synced {
		return ErrNotSynced
	}

	if ev.Seq != m.seq+1 {
		return &GapError{Have: m.seq, Got: ev.Seq}
	}

	op, err := operations.Decode(ev.Operation)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDiverged, err)
	}

	result, err := operations.Apply(m.draft, m.editor, op)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDiverged, err)
	}

	if result.Draft != nil {
		m.draft = result.Draft
	}

	if result.Editor != nil {
		m.editor = result.Editor
	}

	m.seq = ev.Seq

	if result.RemovedNodeID != "" {
		m.dropNodeReferences(result.RemovedNodeID)
	}

	return nil
}

// Seq is the sequence number of the last applied broadcast.
func (m *Mirror) Seq() uint64 {
	return m.seq
}

// Draft is the mirrored draft. Callers must treat it as read-only.
func (m *Mirror) Draft() *models.Draft {
	return m.draft
}

// Editor is the mirrored overlay. Callers must treat it as read-only.
func (m *Mirror) Editor() *models.EditorState {
	return m.editor
}

func (m *Mirror) UI() *UIState {
	return &m.ui
}

// SetSelection replaces the locally selected nodes.
func (m *Mirror) SetSelection(nodeIDs []string) {
	m.ui.SelectedNodeIDs = append([]string(nil), nodeIDs...)
}

// SetFocus marks the node the user is inspecting on the canvas.
func (m *Mirror) SetFocus(nodeID string) {
	m.ui.FocusedNodeID = nodeID
}

// OpenConfig marks the node whose configuration panel is open.
func (m *Mirror) OpenConfig(nodeID string) {
	m.ui.OpenConfigNodeID = nodeID
}

// TrackLock records a lock this client holds.
func (m *Mirror) TrackLock(nodeID string) {
	m.ui.HeldLocks[nodeID] = struct{}{}
}

// UntrackLock forgets a lock this client released.
func (m *Mirror) UntrackLock(nodeID string) {
	delete(m.ui.HeldLocks, nodeID)
}

// dropNodeReferences repairs UI state after a node was removed, locally or
// by another editor: the node leaves the selection, closes its config panel,
// loses focus, and any held lock on it is forgotten.
func (m *Mirror) dropNodeReferences(nodeID string) {
	kept := m.ui.SelectedNodeIDs[:0]

	for _, id := range m.ui.SelectedNodeIDs {
		if id != nodeID {
			kept = append(kept, id)
		}
	}

	m.ui.SelectedNodeIDs = kept

	if m.ui.FocusedNodeID == nodeID {
		m.ui.FocusedNodeID = ""
	}

	if m.ui.OpenConfigNodeID == nodeID {
		m.ui.OpenConfigNodeID = ""
	}

	delete(m.ui.HeldLocks, nodeID)
}

// repairUI drops UI references that no longer resolve after a full sync.
func (m *Mirror) repairUI() {
	kept := m.ui.SelectedNodeIDs[:0]

	for _, id := range m.ui.SelectedNodeIDs {
		if m.draft.HasNode(id) {
			kept = append(kept, id)
		}
	}

	m.ui.SelectedNodeIDs = kept

	if m.ui.FocusedNodeID != "" && !m.draft.HasNode(m.ui.FocusedNodeID) {
		m.ui.FocusedNodeID = ""
	}

	if m.ui.OpenConfigNodeID != "" && !m.draft.HasNode(m.ui.OpenConfigNodeID) {
		m.ui.OpenConfigNodeID = ""
	}

	for nodeID := range m.ui.HeldLocks {
		if !m.draft.HasNode(nodeID) {
			delete(m.ui.HeldLocks, nodeID)
		}
	}
}
