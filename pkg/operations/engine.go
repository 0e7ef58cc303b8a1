package operations

import (
	"fmt"

	"github.com/loomhq/loom/pkg/models"
)

// Result is the outcome of a successful apply. Exactly one of Draft or
// Editor is set: draft operations return a new draft, overlay operations
// return a new editor state. The inputs are never mutated.
type Result struct {
	Draft  *models.Draft
	Editor *models.EditorState

	// Patch is the key-level config change for update_node_config.
	Patch []PatchEntry

	// RemovedNodeID is set for remove_node so mirrors can repair local
	// references to the deleted node.
	RemovedNodeID string
}

// Apply runs one operation against a draft and its editor overlay. It is
// deterministic and side-effect free: identical inputs always yield an
// identical result, and on error both inputs stand untouched.
func Apply(draft *models.Draft, editor *models.EditorState, op Operation) (*Result, error) {
	switch v := op.(type) {
	case AddNode:
		return applyAddNode(draft, v)
	case RemoveNode:
		return applyRemoveNode(draft, v)
	case UpdateNodeConfig:
		return applyUpdateNodeConfig(draft, v)
	case UpdateNodePosition:
		return applyUpdateNodePosition(draft, v)
	case UpdateNodeMetadata:
		return applyUpdateNodeMetadata(draft, v)
	case AddConnection:
		return applyAddConnection(draft, v)
	case RemoveConnection:
		return applyRemoveConnection(draft, v)
	case PinNodeOutput:
		return applyPinNodeOutput(editor, v)
	case UnpinNodeOutput:
		return applyUnpinNodeOutput(editor, v)
	case DisableNode:
		return applyDisableNode(editor, v)
	case EnableNode:
		return applyEnableNode(draft, editor, v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownOperation, op)
	}
}

func applyAddNode(draft *models.Draft, op AddNode) (*Result, error) {
	if op.Node == nil || op.Node.ID == "" {
		return nil, fmt.Errorf("%w: add_node requires a node with an id", ErrUnknownOperation)
	}

	if draft.HasNode(op.Node.ID) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, op.Node.ID)
	}

	next := draft.Clone()
	next.Nodes = append(next.Nodes, op.Node.Clone())

	return &Result{Draft: next}, nil
}

func applyRemoveNode(draft *models.Draft, op RemoveNode) (*Result, error) {
	if !draft.HasNode(op.NodeID) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, op.NodeID)
	}

	next := draft.Clone()

	nodes := next.Nodes[:0]

	for _, node := range next.Nodes {
		if node.ID != op.NodeID {
			nodes = append(nodes, node)
		}
	}

	next.Nodes = nodes

	// Deleting a node cascades to every edge touching it.
	conns := next.Connections[:0]

	for _, conn := range next.Connections {
		if conn.SourceID != op.NodeID && conn.TargetID != op.NodeID {
			conns = append(conns, conn)
		}
	}

	next.Connections = conns

	return &Result{Draft: next, RemovedNodeID: op.NodeID}, nil
}

func applyUpdateNodeConfig(draft *models.Draft, op UpdateNodeConfig) (*Result, error) {
	node := draft.Node(op.NodeID)
	if node == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, op.NodeID)
	}

	patch := DiffConfig(node.Config, op.Config)

	next := draft.Clone()
	next.Node(op.NodeID).Config = ApplyPatch(node.Config, patch)

	return &Result{Draft: next, Patch: patch}, nil
}

func applyUpdateNodePosition(draft *models.Draft, op UpdateNodePosition) (*Result, error) {
	if !draft.HasNode(op.NodeID) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, op.NodeID)
	}

	next := draft.Clone()
	next.Node(op.NodeID).Position = op.Position

	return &Result{Draft: next}, nil
}

func applyUpdateNodeMetadata(draft *models.Draft, op UpdateNodeMetadata) (*Result, error) {
	node := draft.Node(op.NodeID)
	if node == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, op.NodeID)
	}

	next := draft.Clone()
	target := next.Node(op.NodeID)

	if target.Metadata == nil {
		target.Metadata = make(map[string]any, len(op.Metadata))
	}

	for k, v := range op.Metadata {
		target.Metadata[k] = v
	}

	return &Result{Draft: next}, nil
}

func applyAddConnection(draft *models.Draft, op AddConnection) (*Result, error) {
	missing := make([]string, 0, 2)

	if !draft.HasNode(op.SourceID) {
		missing = append(missing, op.SourceID)
	}

	if !draft.HasNode(op.TargetID) {
		missing = append(missing, op.TargetID)
	}

	if len(missing) > 0 {
		return nil, &MissingNodesError{NodeIDs: missing}
	}

	if draft.Connection(op.SourceID, op.TargetID) != nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrDuplicateConnection, op.SourceID, op.TargetID)
	}

	// The id must be derivable from the operation alone so every replayer
	// assigns the same one.
	connectionID := op.ConnectionID
	if connectionID == "" {
		connectionID = op.SourceID + "->" + op.TargetID
	}

	next := draft.Clone()
	next.Connections = append(next.Connections, &models.Connection{
		ID:       connectionID,
		SourceID: op.SourceID,
		TargetID: op.TargetID,
	})

	return &Result{Draft: next}, nil
}

func applyRemoveConnection(draft *models.Draft, op RemoveConnection) (*Result, error) {
	if draft.Connection(op.SourceID, op.TargetID) == nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrConnectionNotFound, op.SourceID, op.TargetID)
	}

	next := draft.Clone()

	conns := next.Connections[:0]

	for _, conn := range next.Connections {
		if conn.SourceID != op.SourceID || conn.TargetID != op.TargetID {
			conns = append(conns, conn)
		}
	}

	next.Connections = conns

	return &Result{Draft: next}, nil
}

func applyPinNodeOutput(editor *models.EditorState, op PinNodeOutput) (*Result, error) {
	next := editor.Clone()
	next.PinnedOutputs[op.NodeID] = op.OutputData

	return &Result{Editor: next}, nil
}

func applyUnpinNodeOutput(editor *models.EditorState, op UnpinNodeOutput) (*Result, error) {
	if !editor.IsPinned(op.NodeID) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotPinned, op.NodeID)
	}

	next := editor.Clone()
	delete(next.PinnedOutputs, op.NodeID)

	return &Result{Editor: next}, nil
}

func applyDisableNode(editor *models.EditorState, op DisableNode) (*Result, error) {
	mode := op.Mode
	if mode == "" {
		mode = models.DisableModeSkip
	}

	next := editor.Clone()
	next.DisabledNodes[op.NodeID] = mode

	return &Result{Editor: next}, nil
}

func applyEnableNode(draft *models.Draft, editor *models.EditorState, op EnableNode) (*Result, error) {
	if !editor.IsDisabled(op.NodeID) {
		if !draft.HasNode(op.NodeID) {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, op.NodeID)
		}

		return nil, fmt.Errorf("%w: %s", ErrNodeNotDisabled, op.NodeID)
	}

	next := editor.Clone()
	delete(next.DisabledNodes, op.NodeID)

	return &Result{Editor: next}, nil
}
