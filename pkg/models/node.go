package models

// Position is a node's location on the editor canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node represents a node instance in a workflow draft. The ID is immutable
// once the node is created; connections and locks reference nodes by id only,
// never by pointer, so a node never holds a back-reference to its draft.
type Node struct {
	ID       string         `json:"id"       validate:"required"`
	Type     string         `json:"type"     validate:"required"`
	Name     string         `json:"name"     validate:"required,min=1"`
	Config   map[string]any `json:"config"`
	Position Position       `json:"position"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy of the node with its own config and metadata maps.
func (n *Node) Clone() *Node {
	copied := *n
	copied.Config = cloneMap(n.Config)
	copied.Metadata = cloneMap(n.Metadata)

	return &copied
}

// Connection is a directed edge between two nodes of the same draft. Both
// endpoints must resolve to existing nodes at apply time.
type Connection struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
}

// Trigger describes how a workflow run can be initiated. Triggers ride along
// on the draft and are edited wholesale through settings; they have no
// dedicated operations.
type Trigger struct {
	ID     string         `json:"id"     validate:"required"`
	Type   string         `json:"type"   validate:"required"`
	Config map[string]any `json:"config"`
}
