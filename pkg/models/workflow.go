// Package models defines the core domain models for collaborative workflow editing.
package models

import (
	"time"
)

// Draft is the in-progress, editable version of a workflow graph. It is only
// ever mutated through the operation engine: every successful operation
// produces a fresh Draft value, so a snapshot handed to a subscriber stays
// valid forever (copy-on-write).
type Draft struct {
	WorkflowID  string         `json:"workflow_id" validate:"required"`
	Nodes       []*Node        `json:"nodes"`
	Connections []*Connection  `json:"connections"`
	Triggers    []*Trigger     `json:"triggers,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the draft. Node configs and metadata are copied
// one level deep, which is enough because the engine never mutates nested
// values in place.
func (d *Draft) Clone() *Draft {
	clone := &Draft{
		WorkflowID:  d.WorkflowID,
		Nodes:       make([]*Node, len(d.Nodes)),
		Connections: make([]*Connection, len(d.Connections)),
		Triggers:    make([]*Trigger, len(d.Triggers)),
		Settings:    cloneMap(d.Settings),
		UpdatedAt:   d.UpdatedAt,
	}

	for i, node := range d.Nodes {
		clone.Nodes[i] = node.Clone()
	}

	for i, conn := range d.Connections {
		copied := *conn
		clone.Connections[i] = &copied
	}

	for i, trigger := range d.Triggers {
		copied := *trigger
		copied.Config = cloneMap(trigger.Config)
		clone.Triggers[i] = &copied
	}

	return clone
}

// Node returns the node with the given id, or nil.
func (d *Draft) Node(id string) *Node {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// HasNode reports whether a node with the given id exists in the draft.
func (d *Draft) HasNode(id string) bool {
	return d.Node(id) != nil
}

// Connection returns the connection from source to target, or nil.
func (d *Draft) Connection(sourceID, targetID string) *Connection {
	for _, conn := range d.Connections {
		if conn.SourceID == sourceID && conn.TargetID == targetID {
			return conn
		}
	}

	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}

	return clone
}
