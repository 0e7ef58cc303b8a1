package operations

import (
	"encoding/json"
	"fmt"

	"github.com/loomhq/loom/pkg/models"
)

// Kind is the tag of an operation variant.
type Kind string

const (
	KindAddNode            Kind = "add_node"
	KindRemoveNode         Kind = "remove_node"
	KindUpdateNodeConfig   Kind = "update_node_config"
	KindUpdateNodePosition Kind = "update_node_position"
	KindUpdateNodeMetadata Kind = "update_node_metadata"
	KindAddConnection      Kind = "add_connection"
	KindRemoveConnection   Kind = "remove_connection"
	KindPinNodeOutput      Kind = "pin_node_output"
	KindUnpinNodeOutput    Kind = "unpin_node_output"
	KindDisableNode        Kind = "disable_node"
	KindEnableNode         Kind = "enable_node"
)

// Kinds lists every operation tag the engine dispatches.
func Kinds() []Kind {
	return []Kind{
		KindAddNode, KindRemoveNode,
		KindUpdateNodeConfig, KindUpdateNodePosition, KindUpdateNodeMetadata,
		KindAddConnection, KindRemoveConnection,
		KindPinNodeOutput, KindUnpinNodeOutput,
		KindDisableNode, KindEnableNode,
	}
}

// Operation is the closed sum of all draft and overlay mutations. The
// unexported method keeps the set closed so the engine dispatcher stays
// exhaustive.
type Operation interface {
	Kind() Kind
	Issuer() string
	isOperation()
}

// Base carries the fields common to every operation: the issuing user and
// the issuer's client-local sequence number (optimistic-apply bookkeeping
// only, not the authoritative sequence). Excluded from payload JSON; the
// envelope carries them.
type Base struct {
	UserID    string `json:"-"`
	ClientSeq uint64 `json:"-"`
}

func (b Base) Issuer() string { return b.UserID }
func (b Base) isOperation()   {}

// AddNode inserts a new node into the draft.
type AddNode struct {
	Base

	Node *models.Node `json:"node" validate:"required"`
}

func (AddNode) Kind() Kind { return KindAddNode }

// RemoveNode deletes a node and every connection touching it.
type RemoveNode struct {
	Base

	NodeID string `json:"node_id" validate:"required"`
}

func (RemoveNode) Kind() Kind { return KindRemoveNode }

// UpdateNodeConfig replaces a node's config. The engine computes the patch
// between the old and new mapping and reports it in the result so mirrors
// and audit surfaces see the exact key-level change.
type UpdateNodeConfig struct {
	Base

	NodeID string         `json:"node_id" validate:"required"`
	Config map[string]any `json:"config"`
}

func (UpdateNodeConfig) Kind() Kind { return KindUpdateNodeConfig }

// UpdateNodePosition moves a node on the canvas.
type UpdateNodePosition struct {
	Base

	NodeID   string          `json:"node_id" validate:"required"`
	Position models.Position `json:"position"`
}

func (UpdateNodePosition) Kind() Kind { return KindUpdateNodePosition }

// UpdateNodeMetadata shallow-merges fields into a node's metadata.
type UpdateNodeMetadata struct {
	Base

	NodeID   string         `json:"node_id" validate:"required"`
	Metadata map[string]any `json:"metadata"`
}

func (UpdateNodeMetadata) Kind() Kind { return KindUpdateNodeMetadata }

// AddConnection adds a directed edge between two existing nodes.
type AddConnection struct {
	Base

	ConnectionID string `json:"connection_id,omitempty"`
	SourceID     string `json:"source_id" validate:"required"`
	TargetID     string `json:"target_id" validate:"required"`
}

func (AddConnection) Kind() Kind { return KindAddConnection }

// RemoveConnection removes the edge with the given endpoints.
type RemoveConnection struct {
	Base

	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
}

func (RemoveConnection) Kind() Kind { return KindRemoveConnection }

// PinNodeOutput fixes a node's output value in the editor overlay so the
// node is not re-run during iterative editing.
type PinNodeOutput struct {
	Base

	NodeID     string `json:"node_id" validate:"required"`
	OutputData any    `json:"output_data"`
}

func (PinNodeOutput) Kind() Kind { return KindPinNodeOutput }

// UnpinNodeOutput removes a pinned output.
type UnpinNodeOutput struct {
	Base

	NodeID string `json:"node_id" validate:"required"`
}

func (UnpinNodeOutput) Kind() Kind { return KindUnpinNodeOutput }

// DisableNode marks a node disabled in the editor overlay.
type DisableNode struct {
	Base

	NodeID string             `json:"node_id" validate:"required"`
	Mode   models.DisableMode `json:"mode,omitempty"`
}

func (DisableNode) Kind() Kind { return KindDisableNode }

// EnableNode clears a node's disabled state.
type EnableNode struct {
	Base

	NodeID string `json:"node_id" validate:"required"`
}

func (EnableNode) Kind() Kind { return KindEnableNode }

// Envelope is the wire form of an operation: the tag, the tag-specific
// payload, and the issuer bookkeeping.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      Kind            `json:"type"       validate:"required"`
	Payload   json.RawMessage `json:"payload"`
	UserID    string          `json:"user_id"    validate:"required"`
	ClientSeq uint64          `json:"client_seq"`
}

// Encode wraps an operation into its wire envelope.
func Encode(op Operation) (*Envelope, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op.Kind(), err)
	}

	var base Base

	switch v := op.(type) {
	case AddNode:
		base = v.Base
	case RemoveNode:
		base = v.Base
	case UpdateNodeConfig:
		base = v.Base
	case UpdateNodePosition:
		base = v.Base
	case UpdateNodeMetadata:
		base = v.Base
	case AddConnection:
		base = v.Base
	case RemoveConnection:
		base = v.Base
	case PinNodeOutput:
		base = v.Base
	case UnpinNodeOutput:
		base = v.Base
	case DisableNode:
		base = v.Base
	case EnableNode:
		base = v.Base
	}

	return &Envelope{
		Type:      op.Kind(),
		Payload:   payload,
		UserID:    base.UserID,
		ClientSeq: base.ClientSeq,
	}, nil
}

// Decode turns a wire envelope back into a typed operation. Unknown tags
// fail with ErrUnknownOperation.
func Decode(env *Envelope) (Operation, error) {
	base := Base{UserID: env.UserID, ClientSeq: env.ClientSeq}

	payload := env.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	unmarshal := func(v any) error {
		if err := json.Unmarshal(payload, v); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}

		return nil
	}

	switch env.Type {
	case KindAddNode:
		op := AddNode{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	case KindRemoveNode:
		op := RemoveNode{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	case KindUpdateNodeConfig:
		op := UpdateNodeConfig{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	case KindUpdateNodePosition:
		op := UpdateNodePosition{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	case KindUpdateNodeMetadata:
		op := UpdateNodeMetadata{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	case KindAddConnection:
		op := AddConnection{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	case KindRemoveConnection:
		op := RemoveConnection{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	case KindPinNodeOutput:
		op := PinNodeOutput{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	case KindUnpinNodeOutput:
		op := UnpinNodeOutput{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	case KindDisableNode:
		op := DisableNode{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	case KindEnableNode:
		op := EnableNode{Base: base}
		if err := unmarshal(&op); err != nil {
			return nil, err
		}

		return op, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, env.Type)
	}
}

// TargetNodeID returns the node an operation edits, for lock enforcement.
// Connection and add_node operations do not contend for node locks.
func TargetNodeID(op Operation) string {
	switch v := op.(type) {
	case RemoveNode:
		return v.NodeID
	case UpdateNodeConfig:
		return v.NodeID
	case UpdateNodePosition:
		return v.NodeID
	case UpdateNodeMetadata:
		return v.NodeID
	case PinNodeOutput:
		return v.NodeID
	case UnpinNodeOutput:
		return v.NodeID
	case DisableNode:
		return v.NodeID
	case EnableNode:
		return v.NodeID
	default:
		return ""
	}
}

// RemovedNodeID returns the deleted node id for remove_node operations, used
// by mirrors to repair local UI references.
func RemovedNodeID(op Operation) string {
	if v, ok := op.(RemoveNode); ok {
		return v.NodeID
	}

	return ""
}
