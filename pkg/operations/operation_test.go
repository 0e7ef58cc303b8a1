package operations

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/pkg/models"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	original := UpdateNodeConfig{
		Base:   Base{UserID: "user-1", ClientSeq: 7},
		NodeID: "a",
		Config: map[string]any{"operand": float64(2)},
	}

	env, err := Encode(original)
	require.NoError(t, err)

	assert.Equal(t, KindUpdateNodeConfig, env.Type)
	assert.Equal(t, "user-1", env.UserID)
	assert.Equal(t, uint64(7), env.ClientSeq)

	decoded, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestEncode_PayloadExcludesIssuerFields(t *testing.T) {
	env, err := Encode(RemoveNode{
		Base:   Base{UserID: "user-1", ClientSeq: 3},
		NodeID: "a",
	})
	require.NoError(t, err)

	var payload map[string]any

	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, map[string]any{"node_id": "a"}, payload)
}

func TestDecode_AllKinds(t *testing.T) {
	testCases := []struct {
		kind    Kind
		payload string
	}{
		{KindAddNode, `{"node": {"id": "n", "type": "math", "name": "N"}}`},
		{KindRemoveNode, `{"node_id": "n"}`},
		{KindUpdateNodeConfig, `{"node_id": "n", "config": {"k": "v"}}`},
		{KindUpdateNodePosition, `{"node_id": "n", "position": {"x": 1, "y": 2}}`},
		{KindUpdateNodeMetadata, `{"node_id": "n", "metadata": {"k": "v"}}`},
		{KindAddConnection, `{"source_id": "a", "target_id": "b"}`},
		{KindRemoveConnection, `{"source_id": "a", "target_id": "b"}`},
		{KindPinNodeOutput, `{"node_id": "n", "output_data": 42}`},
		{KindUnpinNodeOutput, `{"node_id": "n"}`},
		{KindDisableNode, `{"node_id": "n", "mode": "skip"}`},
		{KindEnableNode, `{"node_id": "n"}`},
	}

	for _, tc := range testCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			op, err := Decode(&Envelope{
				Type:    tc.kind,
				Payload: json.RawMessage(tc.payload),
				UserID:  "user-1",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.kind, op.Kind())
			assert.Equal(t, "user-1", op.Issuer())
		})
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode(&Envelope{Type: "teleport_node", UserID: "user-1"})
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestTargetNodeID(t *testing.T) {
	assert.Equal(t, "n", TargetNodeID(RemoveNode{NodeID: "n"}))
	assert.Equal(t, "n", TargetNodeID(UpdateNodeConfig{NodeID: "n"}))
	assert.Equal(t, "n", TargetNodeID(PinNodeOutput{NodeID: "n"}))

	// New nodes and edges do not contend for node locks.
	assert.Empty(t, TargetNodeID(AddNode{Node: &models.Node{ID: "n"}}))
	assert.Empty(t, TargetNodeID(AddConnection{SourceID: "a", TargetID: "b"}))
}

func TestValidatePayload(t *testing.T) {
	err := ValidatePayload(KindAddConnection, []byte(`{"source_id": "a", "target_id": "b"}`))
	assert.NoError(t, err)

	err = ValidatePayload(KindAddConnection, []byte(`{"source_id": "a"}`))
	assert.Error(t, err)

	err = ValidatePayload(KindDisableNode, []byte(`{"node_id": "n", "mode": "explode"}`))
	assert.Error(t, err)

	err = ValidatePayload("teleport_node", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestValidatePayload_EveryKindHasSchema(t *testing.T) {
	for _, kind := range Kinds() {
		_, ok := compiledSchemas[kind]
		assert.True(t, ok, "missing payload schema for %s", kind)
	}
}
