package operations

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// payloadSchemas validates raw operation payloads at the transport boundary,
// before decoding into typed operations. The engine re-checks semantics
// (missing nodes, duplicates); the schemas only reject malformed shapes.
var payloadSchemas = map[Kind]string{
	KindAddNode: `{
		"type": "object",
		"required": ["node"],
		"properties": {
			"node": {
				"type": "object",
				"required": ["id", "type", "name"],
				"properties": {
					"id":   {"type": "string", "minLength": 1},
					"type": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1},
					"config":   {"type": "object"},
					"metadata": {"type": "object"},
					"position": {
						"type": "object",
						"properties": {
							"x": {"type": "number"},
							"y": {"type": "number"}
						}
					}
				}
			}
		}
	}`,
	KindRemoveNode: `{
		"type": "object",
		"required": ["node_id"],
		"properties": {"node_id": {"type": "string", "minLength": 1}}
	}`,
	KindUpdateNodeConfig: `{
		"type": "object",
		"required": ["node_id", "config"],
		"properties": {
			"node_id": {"type": "string", "minLength": 1},
			"config":  {"type": "object"}
		}
	}`,
	KindUpdateNodePosition: `{
		"type": "object",
		"required": ["node_id", "position"],
		"properties": {
			"node_id": {"type": "string", "minLength": 1},
			"position": {
				"type": "object",
				"required": ["x", "y"],
				"properties": {
					"x": {"type": "number"},
					"y": {"type": "number"}
				}
			}
		}
	}`,
	KindUpdateNodeMetadata: `{
		"type": "object",
		"required": ["node_id", "metadata"],
		"properties": {
			"node_id":  {"type": "string", "minLength": 1},
			"metadata": {"type": "object"}
		}
	}`,
	KindAddConnection: `{
		"type": "object",
		"required": ["source_id", "target_id"],
		"properties": {
			"connection_id": {"type": "string"},
			"source_id": {"type": "string", "minLength": 1},
			"target_id": {"type": "string", "minLength": 1}
		}
	}`,
	KindRemoveConnection: `{
		"type": "object",
		"required": ["source_id", "target_id"],
		"properties": {
			"source_id": {"type": "string", "minLength": 1},
			"target_id": {"type": "string", "minLength": 1}
		}
	}`,
	KindPinNodeOutput: `{
		"type": "object",
		"required": ["node_id"],
		"properties": {"node_id": {"type": "string", "minLength": 1}}
	}`,
	KindUnpinNodeOutput: `{
		"type": "object",
		"required": ["node_id"],
		"properties": {"node_id": {"type": "string", "minLength": 1}}
	}`,
	KindDisableNode: `{
		"type": "object",
		"required": ["node_id"],
		"properties": {
			"node_id": {"type": "string", "minLength": 1},
			"mode":    {"type": "string", "enum": ["skip", "stop"]}
		}
	}`,
	KindEnableNode: `{
		"type": "object",
		"required": ["node_id"],
		"properties": {"node_id": {"type": "string", "minLength": 1}}
	}`,
}

var compiledSchemas = compileSchemas()

func compileSchemas() map[Kind]*gojsonschema.Schema {
	compiled := make(map[Kind]*gojsonschema.Schema, len(payloadSchemas))

	for kind, raw := range payloadSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("invalid payload schema for %s: %v", kind, err))
		}

		compiled[kind] = schema
	}

	return compiled
}

// ValidatePayload checks a raw operation payload against the schema for its
// kind. Unknown kinds fail with ErrUnknownOperation.
func ValidatePayload(kind Kind, payload []byte) error {
	schema, ok := compiledSchemas[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, kind)
	}

	if len(payload) == 0 {
		payload = []byte("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validate %s payload: %w", kind, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("invalid %s payload: %s", kind, strings.Join(details, "; "))
	}

	return nil
}
