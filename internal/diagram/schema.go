package diagram

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// operationsSchemaJSON is the JSON Schema for an edit_diagram operation batch.
// Embedded as a constant to avoid filesystem dependencies.
const operationsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://drawbridge.dev/schemas/operations.json",
  "type": "array",
  "minItems": 1,
  "items": { "$ref": "#/$defs/operation" },
  "$defs": {
    "operation": {
      "type": "object",
      "required": ["action", "target", "id"],
      "properties": {
        "action": {
          "type": "string",
          "enum": ["add", "modify", "delete"]
        },
        "target": {
          "type": "string",
          "enum": ["node", "edge"]
        },
        "id": {
          "type": "string",
          "minLength": 1
        },
        "label": { "type": "string" },
        "style": { "type": "string" },
        "parent": { "type": "string" },
        "source": { "type": "string" },
        "target_id": { "type": "string" },
        "x": { "type": "number" },
        "y": { "type": "number" },
        "width": { "type": "number", "minimum": 0 },
        "height": { "type": "number", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

var (
	opsSchemaOnce sync.Once
	opsSchema     *jsonschema.Schema
	opsSchemaErr  error
)

func compiledOperationsSchema() (*jsonschema.Schema, error) {
	opsSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(operationsSchemaJSON))
		if err != nil {
			opsSchemaErr = fmt.Errorf("unmarshal operations schema: %w", err)
			return
		}
		if err := c.AddResource("https://drawbridge.dev/schemas/operations.json", doc); err != nil {
			opsSchemaErr = fmt.Errorf("add operations schema resource: %w", err)
			return
		}
		opsSchema, opsSchemaErr = c.Compile("https://drawbridge.dev/schemas/operations.json")
	})
	return opsSchema, opsSchemaErr
}

// DecodeOperations validates a raw operations payload against the embedded
// JSON Schema and decodes it into EditOperations. Schema violations are
// reported as INVALID_PAYLOAD errors before any operation is attempted.
func DecodeOperations(raw []byte) ([]EditOperation, error) {
	compiled, err := compiledOperationsSchema()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInvalidPayload, "operations schema unavailable").WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidPayload, "operations are not valid JSON: %v", err).WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidPayload, "operations do not match the expected shape: %v", err).WithCause(err)
	}

	var ops []EditOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidPayload, "decode operations: %v", err).WithCause(err)
	}
	return ops, nil
}
