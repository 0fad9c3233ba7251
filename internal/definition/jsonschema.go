package definition

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/convoyci/convoy/pkg/schema"
)

// pipelineSchemaJSON is the JSON Schema for PipelineDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const pipelineSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://convoyci.dev/schemas/pipeline.json",
  "type": "object",
  "required": ["name", "stages"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "inputs": {
      "type": "object"
    },
    "credentials": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/credential" }
    },
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/stage" }
    },
    "on_success": { "$ref": "#/$defs/hook" },
    "on_failure": { "$ref": "#/$defs/hook" },
    "metadata": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "stage": {
      "type": "object",
      "required": ["name", "steps"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "when": { "type": "string" },
        "credentials": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "steps": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/step" }
        }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": {
          "type": "string",
          "minLength": 1
        },
        "params": {},
        "outputs": {
          "type": "object",
          "additionalProperties": { "type": "string", "minLength": 1 }
        },
        "timeout": {
          "type": "string",
          "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
        }
      },
      "additionalProperties": false
    },
    "hook": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": {
          "type": "string",
          "minLength": 1
        },
        "params": {}
      },
      "additionalProperties": false
    },
    "credential": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {
          "type": "string",
          "enum": ["username_password", "token", "kubeconfig"]
        }
      },
      "additionalProperties": false
    }
  }
}`

// StructuralValidator checks a PipelineDefinition against the pipeline JSON
// Schema (Draft 2020-12). Safe for concurrent use.
type StructuralValidator struct {
	pipelineSchema *jsonschema.Schema
}

// NewStructuralValidator creates a StructuralValidator with the pipeline
// schema pre-compiled.
func NewStructuralValidator() (*StructuralValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(pipelineSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal pipeline schema: %w", err)
	}
	if err := c.AddResource("https://convoyci.dev/schemas/pipeline.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add pipeline schema resource: %w", err)
	}

	compiled, err := c.Compile("https://convoyci.dev/schemas/pipeline.json")
	if err != nil {
		return nil, fmt.Errorf("compile pipeline schema: %w", err)
	}

	return &StructuralValidator{pipelineSchema: compiled}, nil
}

// ValidateStructure validates a definition against the pipeline JSON Schema,
// appending any violations to result.
func (v *StructuralValidator) ValidateStructure(def *schema.PipelineDefinition, result *schema.ValidationResult) {
	if def == nil {
		result.AddError("/", schema.ErrCodeDefinition, "pipeline definition is nil")
		return
	}

	doc, err := toJSONValue(def)
	if err != nil {
		result.AddError("/", schema.ErrCodeDefinition, "failed to serialize pipeline definition: "+err.Error())
		return
	}

	if err := v.pipelineSchema.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			result.AddError("/", schema.ErrCodeDefinition, err.Error())
			return
		}
		for _, violation := range collectViolations(verr) {
			result.AddError(violation.path, schema.ErrCodeDefinition, violation.message)
		}
	}
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var violations []violation
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
