package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformed wraps model output that is not a valid payload.
var ErrMalformed = errors.New("malformed model output")

const statDeltaSchema = `{
	"type": "object",
	"properties": {
		"power": {"type": "number"},
		"stability": {"type": "number"},
		"technology": {"type": "number"},
		"resources": {"type": "number"},
		"population": {"type": "number"}
	},
	"additionalProperties": false
}`

var (
	decisionSchema = jsonschema.MustCompileString("decision.schema.json", `{
		"type": "object",
		"required": ["action", "specific_action"],
		"properties": {
			"action": {"enum": ["MILITARY", "DIPLOMACY", "INTERNAL", "ESPIONAGE"]},
			"specific_action": {"type": "string", "minLength": 1},
			"target": {"type": ["string", "null"]},
			"rationale": {"type": "string"},
			"public_statement": {"type": "string"}
		}
	}`)

	resolutionSchema = jsonschema.MustCompileString("resolution.schema.json", `{
		"type": "object",
		"required": ["success", "changes"],
		"properties": {
			"success": {"type": "boolean"},
			"success_level": {"enum": ["critical_success", "success", "partial", "failure", "critical_failure"]},
			"changes": {"type": "object", "additionalProperties": `+statDeltaSchema+`},
			"new_tensions": {"type": "object", "additionalProperties": {"type": "number"}},
			"narrative": {"type": "string"},
			"unintended_consequences": {"type": "string"}
		}
	}`)

	overseerSchema = jsonschema.MustCompileString("overseer.schema.json", `{
		"type": "object",
		"required": ["stability_index", "explanation"],
		"properties": {
			"stability_index": {"type": "number", "minimum": 0, "maximum": 100},
			"explanation": {"type": "string"},
			"emerging_patterns": {"type": "array", "items": {"type": "string"}},
			"predictions": {"type": "array", "items": {"type": "string"}},
			"hidden_costs": {"type": "array", "items": {"type": "string"}}
		}
	}`)
)

// extractObject finds the outermost JSON object in a model response. Models
// sometimes wrap the payload in prose or code fences.
func extractObject(response string) (string, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("%w: no JSON object found in response", ErrMalformed)
	}
	return response[start : end+1], nil
}

// decodeValidated extracts a JSON object from response, validates it against
// schema and decodes it into v.
func decodeValidated(response string, schema *jsonschema.Schema, v any) error {
	raw, err := extractObject(response)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
