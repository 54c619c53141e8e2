package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// routingSchema validates the routing policy document shape before it is
// decoded, so a typo'd field name fails loudly instead of silently keeping
// a default.
const routingSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string"},
    "confidence_threshold": {"type": "number", "minimum": 0, "maximum": 1},
    "agent_timeout_ms": {"type": "integer", "minimum": 1},
    "categories": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "skip_gather": {"type": "boolean"},
          "skip_reason": {"type": "boolean"},
          "require_grounding": {"type": "boolean"}
        }
      }
    },
    "retention": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "episodic_days": {"type": "integer", "minimum": 1},
        "semantic_unused_days": {"type": "integer", "minimum": 1}
      }
    },
    "admission": {"type": "string"}
  }
}`

// validateSchema checks routing policy YAML against the JSON schema.
func validateSchema(content []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("converting policy to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(routingSchema),
		gojsonschema.NewBytesLoader(jsonDoc),
	)
	if err != nil {
		return fmt.Errorf("validating policy: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid routing policy: %s", strings.Join(problems, "; "))
	}
	return nil
}
