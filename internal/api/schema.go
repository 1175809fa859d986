package api

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// searchRequestSchema guards the search request shape before it reaches
// the pipeline: bounded strings, recognized strategies, limit cap.
const searchRequestSchema = `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {"type": "string", "minLength": 1, "maxLength": 2000},
    "context": {"type": "object"},
    "user_id": {"type": "integer"},
    "options": {
      "type": "object",
      "properties": {
        "strategy": {"enum": ["llm_first", "rule_first", "hybrid", "llm_only", "rule_only"]},
        "timeout_seconds": {"type": "number", "minimum": 0, "maximum": 60},
        "use_cache": {"type": "boolean"},
        "enable_highlighting": {"type": "boolean"},
        "limit": {"type": "integer", "minimum": 1, "maximum": 100},
        "offset": {"type": "integer", "minimum": 0}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

var requestSchema = gojsonschema.NewStringLoader(searchRequestSchema)

// validateRequestBody checks raw JSON against the request schema and
// returns the first violation.
func validateRequestBody(raw []byte) error {
	result, err := gojsonschema.Validate(requestSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("request is not valid JSON: %w", err)
	}
	if !result.Valid() {
		for _, desc := range result.Errors() {
			return fmt.Errorf("invalid request: %s", desc.String())
		}
	}
	return nil
}
