package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

type validateSpecArgs struct {
	Spec   string `json:"spec"`
	Schema string `json:"schema,omitempty"`
}

// defaultSpecSchema is applied when the caller supplies no schema. It
// checks the minimal shape shared by all draft specs.
const defaultSpecSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"sections": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"heading": {"type": "string"},
					"body": {"type": "string"}
				},
				"required": ["heading"]
			}
		}
	},
	"required": ["title"]
}`

func NewValidateSpec() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"spec": map[string]any{
				"type":        "string",
				"description": "The JSON document to validate.",
			},
			"schema": map[string]any{
				"type":        "string",
				"description": "Optional JSON Schema to validate against. Defaults to the draft spec schema.",
			},
		},
		"required": []string{"spec"},
	}

	return NewFuncTool(
		"validate_spec",
		"Validate a JSON specification document against a JSON Schema.",
		schema,
		func(ctx context.Context, args json.RawMessage) (any, error) {
			var in validateSpecArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid validate_spec args: %w", err)
			}
			if in.Spec == "" {
				return nil, fmt.Errorf("spec is required")
			}
			schemaSource := in.Schema
			if schemaSource == "" {
				schemaSource = defaultSpecSchema
			}

			result, err := gojsonschema.Validate(
				gojsonschema.NewStringLoader(schemaSource),
				gojsonschema.NewStringLoader(in.Spec),
			)
			if err != nil {
				return map[string]any{
					"valid": false,
					"error": err.Error(),
				}, nil
			}

			if result.Valid() {
				return map[string]any{"valid": true}, nil
			}

			issues := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				issues = append(issues, desc.String())
			}
			return map[string]any{
				"valid":  false,
				"issues": issues,
			}, nil
		},
	)
}
