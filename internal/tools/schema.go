package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/strandlabs/strand/internal/panels"
)

// ConvertParameters converts a panel manifest's array-of-descriptor parameter
// list into the object-schema form provider adapters consume.
//
// Array-typed parameters without declared items default to object items;
// object-typed parameters without a nested schema allow additional properties
// so the model is not over-constrained by an underspecified manifest.
func ConvertParameters(params []panels.Parameter) (json.RawMessage, error) {
	properties := make(map[string]any, len(params))
	var required []string

	for _, p := range params {
		if p.Name == "" {
			continue
		}
		prop := map[string]any{"type": p.Type}
		if p.Type == "" {
			prop["type"] = "string"
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}

		switch p.Type {
		case "array":
			if len(p.Items) > 0 {
				prop["items"] = p.Items
			} else {
				prop["items"] = map[string]any{"type": "object"}
			}
		case "object":
			if len(p.Properties) > 0 {
				prop["properties"] = p.Properties
			} else {
				prop["additionalProperties"] = true
			}
		}

		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encoding parameter schema: %w", err)
	}

	// Sanity-compile so a malformed manifest surfaces at discovery time
	// instead of as a provider-side rejection mid-run.
	if _, err := jsonschema.CompileString("manifest.json", string(raw)); err != nil {
		return nil, fmt.Errorf("invalid parameter schema: %w", err)
	}
	return raw, nil
}
