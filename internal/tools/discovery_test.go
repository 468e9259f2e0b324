package tools

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/strandlabs/strand/internal/panels"
	"github.com/strandlabs/strand/pkg/models"
)

type stubMCPSource struct {
	tools []models.ToolDefinition
}

func (s *stubMCPSource) ConnectedTools() []models.ToolDefinition {
	return s.tools
}

func editorRegistry(t *testing.T, tools ...panels.Tool) *panels.MemoryRegistry {
	t.Helper()
	reg := panels.NewMemoryRegistry()
	reg.Register(&panels.Manifest{PanelID: "editor", Tools: tools})
	return reg
}

func TestDiscoverToolsIdempotent(t *testing.T) {
	reg := editorRegistry(t, panels.Tool{
		Name:     "read_file",
		Endpoint: "/files/{path}",
		Method:   "GET",
		Parameters: []panels.Parameter{
			{Name: "path", Type: "string", Required: true},
		},
	})
	agg := NewAggregator(reg, &stubMCPSource{}, nil)

	first, err := agg.DiscoverTools("editor")
	if err != nil {
		t.Fatalf("DiscoverTools: %v", err)
	}
	second, err := agg.DiscoverTools("editor")
	if err != nil {
		t.Fatalf("DiscoverTools: %v", err)
	}
	if !reflect.DeepEqual(first.ToolOriginMap, second.ToolOriginMap) {
		t.Error("origin maps differ across identical discovery calls")
	}
	if len(first.PanelTools) != len(second.PanelTools) {
		t.Error("panel tool sets differ across identical discovery calls")
	}
}

func TestDiscoverToolsOriginPrecedence(t *testing.T) {
	// A panel tool shadowing a baseline name must win, and an mcp tool
	// shadowing a panel name must win over that.
	reg := editorRegistry(t,
		panels.Tool{Name: ReadErrorLogsTool, Endpoint: "/logs", Method: "GET"},
		panels.Tool{Name: "format_code", Endpoint: "/format", Method: "POST"},
	)
	mcp := &stubMCPSource{tools: []models.ToolDefinition{{Name: "format_code"}}}
	agg := NewAggregator(reg, mcp, nil)

	result, err := agg.DiscoverTools("editor")
	if err != nil {
		t.Fatalf("DiscoverTools: %v", err)
	}
	if got := result.ToolOriginMap[ReadErrorLogsTool]; got != models.OriginPanel {
		t.Errorf("shadowed baseline tool origin = %q, want panel", got)
	}
	if got := result.ToolOriginMap["format_code"]; got != models.OriginMCP {
		t.Errorf("shadowed panel tool origin = %q, want mcp", got)
	}
	if got := result.ToolOriginMap["open_editor_panel"]; got != models.OriginBaseline {
		t.Errorf("unshadowed baseline tool origin = %q, want baseline", got)
	}
}

func TestDiscoverToolsNoPanel(t *testing.T) {
	agg := NewAggregator(panels.NewMemoryRegistry(), nil, nil)

	result, err := agg.DiscoverTools("")
	if err != nil {
		t.Fatalf("DiscoverTools: %v", err)
	}
	if len(result.PanelTools) != 0 {
		t.Errorf("panel tools without a panel = %d, want 0", len(result.PanelTools))
	}
	if len(result.BaselineTools) == 0 {
		t.Error("baseline tools should always be present")
	}
	if len(result.MCPTools) != 0 {
		t.Errorf("mcp tools without a bridge = %d, want 0", len(result.MCPTools))
	}
}

func TestConvertParameters(t *testing.T) {
	raw, err := ConvertParameters([]panels.Parameter{
		{Name: "path", Type: "string", Required: true, Description: "File path"},
		{Name: "tags", Type: "array"},
		{Name: "options", Type: "object"},
		{Name: "config", Type: "object", Properties: map[string]any{
			"depth": map[string]any{"type": "integer"},
		}},
	})
	if err != nil {
		t.Fatalf("ConvertParameters: %v", err)
	}

	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("schema not valid JSON: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("type = %q", schema.Type)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "path" {
		t.Errorf("required = %v", schema.Required)
	}

	items, ok := schema.Properties["tags"]["items"].(map[string]any)
	if !ok || items["type"] != "object" {
		t.Errorf("array without items should default to object items, got %v", schema.Properties["tags"])
	}
	if schema.Properties["options"]["additionalProperties"] != true {
		t.Errorf("bare object should allow additional properties, got %v", schema.Properties["options"])
	}
	if _, hasAdditional := schema.Properties["config"]["additionalProperties"]; hasAdditional {
		t.Errorf("object with declared schema should not allow additional properties, got %v", schema.Properties["config"])
	}
}

func TestCatalogSchemasCompile(t *testing.T) {
	for _, def := range append(BaselineCatalog(), AutomationCatalog()...) {
		var schema map[string]any
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			t.Errorf("tool %s schema not valid JSON: %v", def.Name, err)
		}
	}
}
