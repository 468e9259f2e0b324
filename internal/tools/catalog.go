// Package tools implements tool discovery and execution: the baseline and
// UI-automation catalogs, panel manifest conversion, origin-based routing,
// and the per-origin executors.
package tools

import (
	"encoding/json"

	"github.com/strandlabs/strand/pkg/models"
)

// ContinueWorkflowTool is the workflow-continuation signal tool. It always
// succeeds; the orchestrator consumes its result to synthesize a follow-up
// user message.
const ContinueWorkflowTool = "continue_workflow"

// ReadErrorLogsTool reads recent entries from the local error log.
const ReadErrorLogsTool = "read_error_logs"

// ScreenshotTool captures the current page; its results get a bespoke
// sanitized shape in the transcript.
const ScreenshotTool = "ui_screenshot"

// navigationTable maps panel-navigation tool names to the panel they open.
// Baseline execution consults it to perform the open; the orchestrator
// consults it to refresh tool discovery after a successful navigation.
var navigationTable = map[string]string{
	"open_editor_panel":   "editor",
	"open_browser_panel":  "browser",
	"open_terminal_panel": "terminal",
	"open_notes_panel":    "notes",
}

// NavigationTarget resolves a tool name to the panel it opens.
func NavigationTarget(toolName string) (string, bool) {
	panelID, ok := navigationTable[toolName]
	return panelID, ok
}

func objSchema(properties map[string]any, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(err) // static catalogs only
	}
	return raw
}

// BaselineCatalog returns the fixed always-available catalog: panel
// navigation, error-log retrieval, and the workflow-continuation signal.
func BaselineCatalog() []models.ToolDefinition {
	defs := []models.ToolDefinition{
		{
			Name:        "open_editor_panel",
			Description: "Open the code editor panel and make it the active surface.",
			Parameters:  objSchema(map[string]any{}),
		},
		{
			Name:        "open_browser_panel",
			Description: "Open the embedded browser panel and make it the active surface.",
			Parameters:  objSchema(map[string]any{}),
		},
		{
			Name:        "open_terminal_panel",
			Description: "Open the terminal panel and make it the active surface.",
			Parameters:  objSchema(map[string]any{}),
		},
		{
			Name:        "open_notes_panel",
			Description: "Open the notes panel and make it the active surface.",
			Parameters:  objSchema(map[string]any{}),
		},
		{
			Name:        ReadErrorLogsTool,
			Description: "Read recent entries from the local error log, optionally filtered by a case-insensitive pattern.",
			Parameters: objSchema(map[string]any{
				"lines": map[string]any{
					"type":        "integer",
					"description": "Number of trailing log lines to return (1-500).",
				},
				"pattern": map[string]any{
					"type":        "string",
					"description": "Case-insensitive substring filter applied per line.",
				},
			}),
		},
		{
			Name:        ContinueWorkflowTool,
			Description: "Signal that the current workflow should continue without waiting for user input. Provide the reason and any context the next step needs.",
			Parameters: objSchema(map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Why the workflow should continue.",
				},
				"context": map[string]any{
					"type":        "string",
					"description": "Carry-over context for the next step.",
				},
			}, "reason"),
		},
	}
	return defs
}

// AutomationCatalog returns the UI/DOM automation catalog proxied to the
// automation collaborator.
func AutomationCatalog() []models.ToolDefinition {
	return []models.ToolDefinition{
		{
			Name:        "ui_click",
			Description: "Click the element identified by a numeric reference id from the most recent page read.",
			Parameters: objSchema(map[string]any{
				"element_id": map[string]any{
					"type":        "number",
					"description": "Numeric element reference id.",
				},
			}, "element_id"),
		},
		{
			Name:        "ui_type",
			Description: "Type text into the element identified by a numeric reference id.",
			Parameters: objSchema(map[string]any{
				"element_id": map[string]any{
					"type":        "number",
					"description": "Numeric element reference id.",
				},
				"text": map[string]any{
					"type":        "string",
					"description": "Text to type.",
				},
			}, "element_id", "text"),
		},
		{
			Name:        "ui_scroll",
			Description: "Scroll the active surface. Direction must be exactly \"up\" or \"down\".",
			Parameters: objSchema(map[string]any{
				"direction": map[string]any{
					"type": "string",
					"enum": []string{"up", "down"},
				},
			}, "direction"),
		},
		{
			Name:        ScreenshotTool,
			Description: "Capture a screenshot of the active surface. The image is shown to the user directly.",
			Parameters:  objSchema(map[string]any{}),
		},
		{
			Name:        "ui_navigate",
			Description: "Navigate the browser panel to a URL.",
			Parameters: objSchema(map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Absolute URL to open.",
				},
			}, "url"),
		},
		{
			Name:        "ui_wait",
			Description: "Wait for a duration before the next action. Must be greater than 0 and at most 30 seconds.",
			Parameters: objSchema(map[string]any{
				"seconds": map[string]any{
					"type":        "number",
					"description": "Seconds to wait, in (0, 30].",
				},
			}, "seconds"),
		},
		{
			Name:        "ui_read_page",
			Description: "Read the visible content and interactive elements of the active surface.",
			Parameters:  objSchema(map[string]any{}),
		},
	}
}
