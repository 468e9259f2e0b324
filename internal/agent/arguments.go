package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseToolArguments parses a raw tool-call argument string into an object.
// Empty, whitespace-only, and "{}" inputs all normalize to an empty object.
// Malformed non-empty JSON is returned as an error for the caller to fold
// into a failed execution summary; it never aborts the run.
func parseToolArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "{}" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %v (raw: %s)", err, truncateForError(raw, 200))
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func truncateForError(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// contentEditingTools names the tools whose string arguments routinely carry
// source text the model sometimes HTML-entity double-encodes.
var contentEditingTools = map[string]bool{
	"editor_set_content":  true,
	"editor_insert_text":  true,
	"editor_replace_text": true,
	"editor_write_file":   true,
	"notes_write":         true,
}

// contentArgumentKeys are the argument fields the unescape shim applies to.
var contentArgumentKeys = []string{"content", "text", "new_text", "value"}

// htmlEntityReplacer reverses the common double-encoding artifacts in a
// single pass, so "&amp;lt;" becomes "&lt;" rather than collapsing twice.
var htmlEntityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#x27;", "'",
	"&#x2F;", "/",
	"&amp;", "&",
)

// unescapeContentArguments applies a best-effort HTML-entity unescape pass to
// the content-bearing fields of content-editing tools. Applied before any
// other validation; a compatibility shim, not a general HTML decoder.
func unescapeContentArguments(toolName string, args map[string]any) {
	if !contentEditingTools[toolName] {
		return
	}
	for _, key := range contentArgumentKeys {
		if s, ok := args[key].(string); ok {
			args[key] = htmlEntityReplacer.Replace(s)
		}
	}
}
