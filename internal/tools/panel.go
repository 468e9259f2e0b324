package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/strandlabs/strand/internal/panels"
	"github.com/strandlabs/strand/pkg/models"
)

// NoteRecorder records panel self-improvement notes. Matches the prompt
// store's note surface.
type NoteRecorder interface {
	AddNote(panelID, note string)
}

var (
	placeholderRe   = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	enhancePromptRe = regexp.MustCompile(`^enhance_[A-Za-z0-9_]+_prompt$`)
)

// editorAutoFillKeys are pre-populated from ambient editor context when the
// caller omits them. Content and edit payloads are never auto-filled; those
// must come from the caller.
var editorAutoFillKeys = map[string]func(*panels.AmbientContext) string{
	"file_path":      func(c *panels.AmbientContext) string { return c.FilePath },
	"workspace_root": func(c *panels.AmbientContext) string { return c.WorkspaceRoot },
}

// PanelExecutor performs panel-manifest tools over HTTP against the panel's
// declared endpoints.
type PanelExecutor struct {
	registry panels.Registry
	notes    NoteRecorder
	client   *http.Client
}

var _ Executor = (*PanelExecutor)(nil)

// NewPanelExecutor creates the panel executor. client may be nil for the
// default with a 30s timeout.
func NewPanelExecutor(registry panels.Registry, notes NoteRecorder, client *http.Client) *PanelExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PanelExecutor{registry: registry, notes: notes, client: client}
}

// CanExecute implements Executor.
func (e *PanelExecutor) CanExecute(name string, origin models.ToolOrigin) bool {
	return origin == models.OriginPanel
}

// Execute implements Executor.
func (e *PanelExecutor) Execute(ctx context.Context, name string, args map[string]any, ec *ExecContext) (any, error) {
	if ec == nil || ec.PanelID == "" {
		return nil, fmt.Errorf("tool %s requires an active panel", name)
	}

	// Enhancement notes are recorded locally, no HTTP round-trip.
	if enhancePromptRe.MatchString(name) {
		note := stringArg(args, "note")
		if note == "" {
			note = stringArg(args, "enhancement")
		}
		if note == "" {
			return nil, fmt.Errorf("%s requires a note", name)
		}
		if e.notes != nil {
			e.notes.AddNote(ec.PanelID, note)
		}
		return map[string]any{"recorded": true, "panel_id": ec.PanelID}, nil
	}

	manifest, ok := e.registry.Manifest(ec.PanelID)
	if !ok {
		return nil, fmt.Errorf("no manifest for panel %s", ec.PanelID)
	}
	tool, ok := manifest.Tool(name)
	if !ok {
		return nil, fmt.Errorf("panel %s has no tool %s", ec.PanelID, name)
	}

	args = e.autoFill(ec.PanelID, tool, args)

	if missing := missingRequired(tool, args); len(missing) > 0 {
		return nil, fmt.Errorf("missing required parameters for %s: %s",
			name, strings.Join(missing, ", "))
	}

	endpoint, remaining := substitutePlaceholders(tool.Endpoint, args)
	return e.call(ctx, manifest.BaseURL, tool.Method, endpoint, remaining)
}

// autoFill pre-populates editor path context the caller omitted.
func (e *PanelExecutor) autoFill(panelID string, tool *panels.Tool, args map[string]any) map[string]any {
	if panelID != "editor" {
		return args
	}
	ambient, ok := e.registry.AmbientContext(panelID)
	if !ok {
		return args
	}

	filled := make(map[string]any, len(args)+2)
	for k, v := range args {
		filled[k] = v
	}
	for _, p := range tool.Parameters {
		fill, auto := editorAutoFillKeys[p.Name]
		if !auto {
			continue
		}
		if v, present := filled[p.Name]; present && v != "" && v != nil {
			continue
		}
		if value := fill(ambient); value != "" {
			filled[p.Name] = value
		}
	}
	return filled
}

// missingRequired returns every manifest-declared required parameter that is
// absent, nil, or an empty string.
func missingRequired(tool *panels.Tool, args map[string]any) []string {
	var missing []string
	for _, p := range tool.Parameters {
		if !p.Required {
			continue
		}
		v, ok := args[p.Name]
		if !ok || v == nil {
			missing = append(missing, p.Name)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// substitutePlaceholders replaces {name} tokens in the endpoint path from
// argument values and returns the remaining arguments.
func substitutePlaceholders(endpoint string, args map[string]any) (string, map[string]any) {
	remaining := make(map[string]any, len(args))
	for k, v := range args {
		remaining[k] = v
	}
	resolved := placeholderRe.ReplaceAllStringFunc(endpoint, func(token string) string {
		key := token[1 : len(token)-1]
		v, ok := remaining[key]
		if !ok {
			return token
		}
		delete(remaining, key)
		return url.PathEscape(fmt.Sprint(v))
	})
	return resolved, remaining
}

func (e *PanelExecutor) call(ctx context.Context, baseURL, method, endpoint string, args map[string]any) (any, error) {
	if method == "" {
		method = http.MethodPost
	}
	method = strings.ToUpper(method)
	target := strings.TrimRight(baseURL, "/") + endpoint

	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(args) > 0 {
			q := url.Values{}
			for k, v := range args {
				q.Set(k, fmt.Sprint(v))
			}
			target += "?" + q.Encode()
		}
	} else {
		payload, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling panel endpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading panel response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("panel endpoint %s: %s", endpoint, diagnosticMessage(resp.StatusCode, data))
	}

	var payload any
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{"status": resp.StatusCode}, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		// Non-JSON success bodies pass through as text.
		return string(data), nil
	}
	return payload, nil
}

// diagnosticMessage concatenates every diagnostic field a panel endpoint may
// return into one human-readable string for the model.
func diagnosticMessage(status int, body []byte) string {
	var diag struct {
		Error          string `json:"error"`
		Message        string `json:"message"`
		Hint           string `json:"hint"`
		RequiredAction string `json:"required_action"`
		Line           *int   `json:"line"`
		Matches        []any  `json:"matches"`
		ActualText     string `json:"actual_text"`
	}
	parts := []string{fmt.Sprintf("status %d", status)}
	if err := json.Unmarshal(body, &diag); err != nil {
		if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
			parts = append(parts, trimmed)
		}
		return strings.Join(parts, ": ")
	}

	if diag.Error != "" {
		parts = append(parts, diag.Error)
	}
	if diag.Message != "" && diag.Message != diag.Error {
		parts = append(parts, diag.Message)
	}
	if diag.Hint != "" {
		parts = append(parts, "hint: "+diag.Hint)
	}
	if diag.RequiredAction != "" {
		parts = append(parts, "required action: "+diag.RequiredAction)
	}
	if diag.Line != nil {
		parts = append(parts, fmt.Sprintf("line %d", *diag.Line))
	}
	if len(diag.Matches) > 0 {
		raw, err := json.Marshal(diag.Matches)
		if err == nil {
			parts = append(parts, "matches: "+string(raw))
		}
	}
	if diag.ActualText != "" {
		parts = append(parts, "actual text: "+diag.ActualText)
	}
	return strings.Join(parts, ": ")
}
