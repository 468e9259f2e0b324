package tools

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/strandlabs/strand/pkg/models"
)

// PanelOpener is the collaborator that switches the active UI surface.
type PanelOpener interface {
	OpenPanel(ctx context.Context, panelID string) error
}

// Automation is the collaborator API for UI/DOM automation. All calls are
// proxied; the orchestrator never drives a browser itself.
type Automation interface {
	Click(ctx context.Context, elementID float64) (any, error)
	Type(ctx context.Context, elementID float64, text string) (any, error)
	Scroll(ctx context.Context, direction string) (any, error)
	Screenshot(ctx context.Context) (any, error)
	Navigate(ctx context.Context, url string) (any, error)
	Wait(ctx context.Context, seconds float64) (any, error)
	ReadPage(ctx context.Context) (any, error)
}

const (
	defaultErrorLogLines = 100
	maxErrorLogLines     = 500
)

// BaselineExecutor handles always-available tools: panel navigation, UI
// automation, error-log retrieval, and the workflow-continuation signal.
type BaselineExecutor struct {
	opener     PanelOpener
	automation Automation

	// errorLogPath locates the local error log. A missing file is an empty
	// successful result, not an error.
	errorLogPath string
}

var _ Executor = (*BaselineExecutor)(nil)

// NewBaselineExecutor creates the baseline executor. opener and automation
// may be nil; tools requiring an absent collaborator fail descriptively.
func NewBaselineExecutor(opener PanelOpener, automation Automation, errorLogPath string) *BaselineExecutor {
	return &BaselineExecutor{
		opener:       opener,
		automation:   automation,
		errorLogPath: errorLogPath,
	}
}

// CanExecute implements Executor.
func (e *BaselineExecutor) CanExecute(name string, origin models.ToolOrigin) bool {
	return origin == models.OriginBaseline
}

// Execute implements Executor.
func (e *BaselineExecutor) Execute(ctx context.Context, name string, args map[string]any, _ *ExecContext) (any, error) {
	if panelID, ok := NavigationTarget(name); ok {
		return e.openPanel(ctx, panelID)
	}

	switch name {
	case "ui_click", "ui_type", "ui_scroll", ScreenshotTool, "ui_navigate", "ui_wait", "ui_read_page":
		return e.automate(ctx, name, args)
	case ReadErrorLogsTool:
		return e.readErrorLogs(args)
	case ContinueWorkflowTool:
		return map[string]any{
			"continue": true,
			"reason":   stringArg(args, "reason"),
			"context":  stringArg(args, "context"),
		}, nil
	}
	return nil, fmt.Errorf("unknown baseline tool %q", name)
}

func (e *BaselineExecutor) openPanel(ctx context.Context, panelID string) (any, error) {
	if e.opener == nil {
		return nil, fmt.Errorf("panel navigation is not available")
	}
	if err := e.opener.OpenPanel(ctx, panelID); err != nil {
		return nil, fmt.Errorf("opening panel %s: %w", panelID, err)
	}
	return map[string]any{"opened_panel": panelID}, nil
}

// automate validates arguments before anything reaches the network; invalid
// input fails fast with a descriptive error.
func (e *BaselineExecutor) automate(ctx context.Context, name string, args map[string]any) (any, error) {
	if e.automation == nil {
		return nil, fmt.Errorf("UI automation is not available")
	}

	switch name {
	case "ui_click":
		id, err := finiteNumberArg(args, "element_id")
		if err != nil {
			return nil, err
		}
		return e.automation.Click(ctx, id)

	case "ui_type":
		id, err := finiteNumberArg(args, "element_id")
		if err != nil {
			return nil, err
		}
		text := stringArg(args, "text")
		if text == "" {
			return nil, fmt.Errorf("text is required")
		}
		return e.automation.Type(ctx, id, text)

	case "ui_scroll":
		direction := stringArg(args, "direction")
		if direction != "up" && direction != "down" {
			return nil, fmt.Errorf("direction must be exactly \"up\" or \"down\", got %q", direction)
		}
		return e.automation.Scroll(ctx, direction)

	case ScreenshotTool:
		return e.automation.Screenshot(ctx)

	case "ui_navigate":
		url := stringArg(args, "url")
		if url == "" {
			return nil, fmt.Errorf("url is required")
		}
		return e.automation.Navigate(ctx, url)

	case "ui_wait":
		seconds, err := finiteNumberArg(args, "seconds")
		if err != nil {
			return nil, err
		}
		if seconds <= 0 || seconds > 30 {
			return nil, fmt.Errorf("seconds must be greater than 0 and at most 30, got %v", seconds)
		}
		return e.automation.Wait(ctx, seconds)

	case "ui_read_page":
		return e.automation.ReadPage(ctx)
	}
	return nil, fmt.Errorf("unknown automation tool %q", name)
}

func (e *BaselineExecutor) readErrorLogs(args map[string]any) (any, error) {
	lines := defaultErrorLogLines
	if raw, ok := args["lines"]; ok {
		n, err := toFiniteNumber(raw)
		if err != nil {
			return nil, fmt.Errorf("lines must be a number: %w", err)
		}
		lines = int(n)
	}
	if lines < 1 {
		lines = 1
	}
	if lines > maxErrorLogLines {
		lines = maxErrorLogLines
	}
	pattern := strings.ToLower(stringArg(args, "pattern"))

	f, err := os.Open(e.errorLogPath)
	if os.IsNotExist(err) {
		return map[string]any{"lines": []string{}, "count": 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening error log: %w", err)
	}
	defer f.Close()

	// Bounded local source; a ring over the tail is enough.
	var tail []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if pattern != "" && !strings.Contains(strings.ToLower(line), pattern) {
			continue
		}
		tail = append(tail, line)
		if len(tail) > lines {
			tail = tail[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading error log: %w", err)
	}
	return map[string]any{"lines": tail, "count": len(tail)}, nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func finiteNumberArg(args map[string]any, key string) (float64, error) {
	raw, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := toFiniteNumber(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a finite number: %w", key, err)
	}
	return n, nil
}

func toFiniteNumber(raw any) (float64, error) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q", v)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("value %v is not finite", n)
	}
	return n, nil
}
