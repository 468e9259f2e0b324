package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/strandlabs/strand/pkg/models"
)

// ExecContext carries the per-run context an executor may need.
type ExecContext struct {
	// PanelID is the active panel, empty when none is active.
	PanelID string

	// UserID identifies the requesting user, when known.
	UserID string
}

// Executor executes tools for one origin. Execute returns the tool's payload
// or an error; it never decides success by payload shape.
type Executor interface {
	// CanExecute reports whether this executor handles (name, origin).
	CanExecute(name string, origin models.ToolOrigin) bool

	// Execute performs the call. Errors are normalized by the Manager and
	// never propagate past it.
	Execute(ctx context.Context, name string, args map[string]any, ec *ExecContext) (any, error)
}

// Manager routes a tool invocation to the first executor claiming it and
// normalizes the outcome into the uniform result shape.
type Manager struct {
	executors []Executor
	logger    *slog.Logger
}

// NewManager creates a manager over an ordered executor list. Exactly one
// executor should claim each origin tag.
func NewManager(logger *slog.Logger, executors ...Executor) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		executors: executors,
		logger:    logger.With("component", "tool-executor"),
	}
}

// ExecuteTool dispatches one tool call. A missing executor or an executor
// error produces a failed result, never a panic or propagated error.
func (m *Manager) ExecuteTool(ctx context.Context, name string, origin models.ToolOrigin, args map[string]any, ec *ExecContext) models.ToolExecutionResult {
	start := time.Now()

	for _, ex := range m.executors {
		if !ex.CanExecute(name, origin) {
			continue
		}
		payload, err := ex.Execute(ctx, name, args, ec)
		elapsed := time.Since(start).Milliseconds()
		if err != nil {
			m.logger.Warn("tool execution failed",
				"tool", name, "origin", origin, "duration_ms", elapsed, "error", err)
			return models.ToolExecutionResult{
				Success:    false,
				Error:      err.Error(),
				DurationMs: elapsed,
			}
		}
		m.logger.Debug("tool executed",
			"tool", name, "origin", origin, "duration_ms", elapsed)
		return models.ToolExecutionResult{
			Success:    true,
			Result:     payload,
			DurationMs: elapsed,
		}
	}

	return models.ToolExecutionResult{
		Success:    false,
		Error:      fmt.Sprintf("no executor for tool %q with origin %q", name, origin),
		DurationMs: time.Since(start).Milliseconds(),
	}
}
