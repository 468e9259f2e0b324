package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/pkg/models"
)

// BridgeCaller is the external-process bridge surface the MCP executor needs.
type BridgeCaller interface {
	// CallTool invokes a tool by its composite {server}_{tool} name.
	CallTool(ctx context.Context, compositeName string, args map[string]any) (any, error)
}

// MCPExecutor delegates external-process tool calls to the bridge.
type MCPExecutor struct {
	bridge BridgeCaller
}

var _ Executor = (*MCPExecutor)(nil)

// NewMCPExecutor creates the MCP executor.
func NewMCPExecutor(bridge BridgeCaller) *MCPExecutor {
	return &MCPExecutor{bridge: bridge}
}

// CanExecute implements Executor.
func (e *MCPExecutor) CanExecute(name string, origin models.ToolOrigin) bool {
	return origin == models.OriginMCP
}

// Execute implements Executor.
func (e *MCPExecutor) Execute(ctx context.Context, name string, args map[string]any, _ *ExecContext) (any, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("mcp tool name is empty")
	}
	if e.bridge == nil {
		return nil, fmt.Errorf("mcp bridge is not configured")
	}
	payload, err := e.bridge.CallTool(ctx, name, args)
	if err != nil {
		return nil, fmt.Errorf("mcp tool %s: %w", name, err)
	}
	return payload, nil
}
