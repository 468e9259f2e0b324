package tools

import (
	"fmt"
	"log/slog"

	"github.com/strandlabs/strand/internal/panels"
	"github.com/strandlabs/strand/pkg/models"
)

// MCPSource supplies the currently callable external-process tools. Entries
// from disconnected servers must already be filtered out.
type MCPSource interface {
	ConnectedTools() []models.ToolDefinition
}

// DiscoveryResult is one discovery snapshot. The origin map is built by
// iterating baseline, then panel, then mcp, overwriting on name collision:
// context-specific tools deliberately shadow generic ones by name.
type DiscoveryResult struct {
	BaselineTools []models.ToolDefinition
	PanelTools    []models.ToolDefinition
	MCPTools      []models.ToolDefinition
	ToolOriginMap map[string]models.ToolOrigin
}

// AllTools returns baseline, panel, and mcp tools in precedence order.
func (r *DiscoveryResult) AllTools() []models.ToolDefinition {
	all := make([]models.ToolDefinition, 0, len(r.BaselineTools)+len(r.PanelTools)+len(r.MCPTools))
	all = append(all, r.BaselineTools...)
	all = append(all, r.PanelTools...)
	all = append(all, r.MCPTools...)
	return all
}

// Aggregator computes the callable tool set for a panel context. It is
// read-only and safe to call repeatedly and concurrently.
type Aggregator struct {
	panels panels.Registry
	mcp    MCPSource
	logger *slog.Logger
}

// NewAggregator creates a discovery aggregator. mcp may be nil when no bridge
// is configured.
func NewAggregator(registry panels.Registry, mcp MCPSource, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		panels: registry,
		mcp:    mcp,
		logger: logger.With("component", "tool-discovery"),
	}
}

// DiscoverTools returns the full currently-callable tool set for panelID.
// An empty panelID means no panel is active; panel tools are then empty.
func (a *Aggregator) DiscoverTools(panelID string) (*DiscoveryResult, error) {
	result := &DiscoveryResult{
		BaselineTools: append(BaselineCatalog(), AutomationCatalog()...),
		ToolOriginMap: make(map[string]models.ToolOrigin),
	}

	if panelID != "" && a.panels != nil {
		manifest, ok := a.panels.Manifest(panelID)
		if ok {
			for _, tool := range manifest.Tools {
				schema, err := ConvertParameters(tool.Parameters)
				if err != nil {
					return nil, fmt.Errorf("panel %s tool %s: %w", panelID, tool.Name, err)
				}
				result.PanelTools = append(result.PanelTools, models.ToolDefinition{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  schema,
				})
			}
		} else {
			a.logger.Debug("no manifest for panel", "panel_id", panelID)
		}
	}

	if a.mcp != nil {
		result.MCPTools = a.mcp.ConnectedTools()
	}

	for _, tool := range result.BaselineTools {
		result.ToolOriginMap[tool.Name] = models.OriginBaseline
	}
	for _, tool := range result.PanelTools {
		result.ToolOriginMap[tool.Name] = models.OriginPanel
	}
	for _, tool := range result.MCPTools {
		result.ToolOriginMap[tool.Name] = models.OriginMCP
	}

	return result, nil
}
