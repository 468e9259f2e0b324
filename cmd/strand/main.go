// Package main provides the CLI entry point for the Strand agent orchestrator.
//
// Strand runs an LLM agent loop over streaming provider responses, routing
// tool calls to built-in executors, panel-declared tools, and external MCP
// servers, with a policy layer gating dispatch.
//
// # Basic Usage
//
// Start the server:
//
//	strand serve --config strand.yaml
//
// Inspect the tools an agent run would see:
//
//	strand tools --panel editor
//
// Manage MCP servers:
//
//	strand mcp servers
//	strand mcp call github_search '{"query":"fsnotify"}'
//
// # Environment Variables
//
//   - STRAND_CONFIG: Path to configuration file (default: strand.yaml)
//   - OPENROUTER_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY: provider keys,
//     used when the config omits an api_key for that provider
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/mcp"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/panels"
	"github.com/strandlabs/strand/internal/prompts"
	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/server"
	"github.com/strandlabs/strand/internal/settings"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/internal/tools/policy"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strand",
		Short: "Strand - LLM agent loop orchestrator",
		Long: `Strand orchestrates LLM agent runs: streaming responses, tool discovery
and routing, policy-gated dispatch, and external MCP tool servers.

Supported providers: OpenRouter, OpenAI, Anthropic`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildMcpCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the STRAND_CONFIG override when the flag was
// left at its default.
func resolveConfigPath(path string) string {
	if env := strings.TrimSpace(os.Getenv("STRAND_CONFIG")); env != "" && path == defaultConfigName {
		return env
	}
	return path
}

const defaultConfigName = "strand.yaml"

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Strand orchestrator server",
		Long: `Start the orchestrator with all configured providers and tool sources.

The server will:
1. Load configuration from the specified file (or strand.yaml)
2. Initialize LLM provider adapters
3. Connect configured MCP servers and start the config watcher
4. Start the HTTP API, including streaming runs and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  strand serve

  # Start with custom config and debug logging
  strand serve --config /etc/strand/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// runServe is the composition root: it assembles providers, tool sources,
// the bridge, the runner, and the HTTP server, then blocks until shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	logger.Info("starting strand orchestrator",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	metrics := observability.NewMetrics()

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	store, err := settings.OpenFileStore(cfg.MCP.SettingsPath)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}

	bridge := mcp.NewBridge(mcp.Options{
		ConfigPath:     cfg.MCP.ConfigPath,
		Settings:       store,
		ReloadDebounce: cfg.MCP.ReloadDebounce,
		Logger:         logger,
	})
	initCtx, cancelInit := context.WithTimeout(ctx, 30*time.Second)
	if err := bridge.Initialize(initCtx); err != nil {
		logger.Warn("mcp bridge initialization failed, continuing without external tools", "error", err)
	}
	cancelInit()

	registry := panels.NewMemoryRegistry()
	promptStore := prompts.NewMemoryStore()

	var (
		opener     tools.PanelOpener
		automation tools.Automation
	)
	if cfg.UI.BaseURL != "" {
		ui := tools.NewUIClient(cfg.UI.BaseURL, nil)
		opener, automation = ui, ui
	}

	executor := tools.NewManager(logger,
		tools.NewBaselineExecutor(opener, automation, cfg.UI.ErrorLogPath),
		tools.NewPanelExecutor(registry, promptStore, nil),
		tools.NewMCPExecutor(bridge),
	)
	discovery := tools.NewAggregator(registry, bridge, logger)

	runner := agent.NewRunner(agent.Options{
		Providers:       providers,
		DefaultProvider: cfg.LLM.ActiveProvider,
		DefaultModel:    cfg.LLM.ActiveModel,
		Prompts:         promptStore,
		Panels:          registry,
		Discovery:       discovery,
		Executor:        executor,
		Policy:          policyFromConfig(cfg.Policy),
		Metrics:         metrics,
		Logger:          logger,
		MaxIterations:   cfg.Agent.MaxIterations,
		MaxTokens:       cfg.Agent.MaxTokens,
		Temperature:     cfg.Agent.Temperature,
	})

	srv := server.New(server.Options{
		Runner:    runner,
		Discovery: discovery,
		Bridge:    bridge,
		Metrics:   metrics,
		Logger:    logger,
	})

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.MetricsPort > 0 && cfg.Server.MetricsPort != cfg.Server.Port {
		go serveMetrics(runCtx, cfg, metrics, logger)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	err = srv.Start(runCtx, addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	bridge.Shutdown(shutdownCtx)
	cancel()

	logger.Info("strand orchestrator stopped")
	return err
}

// serveMetrics exposes the Prometheus registry on its own listener so
// scrapes never contend with streaming runs.
func serveMetrics(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics listener failed", "error", err)
	}
}

// buildProviders constructs one adapter per configured provider. Keys fall
// back to conventional environment variables when the config omits them.
func buildProviders(cfg *config.Config) (map[string]provider.Provider, error) {
	providers := make(map[string]provider.Provider)

	for name, pc := range cfg.LLM.Providers {
		apiKey := pc.APIKey
		switch name {
		case "openrouter":
			if apiKey == "" {
				apiKey = os.Getenv("OPENROUTER_API_KEY")
			}
			p, err := provider.NewOpenRouterProvider(provider.OpenRouterConfig{
				APIKey:  apiKey,
				BaseURL: pc.BaseURL,
				Timeout: pc.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
			providers[name] = p
		case "openai":
			if apiKey == "" {
				apiKey = os.Getenv("OPENAI_API_KEY")
			}
			p, err := provider.NewOpenAIProvider(provider.OpenAIConfig{
				APIKey:  apiKey,
				BaseURL: pc.BaseURL,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
			providers[name] = p
		case "anthropic":
			if apiKey == "" {
				apiKey = os.Getenv("ANTHROPIC_API_KEY")
			}
			p, err := provider.NewAnthropicProvider(provider.AnthropicConfig{
				APIKey:  apiKey,
				BaseURL: pc.BaseURL,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
			providers[name] = p
		default:
			return nil, fmt.Errorf("unknown provider %q in config", name)
		}
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured; add llm.providers to the config")
	}
	if _, ok := providers[cfg.LLM.ActiveProvider]; !ok {
		return nil, fmt.Errorf("active provider %q has no configuration", cfg.LLM.ActiveProvider)
	}
	return providers, nil
}

func policyFromConfig(pc config.PolicyConfig) *policy.Config {
	p := policy.New()
	if pc.RequireAcknowledgment != nil {
		p.RequireAcknowledgment = *pc.RequireAcknowledgment
	}
	if pc.ConfirmDestructive != nil {
		p.ConfirmDestructive = *pc.ConfirmDestructive
	}
	if pc.MaxToolCallsPerTurn > 0 {
		p.MaxToolCallsPerTurn = pc.MaxToolCallsPerTurn
	}
	return p
}

func buildToolsCmd() *cobra.Command {
	var (
		configPath string
		panelID    string
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools an agent run would discover",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			bridge, err := openBridge(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bridge.Shutdown(ctx)
				cancel()
			}()

			discovery := tools.NewAggregator(panels.NewMemoryRegistry(), bridge, slog.Default())
			result, err := discovery.DiscoverTools(panelID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, def := range result.AllTools() {
				origin := result.ToolOriginMap[def.Name]
				fmt.Fprintf(out, "%-40s %-10s %s\n", def.Name, origin, def.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().StringVarP(&panelID, "panel", "p", "", "Panel context for discovery")

	return cmd
}

func buildMcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP servers and tools",
		Long: `Manage external MCP tool servers.

Use "strand mcp servers" to list configured servers and their state.`,
	}
	cmd.AddCommand(
		buildMcpServersCmd(),
		buildMcpCallCmd(),
	)
	return cmd
}

// openBridge opens the settings store and connects the bridge. Shared by the
// one-shot CLI commands; serve wires its own.
func openBridge(ctx context.Context, cfg *config.Config) (*mcp.Bridge, error) {
	store, err := settings.OpenFileStore(cfg.MCP.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	bridge := mcp.NewBridge(mcp.Options{
		ConfigPath: cfg.MCP.ConfigPath,
		Settings:   store,
		Logger:     slog.Default(),
	})
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bridge.Initialize(initCtx); err != nil {
		return nil, fmt.Errorf("initialize mcp bridge: %w", err)
	}
	return bridge, nil
}

func buildMcpServersCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List configured MCP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			bridge, err := openBridge(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bridge.Shutdown(ctx)
				cancel()
			}()

			out := cmd.OutOrStdout()
			for _, status := range bridge.ConfiguredServers() {
				state := "disconnected"
				if status.Connected {
					state = "connected"
				}
				if status.PersistedDisabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "%-20s %-12s %d tools\n", status.Name, state, status.ToolCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

func buildMcpCallCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "call <tool> [json-args]",
		Short: "Call an MCP tool by its composite name",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}

			toolArgs := map[string]any{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
					return fmt.Errorf("parse arguments: %w", err)
				}
			}

			bridge, err := openBridge(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bridge.Shutdown(ctx)
				cancel()
			}()

			result, err := bridge.CallTool(cmd.Context(), args[0], toolArgs)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}
