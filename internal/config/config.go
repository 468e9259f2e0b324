// Package config loads and validates the Strand configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Strand.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Agent   AgentConfig   `yaml:"agent"`
	Policy  PolicyConfig  `yaml:"policy"`
	MCP     MCPConfig     `yaml:"mcp"`
	UI      UIConfig      `yaml:"ui"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type LLMConfig struct {
	// ActiveProvider selects the provider adapter: openrouter, openai, anthropic.
	ActiveProvider string `yaml:"active_provider"`

	// ActiveModel is the model identifier passed to the active provider.
	ActiveModel string `yaml:"active_model"`

	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type AgentConfig struct {
	// MaxIterations bounds the LLM-call / tool-execution cycles per run.
	MaxIterations int `yaml:"max_iterations"`

	// MaxTokens is the per-call response token budget.
	MaxTokens int `yaml:"max_tokens"`

	Temperature float64 `yaml:"temperature"`
}

type PolicyConfig struct {
	// RequireAcknowledgment forces a textual acknowledgment before tool calls.
	RequireAcknowledgment *bool `yaml:"require_acknowledgment"`

	// MaxToolCallsPerTurn caps tool dispatch volume within one turn.
	MaxToolCallsPerTurn int `yaml:"max_tool_calls_per_turn"`

	// ConfirmDestructive blocks tools whose names match destructive patterns.
	ConfirmDestructive *bool `yaml:"confirm_destructive"`
}

type MCPConfig struct {
	// ConfigPath points at the JSON file describing external tool servers.
	ConfigPath string `yaml:"config_path"`

	// SettingsPath stores the persisted disabled-server list.
	SettingsPath string `yaml:"settings_path"`

	// ReloadDebounce coalesces rapid config edits into one reload.
	ReloadDebounce time.Duration `yaml:"reload_debounce"`
}

type UIConfig struct {
	// BaseURL is the UI host's automation API. Empty disables panel
	// navigation and UI automation tools.
	BaseURL string `yaml:"base_url"`

	// ErrorLogPath locates the local error log read_error_logs serves.
	ErrorLogPath string `yaml:"error_log_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with sane defaults applied.
func Default() *Config {
	ack := true
	confirm := true
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8790,
			MetricsPort: 9090,
		},
		LLM: LLMConfig{
			ActiveProvider: "openrouter",
			Providers:      map[string]ProviderConfig{},
		},
		Agent: AgentConfig{
			MaxIterations: 25,
			MaxTokens:     4096,
			Temperature:   0.7,
		},
		Policy: PolicyConfig{
			RequireAcknowledgment: &ack,
			MaxToolCallsPerTurn:   50,
			ConfirmDestructive:    &confirm,
		},
		MCP: MCPConfig{
			ConfigPath:     "mcp-servers.json",
			SettingsPath:   "strand-settings.json",
			ReloadDebounce: 500 * time.Millisecond,
		},
		UI: UIConfig{
			ErrorLogPath: "strand-errors.log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file, layering it over defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = defaults.Agent.MaxIterations
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = defaults.Agent.MaxTokens
	}
	if c.Policy.MaxToolCallsPerTurn <= 0 {
		c.Policy.MaxToolCallsPerTurn = defaults.Policy.MaxToolCallsPerTurn
	}
	if c.Policy.RequireAcknowledgment == nil {
		c.Policy.RequireAcknowledgment = defaults.Policy.RequireAcknowledgment
	}
	if c.Policy.ConfirmDestructive == nil {
		c.Policy.ConfirmDestructive = defaults.Policy.ConfirmDestructive
	}
	if c.MCP.ReloadDebounce <= 0 {
		c.MCP.ReloadDebounce = defaults.MCP.ReloadDebounce
	}
	if c.MCP.ConfigPath == "" {
		c.MCP.ConfigPath = defaults.MCP.ConfigPath
	}
	if c.MCP.SettingsPath == "" {
		c.MCP.SettingsPath = defaults.MCP.SettingsPath
	}
	if c.UI.ErrorLogPath == "" {
		c.UI.ErrorLogPath = defaults.UI.ErrorLogPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.LLM.ActiveProvider == "" {
		return fmt.Errorf("llm.active_provider is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}
