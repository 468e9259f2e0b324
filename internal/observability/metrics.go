// Package observability provides Prometheus metrics and structured logging
// for the orchestrator: agent run accounting, LLM request latency, tool
// execution patterns, and MCP bridge health.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects orchestrator metrics on a dedicated registry so tests and
// embedded deployments never collide with the process default registry.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolExecution("ui_click", "success", elapsed.Seconds())
type Metrics struct {
	registry *prometheus.Registry

	// AgentRunCounter counts agent runs by terminal status.
	// Labels: status (completed|error)
	AgentRunCounter *prometheus.CounterVec

	// AgentRunIterations observes iterations consumed per run.
	// Buckets: 1, 2, 3, 5, 8, 13, 21, 25
	AgentRunIterations prometheus.Histogram

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|blocked)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// MCPServerConnected is a gauge of live MCP server connections.
	MCPServerConnected prometheus.Gauge

	// MCPCallCounter counts external-tool proxy calls.
	// Labels: server, status (success|error)
	MCPCallCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all orchestrator metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		AgentRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_agent_runs_total",
				Help: "Total number of agent runs by terminal status",
			},
			[]string{"status"},
		),

		AgentRunIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strand_agent_run_iterations",
				Help:    "Iterations consumed per agent run",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 25},
			},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		MCPServerConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "strand_mcp_servers_connected",
				Help: "Current number of connected MCP tool servers",
			},
		),

		MCPCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_mcp_calls_total",
				Help: "Total number of proxied MCP tool calls by server and status",
			},
			[]string{"server", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// Registry returns the dedicated registry for exposition handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun records one finished agent run.
func (m *Metrics) RecordRun(status string, iterations int) {
	m.AgentRunCounter.WithLabelValues(status).Inc()
	m.AgentRunIterations.Observe(float64(iterations))
}

// RecordLLMRequest records one LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool dispatch.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordMCPCall records one proxied external-tool call.
func (m *Metrics) RecordMCPCall(server, status string) {
	m.MCPCallCounter.WithLabelValues(server, status).Inc()
}

// RecordHTTPRequest records one HTTP API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
