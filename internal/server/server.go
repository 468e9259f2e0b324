// Package server is the thin HTTP surface over the orchestrator: decode the
// request, call the runner or bridge, encode the result. No agent logic lives
// here.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/mcp"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/pkg/models"
)

// Server wires the HTTP routes to the orchestrator.
type Server struct {
	runner    *agent.Runner
	discovery *tools.Aggregator
	bridge    *mcp.Bridge
	metrics   *observability.Metrics
	logger    *slog.Logger
	echo      *echo.Echo
}

// Options configures a Server. Bridge may be nil when no MCP servers are
// configured; the lifecycle routes then return 503.
type Options struct {
	Runner    *agent.Runner
	Discovery *tools.Aggregator
	Bridge    *mcp.Bridge
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// New creates the server and registers all routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		runner:    opts.Runner,
		discovery: opts.Discovery,
		bridge:    opts.Bridge,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "http"),
		echo:      e,
	}
	if s.metrics != nil {
		e.Use(s.metricsMiddleware)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.POST("/v1/agent/run", s.handleRun)
	e.POST("/v1/agent/stream", s.handleStream)
	e.GET("/v1/tools", s.handleDiscoverTools)

	e.POST("/v1/mcp/call", s.handleMCPCall)
	e.GET("/v1/mcp/servers", s.handleMCPServers)
	e.POST("/v1/mcp/servers/:name/connect", s.handleMCPConnect)
	e.POST("/v1/mcp/servers/:name/disconnect", s.handleMCPDisconnect)
	e.POST("/v1/mcp/servers/:name/toggle", s.handleMCPToggle)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
			s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
}

func (s *Server) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.metrics.RecordHTTPRequest(
			c.Request().Method,
			c.Path(),
			strconv.Itoa(c.Response().Status),
			time.Since(start).Seconds(),
		)
		return err
	}
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// runRequest is the wire shape of an agent run.
type runRequest struct {
	Messages      []models.Message             `json:"messages"`
	Tools         []models.ToolDefinition      `json:"tools,omitempty"`
	ToolOrigins   map[string]models.ToolOrigin `json:"tool_origins,omitempty"`
	MaxIterations int                          `json:"max_iterations,omitempty"`
	Provider      string                       `json:"provider,omitempty"`
	Model         string                       `json:"model,omitempty"`
	PanelID       string                       `json:"panel_id,omitempty"`
	UserID        string                       `json:"user_id,omitempty"`
}

func (r *runRequest) toAgent() *agent.RunRequest {
	return &agent.RunRequest{
		Messages:      r.Messages,
		Tools:         r.Tools,
		ToolOrigins:   r.ToolOrigins,
		MaxIterations: r.MaxIterations,
		Provider:      r.Provider,
		Model:         r.Model,
		PanelID:       r.PanelID,
		UserID:        r.UserID,
	}
}

func (s *Server) handleRun(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "messages are required"})
	}

	result, err := s.runner.Run(c.Request().Context(), req.toAgent())
	if err != nil {
		s.logger.Error("agent run failed", "error", err)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": observability.Redact(err.Error()),
		})
	}
	return c.JSON(http.StatusOK, result)
}

// streamEvent is one SSE payload on /v1/agent/stream.
type streamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (s *Server) handleStream(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "messages are required"})
	}

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	// Client disconnect cancels the run; the provider read loop observes it
	// through the request context.
	ctx := c.Request().Context()
	emit := func(event streamEvent) {
		if ctx.Err() != nil {
			return
		}
		s.writeEvent(c, event)
	}

	handlers := agent.Handlers{
		OnToken: func(text string) {
			emit(streamEvent{Type: "token", Data: text})
		},
		OnReasoning: func(text string) {
			emit(streamEvent{Type: "reasoning", Data: text})
		},
		OnReasoningDetails: func(details []models.ReasoningFragment) {
			emit(streamEvent{Type: "reasoning_details", Data: details})
		},
		OnDebug: func(event string, data any) {
			emit(streamEvent{Type: "debug", Data: map[string]any{"event": event, "data": data}})
		},
		OnToolCallsPlanned: func(calls []models.ToolCall) {
			emit(streamEvent{Type: "tool_calls", Data: calls})
		},
		OnToolExecuted: func(call models.ExecutedToolCall) {
			emit(streamEvent{Type: "tool_executed", Data: call})
		},
	}

	result, err := s.runner.RunStreaming(ctx, req.toAgent(), handlers)
	if err != nil {
		emit(streamEvent{Type: "error", Data: observability.Redact(err.Error())})
		return nil
	}
	emit(streamEvent{Type: "done", Data: result})
	return nil
}

func (s *Server) writeEvent(c echo.Context, event streamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("unserializable stream event", "type", event.Type, "error", err)
		return
	}
	fmt.Fprintf(c.Response(), "data: %s\n\n", data)
	c.Response().Flush()
}

func (s *Server) handleDiscoverTools(c echo.Context) error {
	result, err := s.discovery.DiscoverTools(c.QueryParam("panel_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"baseline_tools":  result.BaselineTools,
		"panel_tools":     result.PanelTools,
		"mcp_tools":       result.MCPTools,
		"tool_origin_map": result.ToolOriginMap,
	})
}

type mcpCallRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (s *Server) handleMCPCall(c echo.Context) error {
	if s.bridge == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "mcp bridge not configured"})
	}
	var req mcpCallRequest
	if err := c.Bind(&req); err != nil || req.Tool == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tool is required"})
	}
	payload, err := s.bridge.CallTool(c.Request().Context(), req.Tool, req.Arguments)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"is_error": true, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"is_error": false, "content": payload})
}

func (s *Server) handleMCPServers(c echo.Context) error {
	if s.bridge == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "mcp bridge not configured"})
	}
	return c.JSON(http.StatusOK, s.bridge.ConfiguredServers())
}

func (s *Server) handleMCPConnect(c echo.Context) error {
	if s.bridge == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "mcp bridge not configured"})
	}
	if err := s.bridge.ConnectServer(c.Request().Context(), c.Param("name")); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "connected"})
}

func (s *Server) handleMCPDisconnect(c echo.Context) error {
	if s.bridge == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "mcp bridge not configured"})
	}
	if err := s.bridge.DisconnectServer(c.Request().Context(), c.Param("name")); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "disconnected"})
}

type mcpToggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleMCPToggle(c echo.Context) error {
	if s.bridge == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "mcp bridge not configured"})
	}
	var req mcpToggleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := s.bridge.ToggleServer(c.Request().Context(), c.Param("name"), req.Enabled); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"enabled": req.Enabled})
}
