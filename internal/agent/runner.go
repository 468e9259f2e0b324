// Package agent implements the agent loop orchestrator: transcript
// construction, iterative provider calls, policy-gated sequential tool
// dispatch, mid-run tool rediscovery after navigation, and result
// sanitization before transcript re-entry.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/panels"
	"github.com/strandlabs/strand/internal/prompts"
	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/internal/tools/policy"
	"github.com/strandlabs/strand/pkg/models"
)

// DefaultMaxIterations bounds the provider-call / tool-execution cycle when
// the request does not override it.
const DefaultMaxIterations = 25

// Handlers receives streaming callbacks for one run. All handlers are
// optional and invoked synchronously in causal order.
type Handlers struct {
	// OnToken receives content deltas, including synthesized acknowledgment
	// text.
	OnToken func(text string)

	// OnReasoning receives raw reasoning deltas.
	OnReasoning func(text string)

	// OnReasoningDetails receives the merged fragment array after each
	// reasoning delta.
	OnReasoningDetails func(details []models.ReasoningFragment)

	// OnDebug receives arbitrary debug events.
	OnDebug func(event string, data any)

	// OnToolCallsPlanned announces a turn's tool-call batch before dispatch.
	OnToolCallsPlanned func(calls []models.ToolCall)

	// OnToolExecuted reports each completed dispatch. The summary carries
	// the unsanitized result; sanitization applies only to the transcript.
	OnToolExecuted func(call models.ExecutedToolCall)
}

// RunRequest is one agent invocation.
type RunRequest struct {
	Messages []models.Message

	// Tools overrides discovery when non-nil. ToolOrigins should accompany
	// it; discovery fills both when Tools is nil.
	Tools       []models.ToolDefinition
	ToolOrigins map[string]models.ToolOrigin

	// MaxIterations overrides the default iteration budget when positive.
	MaxIterations int

	// Provider and Model override the configured defaults when set.
	Provider string
	Model    string

	PanelID string
	UserID  string
}

// RunResult is the terminal outcome of a run.
type RunResult struct {
	Content    string                    `json:"content"`
	ToolCalls  []models.ExecutedToolCall `json:"tool_calls"`
	Model      string                    `json:"model"`
	Iterations int                       `json:"iterations"`
	Usage      provider.Usage            `json:"usage"`
}

// Options wires a Runner's collaborators.
type Options struct {
	// Providers maps provider name to adapter.
	Providers map[string]provider.Provider

	// DefaultProvider and DefaultModel come from deployment configuration.
	DefaultProvider string
	DefaultModel    string

	Prompts   prompts.Store
	Panels    panels.Registry
	Discovery *tools.Aggregator
	Executor  *tools.Manager
	Policy    *policy.Config
	Metrics   *observability.Metrics
	Logger    *slog.Logger

	// MaxIterations overrides DefaultMaxIterations when positive.
	MaxIterations int

	// MaxTokens and Temperature are applied to every provider call.
	MaxTokens   int
	Temperature float64
}

// Runner is the agent loop orchestrator. Each run owns its state exclusively;
// a Runner is safe for concurrent runs.
type Runner struct {
	providers       map[string]provider.Provider
	defaultProvider string
	defaultModel    string
	prompts         prompts.Store
	panels          panels.Registry
	discovery       *tools.Aggregator
	executor        *tools.Manager
	policy          *policy.Config
	metrics         *observability.Metrics
	logger          *slog.Logger
	maxIterations   int
	maxTokens       int
	temperature     float64
}

// NewRunner creates a runner. Policy defaults to the standard gates when nil.
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pol := opts.Policy
	if pol == nil {
		pol = policy.New()
	}
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Runner{
		providers:       opts.Providers,
		defaultProvider: opts.DefaultProvider,
		defaultModel:    opts.DefaultModel,
		prompts:         opts.Prompts,
		panels:          opts.Panels,
		discovery:       opts.Discovery,
		executor:        opts.Executor,
		policy:          pol,
		metrics:         opts.Metrics,
		logger:          logger.With("component", "agent"),
		maxIterations:   maxIterations,
		maxTokens:       opts.MaxTokens,
		temperature:     opts.Temperature,
	}
}

// runState is the per-run mutable state. Exclusively owned by one run, never
// shared across concurrent runs.
type runState struct {
	iteration     int
	maxIterations int
	transcript    []models.Message
	toolDefs      []models.ToolDefinition
	origins       map[string]models.ToolOrigin
	panelID       string
	fullResponse  strings.Builder
	executed      []models.ExecutedToolCall
	usage         provider.Usage
}

// Run executes the loop without streaming callbacks.
func (r *Runner) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	return r.run(ctx, req, Handlers{}, false)
}

// RunStreaming executes the loop, forwarding incremental callbacks. The
// returned result is identical in shape to Run's.
func (r *Runner) RunStreaming(ctx context.Context, req *RunRequest, handlers Handlers) (*RunResult, error) {
	return r.run(ctx, req, handlers, true)
}

func (r *Runner) run(ctx context.Context, req *RunRequest, handlers Handlers, streaming bool) (*RunResult, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = r.defaultProvider
	}
	adapter, ok := r.providers[providerName]
	if !ok || adapter == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, providerName)
	}

	model := req.Model
	if model == "" {
		model = r.defaultModel
	}
	if model == "" {
		return nil, ErrNoModel
	}

	state := &runState{
		maxIterations: r.maxIterations,
		panelID:       req.PanelID,
		origins:       make(map[string]models.ToolOrigin, len(req.ToolOrigins)),
	}
	if req.MaxIterations > 0 {
		state.maxIterations = req.MaxIterations
	}
	// Snapshot the caller's origin map; the run mutates its own copy.
	for name, origin := range req.ToolOrigins {
		state.origins[name] = origin
	}
	state.toolDefs = req.Tools
	if state.toolDefs == nil && r.discovery != nil {
		discovered, err := r.discovery.DiscoverTools(req.PanelID)
		if err != nil {
			return nil, fmt.Errorf("tool discovery: %w", err)
		}
		state.toolDefs = discovered.AllTools()
		if len(state.origins) == 0 {
			for name, origin := range discovered.ToolOriginMap {
				state.origins[name] = origin
			}
		}
	}

	state.transcript = r.buildTranscript(req.Messages, req.PanelID, req.UserID)

	r.logger.Debug("agent run starting",
		"provider", providerName, "model", model,
		"panel_id", req.PanelID, "tools", len(state.toolDefs),
		"max_iterations", state.maxIterations)

	for state.iteration < state.maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(state, err)
		}
		state.iteration++

		resp, err := r.callProvider(ctx, adapter, model, state, handlers, streaming)
		if err != nil {
			return nil, r.fail(state, err)
		}
		state.fullResponse.WriteString(resp.Content)
		state.usage.PromptTokens += resp.Usage.PromptTokens
		state.usage.CompletionTokens += resp.Usage.CompletionTokens
		state.usage.TotalTokens += resp.Usage.TotalTokens

		// At most one assistant message per iteration. Reasoning details are
		// attached even when not displayed; the next provider call replays
		// them verbatim.
		if msg, ok := assistantMessage(resp); ok {
			state.transcript = append(state.transcript, msg)
		}

		if len(resp.ToolCalls) == 0 {
			break
		}

		if handlers.OnToolCallsPlanned != nil {
			handlers.OnToolCallsPlanned(resp.ToolCalls)
		}
		if handlers.OnDebug != nil {
			handlers.OnDebug("tool_batch", map[string]any{
				"iteration": state.iteration,
				"count":     len(resp.ToolCalls),
			})
		}

		if r.policy.RequiresAcknowledgment(resp.Content) {
			ack := r.policy.AcknowledgmentText(len(resp.ToolCalls))
			if handlers.OnToken != nil {
				handlers.OnToken(ack)
			}
			// Retroactive splice: the just-appended assistant message opens
			// with the acknowledgment.
			state.transcript[len(state.transcript)-1].Content = ack
			state.fullResponse.WriteString(ack)
		}

		if exhausted := r.dispatchBatch(ctx, resp.ToolCalls, state, req.UserID, handlers); exhausted {
			break
		}
	}

	if r.metrics != nil {
		r.metrics.RecordRun("completed", state.iteration)
	}
	r.logger.Debug("agent run completed",
		"iterations", state.iteration, "tool_calls", len(state.executed))

	return &RunResult{
		Content:    state.fullResponse.String(),
		ToolCalls:  state.executed,
		Model:      model,
		Iterations: state.iteration,
		Usage:      state.usage,
	}, nil
}

// assistantMessage converts a provider response into the transcript entry
// for its iteration. A response with neither content nor tool calls ends the
// run anyway, so it produces no empty message.
func assistantMessage(resp *provider.ChatResponse) (models.Message, bool) {
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return models.Message{}, false
	}
	return models.Message{
		Role:             models.RoleAssistant,
		Content:          resp.Content,
		ToolCalls:        resp.ToolCalls,
		ReasoningDetails: resp.ReasoningDetails,
	}, true
}

func (r *Runner) fail(state *runState, err error) error {
	if r.metrics != nil {
		r.metrics.RecordRun("error", state.iteration)
	}
	return &RunError{Iteration: state.iteration, Cause: err}
}

func (r *Runner) callProvider(ctx context.Context, adapter provider.Provider, model string, state *runState, handlers Handlers, streaming bool) (*provider.ChatResponse, error) {
	req := &provider.ChatRequest{
		Model:       model,
		Messages:    state.transcript,
		Tools:       state.toolDefs,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	}

	start := time.Now()
	var resp *provider.ChatResponse
	var err error
	if streaming {
		resp, err = adapter.StreamChatCompletion(ctx, req, provider.StreamHandlers{
			OnToken:            handlers.OnToken,
			OnReasoning:        handlers.OnReasoning,
			OnReasoningDetails: handlers.OnReasoningDetails,
		})
	} else {
		resp, err = adapter.ChatCompletion(ctx, req)
	}

	if r.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		var prompt, completion int
		if resp != nil {
			prompt = resp.Usage.PromptTokens
			completion = resp.Usage.CompletionTokens
		}
		r.metrics.RecordLLMRequest(adapter.Name(), model, status, time.Since(start).Seconds(), prompt, completion)
	}
	return resp, err
}

// dispatchBatch executes one turn's tool calls strictly sequentially: later
// calls may depend on side effects of earlier ones (navigate, then interact).
// Returns true when the per-turn budget stopped the batch; the run then ends
// with whatever was accumulated.
func (r *Runner) dispatchBatch(ctx context.Context, calls []models.ToolCall, state *runState, userID string, handlers Handlers) bool {
	turnCalls := 0
	for _, call := range calls {
		if budget := r.policy.CheckBudget(turnCalls); !budget.WithinLimit {
			r.logger.Warn("tool-call budget exhausted for turn",
				"executed", turnCalls, "requested", len(calls))
			return true
		}
		turnCalls++

		result := r.executeCall(ctx, call, state, userID)

		summary := models.ExecutedToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
			Result:    result.Result,
			Success:   result.Success,
			Error:     result.Error,
		}
		state.executed = append(state.executed, summary)
		if handlers.OnToolExecuted != nil {
			handlers.OnToolExecuted(summary)
		}

		if result.Success {
			r.refreshAfterNavigation(call.Name, state)
		}

		sanitized := sanitizeToolResult(call.Name, result.Result)
		state.transcript = append(state.transcript, models.Message{
			Role:       models.RoleTool,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    toolResultContent(result, sanitized),
		})

		if call.Name == tools.ContinueWorkflowTool && result.Success {
			if msg, ok := continuationMessage(result.Result); ok {
				state.transcript = append(state.transcript, models.Message{
					Role:    models.RoleUser,
					Content: msg,
				})
			}
		}
	}
	return false
}

// executeCall produces exactly one result for one tool call. Parse errors and
// policy blocks short-circuit before any executor is reached.
func (r *Runner) executeCall(ctx context.Context, call models.ToolCall, state *runState, userID string) models.ToolExecutionResult {
	args, parseErr := parseToolArguments(call.Arguments)
	if parseErr != nil {
		r.recordToolMetric(call.Name, "error", 0)
		return models.ToolExecutionResult{Success: false, Error: parseErr.Error()}
	}

	unescapeContentArguments(call.Name, args)

	if block := r.policy.IsBlocked(call.Name); block.Blocked {
		r.logger.Info("tool blocked by policy", "tool", call.Name, "reason", block.Reason)
		r.recordToolMetric(call.Name, "blocked", 0)
		return models.ToolExecutionResult{Success: false, Error: block.Reason}
	}

	origin := state.origins[call.Name]
	result := r.executor.ExecuteTool(ctx, call.Name, origin, args, &tools.ExecContext{
		PanelID: state.panelID,
		UserID:  userID,
	})

	status := "success"
	if !result.Success {
		status = "error"
	}
	r.recordToolMetric(call.Name, status, result.DurationMs)
	return result
}

func (r *Runner) recordToolMetric(name, status string, durationMs int64) {
	if r.metrics != nil {
		r.metrics.RecordToolExecution(name, status, float64(durationMs)/1000)
	}
}

// refreshAfterNavigation re-runs discovery when a navigation tool changed the
// active panel, merging the refreshed origin map overwrite-by-name so the
// rest of this batch and later iterations see the updated legal tool set.
// The merge is a plain map write; a run executes on a single goroutine.
func (r *Runner) refreshAfterNavigation(toolName string, state *runState) {
	target, ok := tools.NavigationTarget(toolName)
	if !ok {
		return
	}
	state.panelID = target
	if r.discovery == nil {
		return
	}
	discovered, err := r.discovery.DiscoverTools(target)
	if err != nil {
		r.logger.Warn("tool rediscovery after navigation failed",
			"panel_id", target, "error", err)
		return
	}
	state.toolDefs = discovered.AllTools()
	for name, origin := range discovered.ToolOriginMap {
		state.origins[name] = origin
	}
	r.logger.Debug("tool set refreshed after navigation",
		"panel_id", target, "tools", len(state.toolDefs))
}

// toolResultContent renders the transcript-bound tool message body.
func toolResultContent(result models.ToolExecutionResult, sanitized any) string {
	payload := map[string]any{"success": result.Success}
	if result.Success {
		payload["result"] = sanitized
	} else {
		payload["error"] = result.Error
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"unserializable tool result: %v"}`, err)
	}
	return string(data)
}

// continuationMessage builds the synthesized user message a successful
// continue_workflow result drives. Only a truthy continue flag produces one.
func continuationMessage(result any) (string, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	cont, _ := m["continue"].(bool)
	if !cont {
		return "", false
	}

	var b strings.Builder
	if reason, _ := m["reason"].(string); reason != "" {
		b.WriteString(reason)
	}
	if extra, _ := m["context"].(string); extra != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(extra)
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("Please continue with the workflow based on the above.")
	return b.String(), true
}
