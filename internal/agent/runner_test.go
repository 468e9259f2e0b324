package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/strandlabs/strand/internal/panels"
	"github.com/strandlabs/strand/internal/prompts"
	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/internal/tools/policy"
	"github.com/strandlabs/strand/pkg/models"
)

// stubProvider pops a canned response per call and records each request with
// a deep-copied message list.
type stubProvider struct {
	responses []*provider.ChatResponse
	requests  []*provider.ChatRequest
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.record(req)
	if len(s.requests) > len(s.responses) {
		return nil, fmt.Errorf("stub exhausted after %d responses", len(s.responses))
	}
	return s.responses[len(s.requests)-1], nil
}

func (s *stubProvider) StreamChatCompletion(ctx context.Context, req *provider.ChatRequest, handlers provider.StreamHandlers) (*provider.ChatResponse, error) {
	resp, err := s.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if handlers.OnToken != nil && resp.Content != "" {
		handlers.OnToken(resp.Content)
	}
	return resp, nil
}

func (s *stubProvider) record(req *provider.ChatRequest) {
	copied := *req
	copied.Messages = make([]models.Message, len(req.Messages))
	copy(copied.Messages, req.Messages)
	s.requests = append(s.requests, &copied)
}

// recordingExecutor claims every origin and returns canned payloads by name.
type recordingExecutor struct {
	payloads map[string]any
	calls    []string
	args     []map[string]any
}

func (e *recordingExecutor) CanExecute(name string, origin models.ToolOrigin) bool { return true }

func (e *recordingExecutor) Execute(ctx context.Context, name string, args map[string]any, ec *tools.ExecContext) (any, error) {
	e.calls = append(e.calls, name)
	e.args = append(e.args, args)
	if payload, ok := e.payloads[name]; ok {
		return payload, nil
	}
	return map[string]any{"ok": true}, nil
}

func newTestRunner(stub *stubProvider, exec tools.Executor, pol *policy.Config) *Runner {
	var manager *tools.Manager
	if exec != nil {
		manager = tools.NewManager(nil, exec)
	} else {
		manager = tools.NewManager(nil)
	}
	return NewRunner(Options{
		Providers:       map[string]provider.Provider{"stub": stub},
		DefaultProvider: "stub",
		DefaultModel:    "test-model",
		Executor:        manager,
		Policy:          pol,
	})
}

func userMessages(texts ...string) []models.Message {
	msgs := make([]models.Message, len(texts))
	for i, text := range texts {
		msgs[i] = models.Message{Role: models.RoleUser, Content: text}
	}
	return msgs
}

func toolCallResponse(calls ...models.ToolCall) *provider.ChatResponse {
	return &provider.ChatResponse{Content: "Working on it.", ToolCalls: calls}
}

func TestRunSimpleAnswer(t *testing.T) {
	stub := &stubProvider{responses: []*provider.ChatResponse{{Content: "4"}}}
	runner := newTestRunner(stub, nil, nil)

	result, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("What's 2+2"),
		Tools:    []models.ToolDefinition{},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "4" {
		t.Errorf("content = %q, want %q", result.Content, "4")
	}
	if len(result.ToolCalls) != 0 {
		t.Errorf("tool calls = %v, want none", result.ToolCalls)
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if result.Model != "test-model" {
		t.Errorf("model = %q", result.Model)
	}
}

func TestRunToolLoop(t *testing.T) {
	stub := &stubProvider{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "call_1", Name: "get_time", Arguments: "{}"}),
		{Content: "It is noon."},
	}}
	exec := &recordingExecutor{payloads: map[string]any{
		"get_time": map[string]any{"time": "12:00"},
	}}
	runner := newTestRunner(stub, exec, nil)

	result, err := runner.Run(context.Background(), &RunRequest{
		Messages:    userMessages("What time is it?"),
		Tools:       []models.ToolDefinition{{Name: "get_time"}},
		ToolOrigins: map[string]models.ToolOrigin{"get_time": models.OriginBaseline},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "get_time" || !result.ToolCalls[0].Success {
		t.Fatalf("executed calls = %+v", result.ToolCalls)
	}
	if len(exec.calls) != 1 {
		t.Errorf("executor invoked %d times, want 1", len(exec.calls))
	}

	// Exactly one tool-result message, linked to the originating call.
	second := stub.requests[1].Messages
	var toolMsgs []models.Message
	for _, msg := range second {
		if msg.Role == models.RoleTool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	if len(toolMsgs) != 1 || toolMsgs[0].ToolCallID != "call_1" || toolMsgs[0].ToolName != "get_time" {
		t.Fatalf("tool messages = %+v", toolMsgs)
	}
	if !strings.Contains(result.Content, "It is noon.") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestRunBudgetStopsBatch(t *testing.T) {
	stub := &stubProvider{responses: []*provider.ChatResponse{
		toolCallResponse(
			models.ToolCall{ID: "c1", Name: "get_a", Arguments: "{}"},
			models.ToolCall{ID: "c2", Name: "get_b", Arguments: "{}"},
			models.ToolCall{ID: "c3", Name: "get_c", Arguments: "{}"},
		),
	}}
	exec := &recordingExecutor{}
	pol := policy.New()
	pol.MaxToolCallsPerTurn = 2
	runner := newTestRunner(stub, exec, pol)

	result, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("go"),
		Tools:    []models.ToolDefinition{},
	})
	if err != nil {
		t.Fatalf("budget exhaustion must not error: %v", err)
	}
	if len(result.ToolCalls) != 2 {
		t.Errorf("executed = %d calls, want 2", len(result.ToolCalls))
	}
	if len(exec.calls) != 2 || exec.calls[0] != "get_a" || exec.calls[1] != "get_b" {
		t.Errorf("executor saw %v", exec.calls)
	}
}

func TestRunBlockedDestructiveTool(t *testing.T) {
	stub := &stubProvider{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "c1", Name: "delete_all_data", Arguments: "{}"}),
		{Content: "I couldn't do that."},
	}}
	exec := &recordingExecutor{}
	runner := newTestRunner(stub, exec, nil)

	result, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("wipe everything"),
		Tools:    []models.ToolDefinition{},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(exec.calls) != 0 {
		t.Errorf("blocked tool reached an executor: %v", exec.calls)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("executed calls = %+v", result.ToolCalls)
	}
	blocked := result.ToolCalls[0]
	if blocked.Success {
		t.Error("blocked call marked successful")
	}
	if !strings.Contains(blocked.Error, "confirmation") {
		t.Errorf("block reason = %q, want mention of confirmation", blocked.Error)
	}
	// The model sees the block reason as the tool's result.
	second := stub.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != models.RoleTool || !strings.Contains(last.Content, "confirmation") {
		t.Errorf("tool message = %+v", last)
	}
}

func TestRunMalformedArgumentsTolerated(t *testing.T) {
	stub := &stubProvider{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "c1", Name: "get_time", Arguments: "{not json"}),
		{Content: "done"},
	}}
	exec := &recordingExecutor{}
	runner := newTestRunner(stub, exec, nil)

	result, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("hi"),
		Tools:    []models.ToolDefinition{},
	})
	if err != nil {
		t.Fatalf("malformed arguments must not abort the run: %v", err)
	}
	if len(exec.calls) != 0 {
		t.Errorf("parse failure still dispatched: %v", exec.calls)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Success {
		t.Fatalf("executed calls = %+v", result.ToolCalls)
	}
	if !strings.Contains(result.ToolCalls[0].Error, "invalid tool arguments") {
		t.Errorf("error = %q", result.ToolCalls[0].Error)
	}
}

func TestRunEmptyArgumentsNormalized(t *testing.T) {
	for _, raw := range []string{"", "   ", "{}"} {
		stub := &stubProvider{responses: []*provider.ChatResponse{
			toolCallResponse(models.ToolCall{ID: "c1", Name: "get_time", Arguments: raw}),
			{Content: "done"},
		}}
		exec := &recordingExecutor{}
		runner := newTestRunner(stub, exec, nil)

		result, err := runner.Run(context.Background(), &RunRequest{
			Messages: userMessages("hi"),
			Tools:    []models.ToolDefinition{},
		})
		if err != nil {
			t.Fatalf("raw=%q: %v", raw, err)
		}
		if len(exec.calls) != 1 {
			t.Fatalf("raw=%q executor calls = %v", raw, exec.calls)
		}
		if len(exec.args[0]) != 0 {
			t.Errorf("raw=%q args = %v, want empty object", raw, exec.args[0])
		}
		if !result.ToolCalls[0].Success {
			t.Errorf("raw=%q treated as failure: %+v", raw, result.ToolCalls[0])
		}
	}
}

func TestRunReasoningContinuity(t *testing.T) {
	details := []models.ReasoningFragment{{ID: "r1", Type: "thinking", Text: "step one, step two"}}
	stub := &stubProvider{responses: []*provider.ChatResponse{
		{
			Content:          "Checking.",
			ToolCalls:        []models.ToolCall{{ID: "c1", Name: "get_time", Arguments: "{}"}},
			ReasoningDetails: details,
		},
		{Content: "done"},
	}}
	runner := newTestRunner(stub, &recordingExecutor{}, nil)

	if _, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("hi"),
		Tools:    []models.ToolDefinition{},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The second provider call must replay the first turn's reasoning
	// verbatim on the assistant message.
	var assistant *models.Message
	for i := range stub.requests[1].Messages {
		msg := &stub.requests[1].Messages[i]
		if msg.Role == models.RoleAssistant {
			assistant = msg
		}
	}
	if assistant == nil {
		t.Fatal("no assistant message re-sent")
	}
	if len(assistant.ReasoningDetails) != 1 || assistant.ReasoningDetails[0].Text != "step one, step two" {
		t.Errorf("reasoning details = %+v", assistant.ReasoningDetails)
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "c1" {
		t.Errorf("tool calls not re-sent: %+v", assistant.ToolCalls)
	}
}

func TestRunAcknowledgmentSplice(t *testing.T) {
	stub := &stubProvider{responses: []*provider.ChatResponse{
		{ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "get_a", Arguments: "{}"},
			{ID: "c2", Name: "get_b", Arguments: "{}"},
		}},
		{Content: "done"},
	}}
	runner := newTestRunner(stub, &recordingExecutor{}, nil)

	var tokens []string
	result, err := runner.RunStreaming(context.Background(), &RunRequest{
		Messages: userMessages("hi"),
		Tools:    []models.ToolDefinition{},
	}, Handlers{OnToken: func(text string) { tokens = append(tokens, text) }})
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}

	want := "I'll run 2 tool calls to handle this."
	if !strings.Contains(result.Content, want) {
		t.Errorf("content = %q, want acknowledgment spliced in", result.Content)
	}
	joined := strings.Join(tokens, "")
	if !strings.Contains(joined, want) {
		t.Errorf("streamed tokens = %q, want acknowledgment emitted", joined)
	}
	// Retroactive splice lands on the re-sent assistant message too.
	var assistant *models.Message
	for i := range stub.requests[1].Messages {
		msg := &stub.requests[1].Messages[i]
		if msg.Role == models.RoleAssistant {
			assistant = msg
		}
	}
	if assistant == nil || assistant.Content != want {
		t.Errorf("assistant content = %+v", assistant)
	}
}

func TestRunSanitizationScope(t *testing.T) {
	bigImage := "data:image/png;base64," + strings.Repeat("A", 2048)
	stub := &stubProvider{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "c1", Name: "fetch_page", Arguments: "{}"}),
		{Content: "done"},
	}}
	exec := &recordingExecutor{payloads: map[string]any{
		"fetch_page": map[string]any{"url": bigImage, "width": 10},
	}}
	runner := newTestRunner(stub, exec, nil)

	var observed []models.ExecutedToolCall
	_, err := runner.RunStreaming(context.Background(), &RunRequest{
		Messages: userMessages("hi"),
		Tools:    []models.ToolDefinition{},
	}, Handlers{OnToolExecuted: func(call models.ExecutedToolCall) { observed = append(observed, call) }})
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}

	// Transcript copy: payload replaced, metadata preserved.
	second := stub.requests[1].Messages
	toolMsg := second[len(second)-1]
	if strings.Contains(toolMsg.Content, "base64,AAAA") {
		t.Error("image payload leaked into the transcript")
	}
	if !strings.Contains(toolMsg.Content, "[image data omitted:") {
		t.Errorf("no placeholder in transcript: %s", toolMsg.Content)
	}
	var body struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal([]byte(toolMsg.Content), &body); err != nil {
		t.Fatalf("tool message not JSON: %v", err)
	}
	if body.Result["width"] != float64(10) {
		t.Errorf("width dropped: %v", body.Result)
	}

	// Callback copy: untouched.
	if len(observed) != 1 {
		t.Fatalf("observed = %+v", observed)
	}
	raw, _ := observed[0].Result.(map[string]any)
	if raw["url"] != bigImage {
		t.Error("callback result was sanitized; it must carry the original payload")
	}
}

func TestRunNavigationRefreshesTools(t *testing.T) {
	registry := panels.NewMemoryRegistry()
	registry.Register(&panels.Manifest{
		PanelID: "browser",
		BaseURL: "http://localhost:9",
		Tools: []panels.Tool{{
			Name:        "browser_refresh",
			Description: "Reload the current page",
			Endpoint:    "/refresh",
			Method:      "POST",
		}},
	})
	discovery := tools.NewAggregator(registry, nil, nil)

	stub := &stubProvider{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "c1", Name: "open_browser_panel", Arguments: "{}"}),
		{Content: "done"},
	}}
	exec := &recordingExecutor{}
	runner := NewRunner(Options{
		Providers:       map[string]provider.Provider{"stub": stub},
		DefaultProvider: "stub",
		DefaultModel:    "test-model",
		Executor:        tools.NewManager(nil, exec),
		Discovery:       discovery,
		Panels:          registry,
	})

	if _, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("open the browser"),
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// First request: no panel active, no panel tools.
	for _, def := range stub.requests[0].Tools {
		if def.Name == "browser_refresh" {
			t.Error("panel tool offered before navigation")
		}
	}
	// Second request: discovery re-ran for the browser panel.
	found := false
	for _, def := range stub.requests[1].Tools {
		if def.Name == "browser_refresh" {
			found = true
		}
	}
	if !found {
		t.Errorf("panel tool missing after navigation; tools = %+v", stub.requests[1].Tools)
	}
}

func TestRunWorkflowContinuation(t *testing.T) {
	stub := &stubProvider{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{
			ID:        "c1",
			Name:      tools.ContinueWorkflowTool,
			Arguments: `{"reason":"Tests passed","context":"Deploy is next"}`,
		}),
		{Content: "deploying"},
	}}
	exec := &recordingExecutor{payloads: map[string]any{
		tools.ContinueWorkflowTool: map[string]any{
			"continue": true,
			"reason":   "Tests passed",
			"context":  "Deploy is next",
		},
	}}
	runner := newTestRunner(stub, exec, nil)

	if _, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("run the workflow"),
		Tools:    []models.ToolDefinition{},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	second := stub.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != models.RoleUser {
		t.Fatalf("last message = %+v, want synthesized user message", last)
	}
	for _, want := range []string{"Tests passed", "Deploy is next", "continue with the workflow"} {
		if !strings.Contains(last.Content, want) {
			t.Errorf("continuation message %q missing %q", last.Content, want)
		}
	}
}

func TestRunProviderErrorEndsRun(t *testing.T) {
	stub := &stubProvider{responses: []*provider.ChatResponse{}}
	runner := newTestRunner(stub, nil, nil)

	_, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("hi"),
		Tools:    []models.ToolDefinition{},
	})
	if err == nil {
		t.Fatal("expected run error")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Iteration != 1 {
		t.Errorf("err = %v", err)
	}
}

func TestRunUnknownProvider(t *testing.T) {
	runner := newTestRunner(&stubProvider{}, nil, nil)
	_, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("hi"),
		Provider: "nonexistent",
	})
	if err == nil || !strings.Contains(err.Error(), "no provider") {
		t.Errorf("err = %v", err)
	}
}

func TestRunSystemPromptLeads(t *testing.T) {
	store := prompts.NewMemoryStore()
	store.SetSystemPrompt("u1", "You are a terse assistant.")
	stub := &stubProvider{responses: []*provider.ChatResponse{{Content: "ok"}}}
	runner := NewRunner(Options{
		Providers:       map[string]provider.Provider{"stub": stub},
		DefaultProvider: "stub",
		DefaultModel:    "test-model",
		Executor:        tools.NewManager(nil),
		Prompts:         store,
	})

	if _, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("hi"),
		Tools:    []models.ToolDefinition{},
		UserID:   "u1",
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first := stub.requests[0].Messages[0]
	if first.Role != models.RoleSystem || first.Content != "You are a terse assistant." {
		t.Errorf("first message = %+v", first)
	}

	// Absent prompt: run proceeds without a system message.
	stub2 := &stubProvider{responses: []*provider.ChatResponse{{Content: "ok"}}}
	runner2 := NewRunner(Options{
		Providers:       map[string]provider.Provider{"stub": stub2},
		DefaultProvider: "stub",
		DefaultModel:    "test-model",
		Executor:        tools.NewManager(nil),
		Prompts:         prompts.NewMemoryStore(),
	})
	if _, err := runner2.Run(context.Background(), &RunRequest{
		Messages: userMessages("hi"),
		Tools:    []models.ToolDefinition{},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stub2.requests[0].Messages[0].Role != models.RoleUser {
		t.Errorf("unexpected leading message: %+v", stub2.requests[0].Messages[0])
	}
}

func TestRunMaxIterations(t *testing.T) {
	// The model keeps asking for tools; the iteration budget must end the
	// run without error.
	responses := make([]*provider.ChatResponse, 5)
	for i := range responses {
		responses[i] = toolCallResponse(models.ToolCall{
			ID: fmt.Sprintf("c%d", i), Name: "get_time", Arguments: "{}",
		})
	}
	stub := &stubProvider{responses: responses}
	runner := newTestRunner(stub, &recordingExecutor{}, nil)

	result, err := runner.Run(context.Background(), &RunRequest{
		Messages:      userMessages("loop forever"),
		Tools:         []models.ToolDefinition{},
		MaxIterations: 3,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", result.Iterations)
	}
	if len(result.ToolCalls) != 3 {
		t.Errorf("executed = %d", len(result.ToolCalls))
	}
}

func TestRunSamplingConfigReachesProvider(t *testing.T) {
	stub := &stubProvider{responses: []*provider.ChatResponse{{Content: "ok"}}}
	runner := NewRunner(Options{
		Providers:       map[string]provider.Provider{"stub": stub},
		DefaultProvider: "stub",
		DefaultModel:    "test-model",
		Executor:        tools.NewManager(nil),
		MaxTokens:       4096,
		Temperature:     0.7,
	})

	if _, err := runner.Run(context.Background(), &RunRequest{
		Messages: userMessages("hi"),
		Tools:    []models.ToolDefinition{},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	req := stub.requests[0]
	if req.MaxTokens != 4096 {
		t.Errorf("max tokens = %d, want 4096", req.MaxTokens)
	}
	if req.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", req.Temperature)
	}
}

func TestAssistantMessageSkipsEmptyResponse(t *testing.T) {
	if _, ok := assistantMessage(&provider.ChatResponse{}); ok {
		t.Error("a response with no content and no tool calls must not enter the transcript")
	}

	msg, ok := assistantMessage(&provider.ChatResponse{Content: "hi"})
	if !ok || msg.Content != "hi" || msg.Role != models.RoleAssistant {
		t.Errorf("content-only response: msg=%+v ok=%v", msg, ok)
	}

	msg, ok = assistantMessage(&provider.ChatResponse{
		ToolCalls: []models.ToolCall{{ID: "call_1", Name: "get_time", Arguments: "{}"}},
	})
	if !ok || len(msg.ToolCalls) != 1 {
		t.Errorf("tool-call-only response must be kept: msg=%+v ok=%v", msg, ok)
	}
}
