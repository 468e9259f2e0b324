package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/strandlabs/strand/pkg/models"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
}

func newTestProvider(t *testing.T, ts *httptest.Server) *OpenRouterProvider {
	t.Helper()
	p, err := NewOpenRouterProvider(OpenRouterConfig{APIKey: "test-key", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewOpenRouterProvider: %v", err)
	}
	return p
}

func TestOpenRouterStreamContent(t *testing.T) {
	ts := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" world"}}]}`,
		`data: {"choices":[{"delta":{}}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`,
		`data: [DONE]`,
	})
	defer ts.Close()

	var tokens []string
	resp, err := newTestProvider(t, ts).StreamChatCompletion(context.Background(), &ChatRequest{
		Model:    "test/model",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}, StreamHandlers{OnToken: func(tok string) { tokens = append(tokens, tok) }})
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("content = %q", resp.Content)
	}
	if strings.Join(tokens, "") != "Hello world" {
		t.Errorf("tokens = %v", tokens)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestOpenRouterStreamToolCallDeltas(t *testing.T) {
	ts := sseServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"open_panel","arguments":""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"panel\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"editor\"}"}}]}}]}`,
		`data: [DONE]`,
	})
	defer ts.Close()

	resp, err := newTestProvider(t, ts).StreamChatCompletion(context.Background(), &ChatRequest{
		Model:    "test/model",
		Messages: []models.Message{{Role: models.RoleUser, Content: "open the editor"}},
	}, StreamHandlers{})
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "open_panel" || call.Arguments != `{"panel":"editor"}` {
		t.Errorf("call = %+v", call)
	}
}

func TestOpenRouterStreamReasoningDetails(t *testing.T) {
	ts := sseServer(t, []string{
		`data: {"choices":[{"delta":{"reasoning_details":[{"id":"r1","index":0,"type":"reasoning.text","text":"Hel"}]}}]}`,
		`data: {"choices":[{"delta":{"reasoning_details":[{"id":"r1","index":0,"text":"lo"}]}}]}`,
		`data: {"choices":[{"delta":{"content":"answer"}}]}`,
		`data: [DONE]`,
	})
	defer ts.Close()

	resp, err := newTestProvider(t, ts).StreamChatCompletion(context.Background(), &ChatRequest{
		Model:    "test/model",
		Messages: []models.Message{{Role: models.RoleUser, Content: "think"}},
	}, StreamHandlers{})
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}
	if len(resp.ReasoningDetails) != 1 {
		t.Fatalf("got %d fragments, want 1 merged", len(resp.ReasoningDetails))
	}
	if resp.ReasoningDetails[0].Text != "Hello" {
		t.Errorf("merged text = %q", resp.ReasoningDetails[0].Text)
	}
	if resp.Content != "answer" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestOpenRouterStreamSkipsMalformedLines(t *testing.T) {
	ts := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"good"}}]}`,
		`data: {not valid json`,
		`: keep-alive comment`,
		`data: {"choices":[{"delta":{"content":" still good"}}]}`,
		`data: [DONE]`,
	})
	defer ts.Close()

	resp, err := newTestProvider(t, ts).StreamChatCompletion(context.Background(), &ChatRequest{
		Model:    "test/model",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}, StreamHandlers{})
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}
	if resp.Content != "good still good" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestOpenRouterStreamMidStreamError(t *testing.T) {
	ts := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
		`data: {"error":{"code":500,"message":"upstream failed"}}`,
	})
	defer ts.Close()

	_, err := newTestProvider(t, ts).StreamChatCompletion(context.Background(), &ChatRequest{
		Model:    "test/model",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}, StreamHandlers{})
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if !strings.Contains(pe.Error(), "upstream failed") {
		t.Errorf("error = %v", pe)
	}
}

func TestOpenRouterHTTPErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer ts.Close()

	_, err := newTestProvider(t, ts).ChatCompletion(context.Background(), &ChatRequest{
		Model:    "test/model",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if pe.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", pe.Status)
	}
	if !pe.IsRetryable() {
		t.Error("429 should be retryable")
	}
	if !strings.Contains(pe.Body, "rate limited") {
		t.Errorf("body = %q", pe.Body)
	}
}

func TestOpenRouterChatCompletionFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"<tool_use><tool_name>list_files</tool_name><parameters><path>/srv</path></parameters></tool_use>"}}]}`)
	}))
	defer ts.Close()

	resp, err := newTestProvider(t, ts).ChatCompletion(context.Background(), &ChatRequest{
		Model:    "test/model",
		Messages: []models.Message{{Role: models.RoleUser, Content: "list files"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "list_files" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Content != "" {
		t.Errorf("content = %q, want markers stripped", resp.Content)
	}
}

func TestOpenRouterRequiresModel(t *testing.T) {
	p, err := NewOpenRouterProvider(OpenRouterConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenRouterProvider: %v", err)
	}
	_, err = p.ChatCompletion(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for missing model")
	}
}
