package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/strandlabs/strand/pkg/models"
)

// OpenRouterConfig configures the OpenRouter provider.
type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
	AppName string
	SiteURL string
	Timeout time.Duration
}

// OpenRouterProvider speaks OpenRouter's OpenAI-compatible wire protocol
// directly over net/http. It is the one adapter that understands reasoning
// deltas and reasoning_details passthrough, and it applies the inline
// tool-call fallback dialect in both streaming and non-streaming modes.
type OpenRouterProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	appName string
	siteURL string
}

var _ Provider = (*OpenRouterProvider)(nil)

// NewOpenRouterProvider creates an OpenRouter provider.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OpenRouterProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		appName: cfg.AppName,
		siteURL: cfg.SiteURL,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

// ChatCompletion performs a non-streaming completion.
func (p *OpenRouterProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, err := p.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var parsed orCompletionResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, NewProviderError("openrouter", req.Model, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return nil, NewProviderError("openrouter", req.Model, errors.New(parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return nil, NewProviderError("openrouter", req.Model, errors.New("response contained no choices"))
	}

	msg := parsed.Choices[0].Message
	resp := &ChatResponse{
		Content:          msg.Content,
		Reasoning:        msg.Reasoning,
		ReasoningDetails: msg.ReasoningDetails,
	}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if parsed.Usage != nil {
		resp.Usage = *parsed.Usage
	}

	// Fallback dialect: only when native tool calls are absent or empty.
	if len(resp.ToolCalls) == 0 && HasInlineToolCalls(resp.Content) {
		resp.ToolCalls, resp.Content = ParseInlineToolCalls(resp.Content)
	}

	return resp, nil
}

// StreamChatCompletion performs a streaming completion, forwarding incremental
// callbacks and assembling the final response.
func (p *OpenRouterProvider) StreamChatCompletion(ctx context.Context, req *ChatRequest, handlers StreamHandlers) (*ChatResponse, error) {
	body, err := p.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	assembler := NewStreamAssembler(handlers)
	var usage Usage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk orStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Partial or corrupt event payloads are skipped, not fatal.
			continue
		}
		if chunk.Error != nil {
			return nil, NewProviderError("openrouter", req.Model, errors.New(chunk.Error.Message))
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		assembler.AddContent(delta.Content)

		if delta.Reasoning != "" && len(delta.ReasoningDetails) == 0 {
			assembler.AddReasoning(models.ReasoningFragment{Text: delta.Reasoning})
		}
		for _, frag := range delta.ReasoningDetails {
			assembler.AddReasoning(frag)
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			assembler.AddToolCallDelta(index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, NewProviderError("openrouter", req.Model, err)
	}

	resp := assembler.Finalize()
	resp.Usage = usage
	return resp, nil
}

// do issues the HTTP request and returns the response body, mapping
// non-success statuses to a ProviderError with status and truncated body.
func (p *OpenRouterProvider) do(ctx context.Context, req *ChatRequest, stream bool) (io.ReadCloser, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, NewProviderError("openrouter", "", errors.New("model is required"))
	}

	payload := orCompletionRequest{
		Model:     req.Model,
		Messages:  buildORMessages(req.Messages),
		Stream:    stream,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		payload.Temperature = &req.Temperature
	}
	if req.Reasoning != nil {
		payload.Reasoning = req.Reasoning
	}
	for _, tool := range req.Tools {
		params := tool.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		payload.Tools = append(payload.Tools, orTool{
			Type: "function",
			Function: orToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("openrouter", req.Model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("openrouter", req.Model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.appName != "" {
		httpReq.Header.Set("X-Title", p.appName)
	}
	if p.siteURL != "" {
		httpReq.Header.Set("HTTP-Referer", p.siteURL)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("openrouter", req.Model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, NewProviderError("openrouter", req.Model, errors.New("request failed")).
			WithStatus(resp.StatusCode).
			WithBody(string(errBody))
	}
	return resp.Body, nil
}

// buildORMessages serializes the transcript, preserving tool-call linkage and
// reasoning details verbatim on every call.
func buildORMessages(messages []models.Message) []orChatMessage {
	out := make([]orChatMessage, 0, len(messages))
	for _, msg := range messages {
		m := orChatMessage{Role: string(msg.Role)}

		if len(msg.Parts) > 0 {
			// Multimodal content passes through unmodified.
			parts := make([]orContentPart, 0, len(msg.Parts))
			for _, part := range msg.Parts {
				p := orContentPart{Type: part.Type, Text: part.Text}
				if part.ImageURL != nil {
					p.ImageURL = &orImageURL{URL: part.ImageURL.URL}
				}
				parts = append(parts, p)
			}
			m.Content = parts
		} else {
			m.Content = msg.Content
		}

		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, orToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: orFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		m.ToolCallID = msg.ToolCallID
		m.ReasoningDetails = msg.ReasoningDetails

		out = append(out, m)
	}
	return out
}

// Wire types.

type orCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []orChatMessage  `json:"messages"`
	Tools       []orTool         `json:"tools,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream"`
	Reasoning   *ReasoningConfig `json:"reasoning,omitempty"`
}

type orChatMessage struct {
	Role             string                     `json:"role"`
	Content          any                        `json:"content"`
	ToolCalls        []orToolCall               `json:"tool_calls,omitempty"`
	ToolCallID       string                     `json:"tool_call_id,omitempty"`
	ReasoningDetails []models.ReasoningFragment `json:"reasoning_details,omitempty"`
}

type orContentPart struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *orImageURL `json:"image_url,omitempty"`
}

type orImageURL struct {
	URL string `json:"url"`
}

type orTool struct {
	Type     string         `json:"type"`
	Function orToolFunction `json:"function"`
}

type orToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type orToolCall struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function orFunctionCall `json:"function"`
}

type orFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type orCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content          string                     `json:"content"`
			Reasoning        string                     `json:"reasoning"`
			ReasoningDetails []models.ReasoningFragment `json:"reasoning_details"`
			ToolCalls        []orToolCall               `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage   `json:"usage"`
	Error *orError `json:"error"`
}

type orStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string                     `json:"content"`
			Reasoning        string                     `json:"reasoning"`
			ReasoningDetails []models.ReasoningFragment `json:"reasoning_details"`
			ToolCalls        []orToolCallDelta          `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage   `json:"usage"`
	Error *orError `json:"error"`
}

type orToolCallDelta struct {
	Index    *int           `json:"index"`
	ID       string         `json:"id,omitempty"`
	Function orFunctionCall `json:"function"`
}

type orError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}
