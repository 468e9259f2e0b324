// Package provider contains LLM provider adapters. Each adapter translates
// the normalized chat request into a vendor wire protocol and reconstructs a
// normalized response from the vendor's reply or event stream.
package provider

import (
	"context"

	"github.com/strandlabs/strand/pkg/models"
)

// Provider is the contract every LLM backend adapter implements.
//
// Adapters must serialize the full message list on every call, including all
// prior reasoning details and tool-call linkage fields. Omitting them does not
// raise an error on the provider side; it silently degrades multi-turn
// reasoning quality, so the contract requires always re-sending them.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider identifier used for routing and logging.
	Name() string

	// ChatCompletion performs a blocking, non-streaming completion.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamChatCompletion performs a streaming completion, forwarding
	// incremental callbacks while assembling the same final response shape
	// ChatCompletion returns.
	StreamChatCompletion(ctx context.Context, req *ChatRequest, handlers StreamHandlers) (*ChatResponse, error)
}

// ChatRequest is the normalized completion request.
type ChatRequest struct {
	Model       string
	Messages    []models.Message
	Tools       []models.ToolDefinition
	Temperature float64
	MaxTokens   int

	// Reasoning, when set, asks the model for an explicit reasoning trace.
	Reasoning *ReasoningConfig
}

// ReasoningConfig tunes reasoning-capable models.
type ReasoningConfig struct {
	Effort    string `json:"effort,omitempty"`     // low, medium, high
	MaxTokens int    `json:"max_tokens,omitempty"` // explicit budget, overrides effort
}

// ChatResponse is the normalized completion result.
type ChatResponse struct {
	Content          string
	ToolCalls        []models.ToolCall
	Reasoning        string
	ReasoningDetails []models.ReasoningFragment
	Usage            Usage
}

// Usage carries token accounting from the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamHandlers receives incremental stream callbacks. Handlers are invoked
// synchronously in arrival order; a nil handler is skipped. Handlers must not
// block the stream read loop.
type StreamHandlers struct {
	// OnToken receives each content delta as it arrives.
	OnToken func(text string)

	// OnReasoning receives each raw reasoning delta.
	OnReasoning func(text string)

	// OnReasoningDetails receives the full fragment array after each
	// reasoning delta is merged.
	OnReasoningDetails func(details []models.ReasoningFragment)

	// OnToolCalls receives the in-progress tool-call array after each
	// tool-call delta is merged.
	OnToolCalls func(calls []models.ToolCall)
}
