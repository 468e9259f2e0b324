package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/strandlabs/strand/pkg/models"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

// AnthropicProvider adapts the normalized request to Anthropic's Messages API.
// Thinking blocks are surfaced as reasoning fragments of type "thinking";
// tool input JSON streams incrementally and is accumulated per content block.
type AnthropicProvider struct {
	client anthropic.Client
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(options...)}, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// ChatCompletion performs a non-streaming completion.
func (p *AnthropicProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, NewProviderError("anthropic", req.Model, err)
	}

	resp := &ChatResponse{
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var content strings.Builder
	for i, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			thinking := block.AsThinking()
			resp.Reasoning += thinking.Thinking
			resp.ReasoningDetails = append(resp.ReasoningDetails, models.ReasoningFragment{
				Index: i,
				Type:  "thinking",
				Text:  thinking.Thinking,
			})
		case "tool_use":
			toolUse := block.AsToolUse()
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: string(toolUse.Input),
			})
		}
	}
	resp.Content = content.String()

	if len(resp.ToolCalls) == 0 && HasInlineToolCalls(resp.Content) {
		resp.ToolCalls, resp.Content = ParseInlineToolCalls(resp.Content)
	}
	return resp, nil
}

// StreamChatCompletion performs a streaming completion.
func (p *AnthropicProvider) StreamChatCompletion(ctx context.Context, req *ChatRequest, handlers StreamHandlers) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	assembler := NewStreamAssembler(handlers)
	var usage Usage

	// Tool input JSON arrives as input_json_delta fragments scoped to the
	// current content block; track the block index for the assembler.
	toolBlocks := map[int]bool{}

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.PromptTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				toolUse := start.ContentBlock.AsToolUse()
				idx := int(start.Index)
				toolBlocks[idx] = true
				assembler.AddToolCallDelta(idx, toolUse.ID, toolUse.Name, "")
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			idx := int(blockDelta.Index)
			switch blockDelta.Delta.Type {
			case "text_delta":
				assembler.AddContent(blockDelta.Delta.Text)
			case "thinking_delta":
				assembler.AddReasoning(models.ReasoningFragment{
					Index: idx,
					Type:  "thinking",
					Text:  blockDelta.Delta.Thinking,
				})
			case "input_json_delta":
				if toolBlocks[idx] {
					assembler.AddToolCallDelta(idx, "", "", blockDelta.Delta.PartialJSON)
				}
			}

		case "message_delta":
			msgDelta := event.AsMessageDelta()
			if msgDelta.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(msgDelta.Usage.OutputTokens)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, NewProviderError("anthropic", req.Model, err)
	}

	resp := assembler.Finalize()
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	resp.Usage = usage
	return resp, nil
}

func (p *AnthropicProvider) buildParams(req *ChatRequest) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}

	for _, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			// Anthropic keeps the system prompt out of the messages array.
			params.System = append(params.System, anthropic.TextBlockParam{
				Type: "text",
				Text: msg.Content,
			})
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		} else if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
		}
	}

	for _, tool := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
				return params, fmt.Errorf("anthropic: invalid tool schema for %s: %w", tool.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}

	if req.Reasoning != nil {
		budget := int64(req.Reasoning.MaxTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return params, nil
}
