package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/strandlabs/strand/pkg/models"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// OpenAIProvider adapts the normalized request to OpenAI's API via the
// go-openai SDK. OpenAI streams tool calls incrementally and has no
// reasoning-details concept; reasoning callbacks are simply never fired.
type OpenAIProvider struct {
	client *openai.Client
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg)}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// ChatCompletion performs a non-streaming completion.
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError("openai", req.Model, errors.New("response contained no choices"))
	}

	msg := resp.Choices[0].Message
	out := &ChatResponse{
		Content: msg.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if len(out.ToolCalls) == 0 && HasInlineToolCalls(out.Content) {
		out.ToolCalls, out.Content = ParseInlineToolCalls(out.Content)
	}
	return out, nil
}

// StreamChatCompletion performs a streaming completion.
func (p *OpenAIProvider) StreamChatCompletion(ctx context.Context, req *ChatRequest, handlers StreamHandlers) (*ChatResponse, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}
	defer stream.Close()

	assembler := NewStreamAssembler(handlers)
	var usage Usage

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, p.wrapError(err, req.Model)
		}
		if chunk.Usage != nil {
			usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		assembler.AddContent(delta.Content)
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			assembler.AddToolCallDelta(index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
	}

	resp := assembler.Finalize()
	resp.Usage = usage
	return resp, nil
}

func (p *OpenAIProvider) buildRequest(req *ChatRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Stream:      stream,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleTool:
			out.Messages = append(out.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out.Messages = append(out.Messages, m)
		default:
			m := openai.ChatCompletionMessage{Role: string(msg.Role)}
			if len(msg.Parts) > 0 {
				for _, part := range msg.Parts {
					switch part.Type {
					case "text":
						m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeText,
							Text: part.Text,
						})
					case "image_url":
						if part.ImageURL != nil {
							m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
								Type: openai.ChatMessagePartTypeImageURL,
								ImageURL: &openai.ChatMessageImageURL{
									URL:    part.ImageURL.URL,
									Detail: openai.ImageURLDetailAuto,
								},
							})
						}
					}
				}
			} else {
				m.Content = msg.Content
			}
			out.Messages = append(out.Messages, m)
		}
	}

	for _, tool := range req.Tools {
		var params map[string]any
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &params); err != nil {
				params = map[string]any{"type": "object"}
			}
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	return out
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		return NewProviderError("openai", model, errors.New(msg)).WithStatus(apiErr.HTTPStatusCode)
	}
	return NewProviderError("openai", model, err)
}
