package llm

import (
	"context"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{client: anthropic.NewClient(apiKey)}
}

func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (Response, error) {
	var systemParts []anthropic.MessageSystemPart
	var msgs []anthropic.Message

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, anthropic.MessageSystemPart{Type: "text", Text: m.Content})
		case RoleUser:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
			})
		case RoleAssistant:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
			})
		}
	}

	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		Messages:    msgs,
		MultiSystem: systemParts,
		MaxTokens:   maxTokens,
		Temperature: f32ptr(opts.Temperature),
		TopP:        f32ptr(opts.TopP),
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic create messages: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Text != nil {
			text += *block.Text
		}
	}

	return Response{
		Content:      text,
		FinishReason: string(resp.StopReason),
		Usage: Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func f32ptr(v float32) *float32 { return &v }
