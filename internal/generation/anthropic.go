package generation

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicBackend talks to the Anthropic messages API.
type AnthropicBackend struct {
	client *anthropic.Client
}

// NewAnthropicBackend returns a backend for apiKey.
func NewAnthropicBackend(apiKey, baseURL string) *AnthropicBackend {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicBackend{client: anthropic.NewClient(apiKey, opts...)}
}

// Complete implements Backend.
func (b *AnthropicBackend) Complete(ctx context.Context, c Completion) (string, error) {
	resp, err := b.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:  anthropic.Model(c.Model),
		System: c.System,
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(c.Prompt),
				},
			},
		},
		MaxTokens: c.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Content) > 0 && resp.Content[0].Text != nil {
		return *resp.Content[0].Text, nil
	}
	return "", fmt.Errorf("no response content")
}
