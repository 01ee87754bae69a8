package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiBackend talks to the Gemini API.
type GeminiBackend struct {
	client *genai.Client
}

// NewGeminiBackend returns a backend for apiKey.
func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiBackend{client: client}, nil
}

// Complete implements Backend.
func (b *GeminiBackend) Complete(ctx context.Context, c Completion) (string, error) {
	model := b.client.GenerativeModel(c.Model)
	if c.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(c.System)}}
	}
	if c.JSON {
		model.ResponseMIMEType = "application/json"
	}
	if c.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(c.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(c.Prompt))
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var out strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				out.WriteString(string(txt))
			}
		}
		if out.Len() > 0 {
			return out.String(), nil
		}
	}
	return "", fmt.Errorf("no response candidates or content")
}

// Close releases the underlying client.
func (b *GeminiBackend) Close() error {
	return b.client.Close()
}
