package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// BackendConfig selects and configures a provider.
type BackendConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
}

// NewBackend builds the backend named by cfg.Provider: openai, anthropic
// (alias claude), gemini or ollama. Ollama is reached through its
// OpenAI-compatible API.
func NewBackend(ctx context.Context, cfg BackendConfig, logger *slog.Logger) (Backend, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		return NewOpenAIBackend(cfg.APIKey, cfg.BaseURL), nil

	case "anthropic", "claude":
		return NewAnthropicBackend(cfg.APIKey, cfg.BaseURL), nil

	case "gemini":
		return NewGeminiBackend(ctx, cfg.APIKey)

	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama" // ignored by ollama, required by the client
		}
		logger.Info("generation: using ollama via OpenAI-compatible API", slog.String("base_url", baseURL))
		return NewOpenAIBackend(apiKey, baseURL), nil

	default:
		return nil, fmt.Errorf("generation: unsupported provider: %s", provider)
	}
}
