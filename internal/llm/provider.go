// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pdiddy/kbsync/pkg/types"
)

// Secret file names read from the secrets directory, per provider.
const (
	SecretAnthropic = "anthropic-api-key"
	SecretGemini    = "gemini-api-key"
	SecretChat      = "chat-api-token"
)

// SecretKey returns the secrets file name holding the credential for provider.
func SecretKey(provider string) string {
	switch provider {
	case types.ProviderClaude:
		return SecretAnthropic
	case types.ProviderGemini:
		return SecretGemini
	default:
		return SecretChat
	}
}

// NewCompleter builds the transport selected by cfg.Provider. The API key
// is cfg.APIKey, or the provider's entry in secrets when that is empty.
func NewCompleter(ctx context.Context, cfg types.AIConfig, secrets map[string]string) (Completer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ai config: %w", err)
	}
	key := cfg.APIKey
	if key == "" {
		key = secrets[SecretKey(cfg.Provider)]
	}
	httpClient := &http.Client{}

	switch cfg.Provider {
	case types.ProviderClaude:
		if key == "" {
			return nil, fmt.Errorf("claude provider needs an API key (config ai.api_key or secret %s)", SecretAnthropic)
		}
		return NewClaudeCompleter(key, cfg.Model, cfg.BaseURL, httpClient), nil
	case types.ProviderGemini:
		return NewGeminiCompleter(ctx, key, cfg.Model, cfg.BaseURL, httpClient)
	default:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = types.DefaultChatBaseURL
		}
		return &ChatCompleter{
			BaseURL: baseURL,
			Token:   key,
			Model:   cfg.Model,
			Client:  httpClient,
		}, nil
	}
}
