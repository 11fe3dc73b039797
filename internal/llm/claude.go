// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const claudeMaxTokens = 4096

// ClaudeCompleter calls the Anthropic Messages API.
type ClaudeCompleter struct {
	client anthropic.Client
	model  string
}

// NewClaudeCompleter returns a completer for model. baseURL and httpClient
// are optional.
func NewClaudeCompleter(apiKey, model, baseURL string, httpClient *http.Client) *ClaudeCompleter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(2)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &ClaudeCompleter{client: anthropic.NewClient(opts...), model: model}
}

// Complete sends one message and concatenates the text blocks of the reply.
func (c *ClaudeCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: claudeMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		apiErr := &APIError{Provider: "claude", Err: err}
		var sdkErr *anthropic.Error
		if errors.As(err, &sdkErr) {
			apiErr.Status = sdkErr.StatusCode
		}
		return "", apiErr
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", &APIError{Provider: "claude", Err: errors.New("no text content in response")}
	}
	return b.String(), nil
}
