// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// GeminiCompleter calls the Gemini API through the genai client.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGeminiCompleter creates a genai client for model. baseURL and
// httpClient are optional.
func NewGeminiCompleter(ctx context.Context, apiKey, model, baseURL string, httpClient *http.Client) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

// Complete sends one prompt with a system instruction and asks for JSON output.
func (g *GeminiCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", &APIError{Provider: "gemini", Err: err}
	}
	text := resp.Text()
	if text == "" {
		return "", &APIError{Provider: "gemini", Err: errors.New("empty response")}
	}
	return text, nil
}
