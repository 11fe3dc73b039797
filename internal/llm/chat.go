// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/kbsync/internal/httputil"
)

// ChatCompleter calls an OpenAI-compatible /chat/completions endpoint with
// a bearer token, such as GigaChat or a local gateway.
type ChatCompleter struct {
	BaseURL string
	Token   string
	Model   string
	Client  *http.Client

	// MaxRetries bounds retries on throttled responses (0 uses the httputil default).
	MaxRetries int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete posts one system+user exchange and returns the first choice.
func (c *ChatCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, c.MaxRetries)
	if err != nil {
		return "", &APIError{Provider: "chat", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{Provider: "chat", Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	}

	var cResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return "", &APIError{Provider: "chat", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(cResp.Choices) == 0 {
		return "", &APIError{Provider: "chat", Err: errors.New("no choices in response")}
	}
	return cResp.Choices[0].Message.Content, nil
}
