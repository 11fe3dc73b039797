// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm implements card generation and coverage validation on top of
// a chat-completion model.
//
// A Backend renders the writer and judge prompts, sends them through a
// Completer, and decodes the JSON answer. Unparsable answers, including a
// JSON Schema echoed back instead of values, are re-prompted a bounded
// number of times. Transports for Anthropic, Gemini, and OpenAI-compatible
// chat APIs live in their own files.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/kbsync/pkg/types"
)

// Completer sends one system+user prompt pair to a model and returns the
// text of its answer.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ParseError reports a model answer that could not be decoded.
type ParseError struct {
	Reason   string
	Response string
}

func (e *ParseError) Error() string { return "parsing model response: " + e.Reason }

// Kind labels the failure in quality reports.
func (e *ParseError) Kind() string { return "parse_error" }

// APIError reports a failed call to a model provider.
type APIError struct {
	Provider string
	Status   int
	Err      error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s API returned %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("calling %s API: %v", e.Provider, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Kind labels the failure in quality reports. Deadline overruns are
// reported as timeouts.
func (e *APIError) Kind() string {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "transport_error"
}

// Backend generates and validates cards with a Completer. It satisfies
// synth.Generator and synth.Validator.
type Backend struct {
	completer Completer
	attempts  int
	maxChars  int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewBackend returns a Backend configured from cfg. Every prompt is tried
// 1+cfg.MaxRetries times before a ParseError is returned.
func NewBackend(c Completer, cfg types.AIConfig, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		completer: c,
		attempts:  1 + max(cfg.MaxRetries, 0),
		maxChars:  cfg.MaxDocumentChars,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
}

// cardDraft is the generator's JSON form of a card.
type cardDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ContentMD   string   `json:"content_md"`
	KeyTerms    []string `json:"key_terms"`
	Entities    []string `json:"entities"`
}

type writerResult struct {
	Cards *[]cardDraft `json:"cards"`
}

type judgeResult struct {
	OK              *bool               `json:"ok"`
	Missing         []types.MissingItem `json:"missing"`
	SuggestedTitles []string            `json:"suggested_card_titles"`
}

// Generate asks the model for the cards of one document.
func (b *Backend) Generate(ctx context.Context, req types.GenerationRequest) ([]types.KnowledgeCard, error) {
	prompt, err := renderWriterPrompt(req, b.maxChars)
	if err != nil {
		return nil, fmt.Errorf("rendering writer prompt: %w", err)
	}
	var out writerResult
	err = b.ask(ctx, writerSystem, prompt, writerFormat, func(text string) error {
		var res writerResult
		if err := decodeJSON(text, &res); err != nil {
			return err
		}
		if res.Cards == nil {
			return errors.New(`missing "cards"`)
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	cards := make([]types.KnowledgeCard, 0, len(*out.Cards))
	for _, d := range *out.Cards {
		cards = append(cards, types.KnowledgeCard{
			Title:       d.Title,
			Description: d.Description,
			Content:     d.ContentMD,
			KeyTerms:    d.KeyTerms,
			Entities:    d.Entities,
		}.Normalize())
	}
	return cards, nil
}

// Validate asks the model whether cards cover the document.
func (b *Backend) Validate(ctx context.Context, req types.ValidationRequest) (types.ValidationReport, error) {
	prompt, err := renderJudgePrompt(req, b.maxChars)
	if err != nil {
		return types.ValidationReport{}, fmt.Errorf("rendering judge prompt: %w", err)
	}
	var out judgeResult
	err = b.ask(ctx, judgeSystem, prompt, judgeFormat, func(text string) error {
		var res judgeResult
		if err := decodeJSON(text, &res); err != nil {
			return err
		}
		if res.OK == nil {
			return errors.New(`missing "ok"`)
		}
		out = res
		return nil
	})
	if err != nil {
		return types.ValidationReport{}, err
	}

	report := types.ValidationReport{
		OK:              *out.OK,
		Missing:         out.Missing,
		SuggestedTitles: out.SuggestedTitles,
	}
	if report.Missing == nil {
		report.Missing = []types.MissingItem{}
	}
	if report.SuggestedTitles == nil {
		report.SuggestedTitles = []string{}
	}
	return report, nil
}

// ask sends prompt and hands the answer to decode, re-prompting with the
// previous answer while decode fails.
func (b *Backend) ask(ctx context.Context, system, prompt, format string, decode func(text string) error) error {
	full := prompt + "\n\n" + format + "\n"
	var last error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		text, err := b.complete(ctx, system, full)
		if err != nil {
			return err
		}
		if err = decode(text); err == nil {
			return nil
		}
		last = &ParseError{Reason: err.Error(), Response: text}
		b.logger.Debug("unparsable model answer",
			zap.Int("attempt", attempt), zap.Int("attempts", b.attempts), zap.Error(err))
		full = prompt + "\n\n" + format + "\n\n" + repromptNotice + "\nPrevious answer:\n" + text + "\n"
	}
	return last
}

func (b *Backend) complete(ctx context.Context, system, prompt string) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	text, err := b.completer.Complete(ctx, system, prompt)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", err
		}
		return "", &APIError{Provider: "model", Err: err}
	}
	return strings.TrimSpace(text), nil
}

// errSchemaEcho is returned when the model answered with a JSON Schema.
var errSchemaEcho = errors.New("model returned a JSON schema instead of values")

// decodeJSON extracts the JSON object from a model answer and unmarshals it
// into v. Markdown code fences and text around the object are ignored.
func decodeJSON(text string, v any) error {
	raw := extractObject(text)
	if raw == "" {
		return errors.New("no JSON object in answer")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if _, ok := probe["properties"]; ok {
		_, req := probe["required"]
		_, defs := probe["$defs"]
		if req || defs {
			return errSchemaEcho
		}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding answer: %w", err)
	}
	return nil
}

// extractObject returns the outermost {...} span of text, after removing
// a surrounding code fence.
func extractObject(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
