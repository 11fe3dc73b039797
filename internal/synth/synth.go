// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package synth turns one source document into a validated card set.
//
// The pipeline runs GENERATE, an optional single RETRY_GENERATE, VALIDATE,
// sanitization, an optional single REFINE, and always ends in FINALIZE. The
// generator and validator are unreliable collaborators: every failure is
// caught and recorded in the quality metadata, never propagated.
package synth

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/kbsync/internal/evidence"
	"github.com/pdiddy/kbsync/pkg/types"
)

// Generator produces candidate cards for a document. Implementations are
// best-effort: they may fail, time out, or return malformed content.
type Generator interface {
	Generate(ctx context.Context, req types.GenerationRequest) ([]types.KnowledgeCard, error)
}

// Validator judges whether a card set covers a document. Every reported gap
// should quote the source verbatim; unquoted gaps are filtered out.
type Validator interface {
	Validate(ctx context.Context, req types.ValidationRequest) (types.ValidationReport, error)
}

const (
	// FailureMarker appears in generator output that failed to produce a summary,
	// and in the placeholder card emitted when generation fails twice.
	FailureMarker = "Card summary was not generated"

	// LeadIn is the phrase every card description starts with.
	LeadIn = "The document contains information about"

	// MaxCards is the upper bound on cards per document.
	MaxCards = 20

	retryGuidance = "The previous attempt was malformed or contained a generation error. " +
		"Return correct cards for this document."

	placeholderReason = "card generation failed: format, parsing, or network error"
)

// hedgingPhrases is meta-commentary that marks a card as malformed.
// Matched case-insensitively against description and body.
var hedgingPhrases = []string{
	"requires additional explanation",
	"require additional explanation",
	"requires additional clarification",
	"needs to be described in more detail",
	"should be described in more detail",
	"are presented briefly and require",
	"requires further work",
	"needs further work",
	"needs more detail",
	"not enough information",
	"insufficient information",
}

// Malformed reports whether any card carries the failure marker or a hedging phrase.
func Malformed(cards []types.KnowledgeCard) bool {
	for _, c := range cards {
		if strings.Contains(c.Description, FailureMarker) || strings.Contains(c.Content, FailureMarker) {
			return true
		}
		text := strings.ToLower(c.Description + "\n" + c.Content)
		for _, p := range hedgingPhrases {
			if strings.Contains(text, p) {
				return true
			}
		}
	}
	return false
}

// FailureKind labels an error from a collaborator for the quality report.
// Errors exposing Kind() string name themselves.
func FailureKind(err error) string {
	var k interface{ Kind() string }
	switch {
	case err == nil:
		return ""
	case errors.As(err, &k):
		return k.Kind()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// Title returns the first "# " heading of a Markdown document, or fallback.
func Title(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			if t := strings.TrimSpace(line[2:]); t != "" {
				return t
			}
		}
	}
	return fallback
}

// Stem returns the file name of a slash path without its extension.
func Stem(rel string) string {
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Placeholder returns the synthetic card emitted when generation fails.
func Placeholder(title string) types.KnowledgeCard {
	return types.KnowledgeCard{
		Title:       title,
		Description: fmt.Sprintf("%s %s (%s).", LeadIn, title, FailureMarker),
		Content:     FailureMarker + " (format or network error).",
		KeyTerms:    []string{},
		Entities:    []string{},
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDelay sleeps d before every external call as a rate-limiting courtesy.
func WithDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.delay = d }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline is the generate→validate→sanitize→refine state machine for one
// document. It is safe for concurrent use if the collaborators are.
type Pipeline struct {
	gen    Generator
	val    Validator
	delay  time.Duration
	logger *zap.Logger
}

// New returns a Pipeline backed by gen and val.
func New(gen Generator, val Validator, opts ...Option) *Pipeline {
	p := &Pipeline{gen: gen, val: val, logger: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// run holds the per-document state threaded through the stages.
type run struct {
	doc     types.SourceDocument
	role    string
	log     *zap.Logger
	cards   []types.KnowledgeCard
	quality types.QualityMetadata
}

// Run synthesizes the card set for doc. It never fails: collaborator errors
// degrade to a placeholder card or a diagnostic verdict.
func (p *Pipeline) Run(ctx context.Context, doc types.SourceDocument, role string) types.SynthesisResult {
	r := &run{
		doc:  doc,
		role: role,
		log:  p.logger.With(zap.String("document", doc.Path)),
	}

	if !p.generate(ctx, r) {
		return p.finalize(r)
	}
	report := p.validate(ctx, r)
	report = evidence.Sanitize(doc.Text, report)
	r.quality.Judge = report
	if report.SanitizedRemoved > 0 {
		r.log.Debug("dropped unquoted gaps", zap.Int("removed", report.SanitizedRemoved))
	}
	if !report.OK {
		p.refine(ctx, r, report)
	}
	return p.finalize(r)
}

// generate runs GENERATE and, when the output is empty or flagged, exactly
// one RETRY_GENERATE. It returns false after falling back to a placeholder.
func (p *Pipeline) generate(ctx context.Context, r *run) bool {
	cards, err := p.callGenerator(ctx, r, "", nil)
	if err != nil {
		r.quality.GenerationError = FailureKind(err)
		r.log.Warn("generation failed", zap.Error(err))
	}
	if err == nil && len(cards) > 0 && !Malformed(cards) {
		r.cards = cards
		return true
	}

	cards, err = p.callGenerator(ctx, r, retryGuidance, nil)
	switch {
	case err != nil:
		r.quality.GenerationError = FailureKind(err)
		r.log.Warn("generation retry failed", zap.Error(err))
	case len(cards) == 0:
		r.quality.GenerationError = "empty"
	case Malformed(cards):
		r.quality.GenerationError = "malformed"
	default:
		r.quality.GenerationError = ""
		r.cards = cards
		return true
	}

	title := Title(r.doc.Text, Stem(r.doc.Path))
	r.cards = []types.KnowledgeCard{Placeholder(title)}
	r.quality.Placeholder = true
	r.quality.Judge = types.ValidationReport{
		OK:              false,
		Missing:         []types.MissingItem{types.Diagnostic(placeholderReason)},
		SuggestedTitles: []string{},
	}
	r.log.Warn("falling back to placeholder card", zap.String("title", title))
	return false
}

// validate calls the validator exactly once. A failed call becomes a
// negative verdict with a diagnostic entry.
func (p *Pipeline) validate(ctx context.Context, r *run) types.ValidationReport {
	if err := p.pause(ctx); err != nil {
		return p.validatorFailure(r, err)
	}
	r.quality.ValidatorCalls++
	report, err := p.val.Validate(ctx, types.ValidationRequest{
		DocumentID: r.doc.Path,
		Text:       r.doc.Text,
		Cards:      r.cards,
	})
	if err != nil {
		return p.validatorFailure(r, err)
	}
	return report
}

func (p *Pipeline) validatorFailure(r *run, err error) types.ValidationReport {
	kind := FailureKind(err)
	r.quality.ValidatorError = kind
	r.log.Warn("validation failed", zap.String("kind", kind), zap.Error(err))
	return types.ValidationReport{
		OK:              false,
		Missing:         []types.MissingItem{types.Diagnostic("judge_error: %s", kind)},
		SuggestedTitles: []string{},
	}
}

// refine calls the generator exactly once more with the sanitized gaps as
// guidance. The validator is not consulted again.
func (p *Pipeline) refine(ctx context.Context, r *run, report types.ValidationReport) {
	cards, err := p.callGenerator(ctx, r, RefinementGuidance(report), r.cards)
	switch {
	case err != nil:
		r.quality.RefinementError = FailureKind(err)
		r.log.Warn("refinement failed", zap.Error(err))
	case len(cards) == 0:
		r.log.Info("refinement returned no cards, keeping candidates")
	default:
		r.cards = cards
		r.quality.RefinementApplied = true
	}
}

func (p *Pipeline) finalize(r *run) types.SynthesisResult {
	if len(r.cards) > MaxCards {
		r.log.Warn("truncating card set", zap.Int("cards", len(r.cards)), zap.Int("max", MaxCards))
		r.cards = r.cards[:MaxCards]
	}
	if r.quality.Judge.Missing == nil {
		r.quality.Judge.Missing = []types.MissingItem{}
	}
	r.log.Debug("synthesis finished",
		zap.Int("cards", len(r.cards)),
		zap.Bool("ok", r.quality.Judge.OK),
		zap.Bool("refined", r.quality.RefinementApplied),
		zap.Bool("placeholder", r.quality.Placeholder))
	return types.SynthesisResult{Cards: r.cards, Quality: r.quality}
}

func (p *Pipeline) callGenerator(ctx context.Context, r *run, guidance string, existing []types.KnowledgeCard) ([]types.KnowledgeCard, error) {
	if err := p.pause(ctx); err != nil {
		return nil, err
	}
	r.quality.GeneratorCalls++
	cards, err := p.gen.Generate(ctx, types.GenerationRequest{
		DocumentID: r.doc.Path,
		Text:       r.doc.Text,
		Role:       r.role,
		Guidance:   guidance,
		Existing:   existing,
	})
	if err != nil {
		return nil, err
	}
	out := make([]types.KnowledgeCard, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.Normalize())
	}
	return out, nil
}

// pause blocks for the configured delay or until ctx is done.
func (p *Pipeline) pause(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RefinementGuidance renders the sanitized gaps and suggested titles as
// instructions for the refinement call.
func RefinementGuidance(report types.ValidationReport) string {
	var b strings.Builder
	if len(report.Missing) > 0 {
		parts := make([]string, 0, len(report.Missing))
		for _, m := range report.Missing {
			what := strings.TrimSpace(m.What)
			ev := strings.TrimSpace(m.Evidence)
			switch {
			case m.Diagnostic:
				parts = append(parts, what)
			case what != "" && ev != "":
				parts = append(parts, what+"\n  quote: "+ev)
			case what != "":
				parts = append(parts, what)
			}
		}
		if len(parts) > 0 {
			b.WriteString("Not covered (with quotes from the original):\n- ")
			b.WriteString(strings.Join(parts, "\n- "))
			b.WriteString("\n")
		}
	}
	if len(report.SuggestedTitles) > 0 {
		b.WriteString("Cards to add or fix (titles):\n- ")
		b.WriteString(strings.Join(report.SuggestedTitles, "\n- "))
		b.WriteString("\n")
	}
	b.WriteString("\nRevise the cards using ONLY the original document. " +
		"If an item listed above is not literally supported by the document, do NOT add it.")
	return b.String()
}
