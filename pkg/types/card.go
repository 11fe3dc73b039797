// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SourceDocument is an immutable snapshot of one corpus document, re-read
// fresh every time it is processed.
type SourceDocument struct {
	// Path is the document identity: its slash-separated path relative to the corpus root.
	Path string `json:"path" yaml:"path"`

	// Text is the raw document text.
	Text string `json:"-" yaml:"-"`

	// Fingerprint is the SHA-256 hex digest of the raw bytes.
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`

	// ModifiedAt is the file modification time in UTC.
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`

	// Size is the file size in bytes.
	Size int64 `json:"size_bytes" yaml:"size_bytes"`
}

// KnowledgeCard is one atomic unit of knowledge derived from a document.
// It has no identity until it is written; see cardfile.AssignID.
type KnowledgeCard struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Content     string   `json:"content_md" yaml:"content_md"`
	KeyTerms    []string `json:"key_terms" yaml:"key_terms"`
	Entities    []string `json:"entities" yaml:"entities"`
}

// Normalize trims every field and drops empty key terms and entities.
func (c KnowledgeCard) Normalize() KnowledgeCard {
	return KnowledgeCard{
		Title:       strings.TrimSpace(c.Title),
		Description: strings.TrimSpace(c.Description),
		Content:     strings.TrimSpace(c.Content),
		KeyTerms:    nonEmpty(c.KeyTerms),
		Entities:    nonEmpty(c.Entities),
	}
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MissingItem is one gap reported by the validator. A structured item names
// what is missing and quotes the source as evidence. A diagnostic item is a
// free-form note (validator or generation failures) and is encoded as a plain
// JSON string.
type MissingItem struct {
	What       string `json:"what" yaml:"what"`
	Evidence   string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Diagnostic bool   `json:"-" yaml:"diagnostic,omitempty"`
}

// Diagnostic returns a diagnostic MissingItem.
func Diagnostic(format string, args ...any) MissingItem {
	return MissingItem{What: fmt.Sprintf(format, args...), Diagnostic: true}
}

// MarshalJSON encodes diagnostic items as strings and structured items as objects.
func (m MissingItem) MarshalJSON() ([]byte, error) {
	if m.Diagnostic {
		return json.Marshal(m.What)
	}
	type plain MissingItem
	return json.Marshal(plain(m))
}

// UnmarshalJSON accepts either a string (diagnostic) or an object (structured).
func (m *MissingItem) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = MissingItem{What: s, Diagnostic: true}
		return nil
	}
	type plain MissingItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = MissingItem(p)
	m.Diagnostic = false
	return nil
}

// ValidationReport is the validator's coverage verdict for one card set.
type ValidationReport struct {
	// OK reports whether the cards cover the document.
	OK bool `json:"ok" yaml:"ok"`

	// Missing lists uncovered knowledge, each ideally backed by a verbatim quote.
	Missing []MissingItem `json:"missing" yaml:"missing"`

	// SuggestedTitles lists cards the validator proposes to add or fix.
	SuggestedTitles []string `json:"suggested_card_titles" yaml:"suggested_card_titles"`

	// SanitizedRemoved counts structured items dropped for lacking literal evidence.
	SanitizedRemoved int `json:"missing_sanitized_removed,omitempty" yaml:"missing_sanitized_removed,omitempty"`

	// Overridden is set when sanitization flipped a negative verdict to positive.
	Overridden bool `json:"ok_sanitized_overridden,omitempty" yaml:"ok_sanitized_overridden,omitempty"`
}

// QualityMetadata records how a card set was produced. It is attached to a
// synthesis result, never to individual cards.
type QualityMetadata struct {
	Judge             ValidationReport `json:"judge" yaml:"judge"`
	RefinementApplied bool             `json:"refinement_applied" yaml:"refinement_applied"`
	RefinementError   string           `json:"refinement_error,omitempty" yaml:"refinement_error,omitempty"`
	GenerationError   string           `json:"generation_error,omitempty" yaml:"generation_error,omitempty"`
	ValidatorError    string           `json:"validator_error,omitempty" yaml:"validator_error,omitempty"`

	// Placeholder is set when generation failed twice and a synthetic card was emitted.
	Placeholder bool `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`

	GeneratorCalls int `json:"generator_calls" yaml:"generator_calls"`
	ValidatorCalls int `json:"validator_calls" yaml:"validator_calls"`
}

// SynthesisResult is the final card set for one document plus its quality report.
type SynthesisResult struct {
	Cards   []KnowledgeCard `json:"cards" yaml:"cards"`
	Quality QualityMetadata `json:"quality" yaml:"quality"`
}

// GenerationRequest is the input of one generator call.
type GenerationRequest struct {
	// DocumentID is the document's relative path; it names the subject for the generator.
	DocumentID string

	// Text is the raw document text.
	Text string

	// Role is the instruction text setting the generator's tone and focus.
	Role string

	// Guidance carries retry or refinement instructions. Empty on the first call.
	Guidance string

	// Existing holds the prior candidate cards during refinement.
	Existing []KnowledgeCard
}

// ValidationRequest is the input of one validator call.
type ValidationRequest struct {
	DocumentID string
	Text       string
	Cards      []KnowledgeCard
}
