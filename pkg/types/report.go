// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// UpsertResult is the outcome of synthesizing cards for one document.
type UpsertResult struct {
	// OK is false only when the document could not be processed at all.
	OK bool `json:"ok" yaml:"ok"`

	// Skipped is set when the cards were already current and force was off.
	Skipped bool `json:"skipped" yaml:"skipped"`

	// Origin is the document's relative path.
	Origin string `json:"origin" yaml:"origin"`

	// Fingerprint is the document fingerprint embedded in the written cards.
	Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`

	CardCount int      `json:"cards_md_count" yaml:"cards_md_count"`
	Files     []string `json:"cards_md_files" yaml:"cards_md_files"`

	// Quality is nil for skipped documents.
	Quality *QualityMetadata `json:"quality,omitempty" yaml:"quality,omitempty"`

	// Error describes why OK is false.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Placeholder reports whether the document fell back to a placeholder card.
func (r UpsertResult) Placeholder() bool {
	return r.Quality != nil && r.Quality.Placeholder
}

// SyncReport aggregates per-document outcomes of a full-corpus run.
type SyncReport struct {
	OK        bool `json:"ok" yaml:"ok"`
	Processed int  `json:"processed" yaml:"processed"`
	Failed    int  `json:"failed" yaml:"failed"`
	Skipped   int  `json:"skipped" yaml:"skipped"`

	// Placeholders maps documents that fell back to a placeholder card to the reason.
	Placeholders map[string]string `json:"placeholders,omitempty" yaml:"placeholders,omitempty"`

	Results []UpsertResult `json:"results" yaml:"results"`

	// Error is set when the corpus could not be enumerated.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// PruneReport lists card files removed because their source document is gone.
type PruneReport struct {
	Removed []string `json:"removed" yaml:"removed"`
	Failed  []string `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Listing is a snapshot of the knowledge base directories. Paths are
// relative to the knowledge base root.
type Listing struct {
	Root         string   `json:"kb_root" yaml:"kb_root"`
	OriginsDir   string   `json:"origins_dir" yaml:"origins_dir"`
	CardsDir     string   `json:"cards_md_dir" yaml:"cards_md_dir"`
	Origins      []string `json:"origins" yaml:"origins"`
	Cards        []string `json:"cards_md" yaml:"cards_md"`
	OriginsCount int      `json:"origins_count" yaml:"origins_count"`
	CardsCount   int      `json:"cards_md_count" yaml:"cards_md_count"`
}

// Excerpt is a possibly truncated read of one source document.
type Excerpt struct {
	Path       string    `json:"path" yaml:"path"`
	SizeBytes  int64     `json:"size_bytes" yaml:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
	Truncated  bool      `json:"truncated" yaml:"truncated"`
	Content    string    `json:"content" yaml:"content"`
}

// CoverageReport classifies every corpus document.
type CoverageReport struct {
	Total int `json:"origins_total" yaml:"origins_total"`

	// Missing lists documents with no card files.
	Missing []string `json:"missing_cards_for_origins" yaml:"missing_cards_for_origins"`

	// Stale lists documents with at least one outdated or unreadable card file.
	Stale []string `json:"stale_cards_for_origins" yaml:"stale_cards_for_origins"`

	// Invalid lists "document: filename: reason" entries for unreadable card files.
	Invalid []string `json:"invalid_card_md_files" yaml:"invalid_card_md_files"`
}

// Covered reports whether every document has current cards.
func (r CoverageReport) Covered() bool {
	return len(r.Missing) == 0 && len(r.Stale) == 0 && len(r.Invalid) == 0
}

// NeedsSync returns missing and stale documents in report order, without duplicates.
func (r CoverageReport) NeedsSync() []string {
	seen := make(map[string]bool, len(r.Missing)+len(r.Stale))
	var out []string
	for _, list := range [][]string{r.Missing, r.Stale} {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}
