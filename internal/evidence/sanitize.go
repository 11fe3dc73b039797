// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package evidence filters validator-reported gaps down to those backed by a
// literal quotation from the source document.
package evidence

import (
	"strings"

	"github.com/pdiddy/kbsync/pkg/types"
)

// NormalizeSpace collapses every whitespace run to a single space and trims the ends.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Grounded reports whether evidence appears verbatim in the document after
// whitespace normalization. Empty evidence is never grounded.
func Grounded(docText, evidence string) bool {
	ev := NormalizeSpace(evidence)
	if ev == "" {
		return false
	}
	return strings.Contains(NormalizeSpace(docText), ev)
}

// Sanitize drops structured missing items whose evidence is not a literal
// substring of docText and keeps diagnostic items verbatim. A negative
// verdict left with no missing item at all is flipped to positive and marked
// Overridden; a diagnostic entry such as a validator failure keeps it
// negative. The input report is not modified.
func Sanitize(docText string, report types.ValidationReport) types.ValidationReport {
	doc := NormalizeSpace(docText)

	out := report
	out.Missing = make([]types.MissingItem, 0, len(report.Missing))
	out.SuggestedTitles = append([]string(nil), report.SuggestedTitles...)

	removed := 0
	for _, item := range report.Missing {
		if item.Diagnostic {
			out.Missing = append(out.Missing, item)
			continue
		}
		ev := NormalizeSpace(item.Evidence)
		if ev == "" || !strings.Contains(doc, ev) {
			removed++
			continue
		}
		out.Missing = append(out.Missing, item)
	}
	out.SanitizedRemoved = report.SanitizedRemoved + removed

	if !report.OK && len(out.Missing) == 0 {
		out.OK = true
		out.Overridden = true
	}
	return out
}
