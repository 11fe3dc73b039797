// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package coverage audits the card output directory against the corpus.
package coverage

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/kbsync/internal/cardfile"
	"github.com/pdiddy/kbsync/internal/corpus"
	"github.com/pdiddy/kbsync/internal/fingerprint"
	"github.com/pdiddy/kbsync/internal/synth"
	"github.com/pdiddy/kbsync/pkg/types"
)

// errInvalidUTF8 labels card files whose bytes are not valid UTF-8.
type errInvalidUTF8 struct{}

func (errInvalidUTF8) Error() string { return "card file is not valid UTF-8" }

// Analyze classifies every document of c against the card files under
// cardsRoot. With includeStale off only missing documents are reported.
//
// A card file or card directory that cannot be read is listed as invalid
// and marks its document stale. The error return is reserved for failures
// to enumerate the corpus.
func Analyze(c *corpus.Corpus, cardsRoot string, includeStale bool) (types.CoverageReport, error) {
	report := types.CoverageReport{
		Missing: []string{},
		Stale:   []string{},
		Invalid: []string{},
	}
	docs, err := c.List()
	if err != nil {
		return report, err
	}
	report.Total = len(docs)

	for _, rel := range docs {
		files, err := cardfile.List(cardfile.Dir(cardsRoot, rel), synth.Stem(rel))
		if err != nil {
			report.Invalid = append(report.Invalid, invalidEntry(rel, "(card directory)", err))
			report.Stale = append(report.Stale, rel)
			continue
		}
		if len(files) == 0 {
			report.Missing = append(report.Missing, rel)
			continue
		}
		if !includeStale {
			continue
		}

		abs, _, err := c.Resolve(rel)
		if err == nil {
			var current string
			current, err = fingerprint.File(abs)
			if err == nil {
				if inspect(&report, rel, current, files) {
					report.Stale = append(report.Stale, rel)
				}
				continue
			}
		}
		report.Invalid = append(report.Invalid, invalidEntry(rel, "(document)", err))
		report.Stale = append(report.Stale, rel)
	}
	return report, nil
}

// inspect checks each card file of one document, recording unreadable ones
// as invalid. It reports whether the document is stale.
func inspect(report *types.CoverageReport, rel, current string, files []string) bool {
	stale := false
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err == nil && !utf8.Valid(data) {
			err = errInvalidUTF8{}
		}
		if err != nil {
			report.Invalid = append(report.Invalid, invalidEntry(rel, filepath.Base(f), err))
			stale = true
			continue
		}
		if fingerprint.IsStale(string(data), current) {
			stale = true
		}
	}
	return stale
}

// invalidEntry formats "document: filename: kind: error".
func invalidEntry(rel, name string, err error) string {
	kind := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	return fmt.Sprintf("%s: %s: %s: %v", rel, name, kind, err)
}

// Collisions groups documents that share one card set: same directory and
// same stem, such as guide/setup.md and guide/setup.yaml. Each group lists
// its documents in input order; groups follow the first member's order.
func Collisions(docs []string) [][]string {
	groups := make(map[string][]string)
	var keys []string
	for _, rel := range docs {
		key := path.Join(path.Dir(rel), synth.Stem(rel))
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], rel)
	}
	var out [][]string
	for _, k := range keys {
		if len(groups[k]) > 1 {
			out = append(out, groups[k])
		}
	}
	return out
}
