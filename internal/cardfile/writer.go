// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cardfile

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/pdiddy/kbsync/internal/synth"
	"github.com/pdiddy/kbsync/pkg/types"
)

const tmpPattern = ".kbsync-tmp-*"

// Writer writes the card set of one document under a cards root.
type Writer struct {
	root        string
	originsName string
	logger      *zap.Logger
}

// NewWriter returns a Writer rooted at cardsRoot. originsName is the name
// of the corpus directory recorded in provenance footers (e.g. "origins").
func NewWriter(cardsRoot, originsName string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{root: cardsRoot, originsName: originsName, logger: logger}
}

// Root returns the cards root directory.
func (w *Writer) Root() string { return w.root }

// Dir returns the card directory for the document at docRel.
func (w *Writer) Dir(docRel string) string { return Dir(w.root, docRel) }

// Source returns the provenance path recorded for the document at docRel.
func (w *Writer) Source(docRel string) string { return path.Join(w.originsName, docRel) }

// Write replaces the card files of doc with cards and returns the written paths.
//
// Every card is first written to a temporary file and renamed into place
// once all of them are on disk. Only then are the document's previous card
// files that are not part of the new set removed. Removal failures are
// logged and ignored.
func (w *Writer) Write(doc types.SourceDocument, cards []types.KnowledgeCard) ([]string, error) {
	dir := w.Dir(doc.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating card directory %s: %w", dir, err)
	}
	stem := synth.Stem(doc.Path)
	log := w.logger.With(zap.String("document", doc.Path))

	previous, err := List(dir, stem)
	if err != nil {
		log.Warn("listing previous cards", zap.Error(err))
	}

	docTitle := synth.Title(doc.Text, stem)
	source := w.Source(doc.Path)

	type pending struct{ tmp, final string }
	staged := make([]pending, 0, len(cards))
	discard := func() {
		for _, p := range staged {
			_ = os.Remove(p.tmp)
		}
	}

	for i, c := range cards {
		title := c.Title
		if title == "" {
			title = docTitle + ", part " + strconv.Itoa(i+1)
		}
		name := FileName(AssignID(doc.Path, doc.Fingerprint, i, title), stem)
		tmp, err := writeTemp(dir, []byte(Render(c, source, doc.Fingerprint)))
		if err != nil {
			discard()
			return nil, fmt.Errorf("writing card %d of %s: %w", i+1, doc.Path, err)
		}
		staged = append(staged, pending{tmp: tmp, final: filepath.Join(dir, name)})
	}

	written := make([]string, 0, len(staged))
	keep := make(map[string]bool, len(staged))
	for i, p := range staged {
		if err := os.Rename(p.tmp, p.final); err != nil {
			for _, q := range staged[i:] {
				_ = os.Remove(q.tmp)
			}
			return written, fmt.Errorf("renaming card into place: %w", err)
		}
		written = append(written, p.final)
		keep[p.final] = true
	}

	removed := 0
	for _, old := range previous {
		if keep[old] {
			continue
		}
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			log.Warn("removing outdated card", zap.String("file", old), zap.Error(err))
			continue
		}
		removed++
	}

	log.Debug("cards written", zap.Int("written", len(written)), zap.Int("removed", removed))
	return written, nil
}

// writeTemp writes content to a new temporary file in dir and syncs it.
func writeTemp(dir string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(name)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp: %w", err)
	}
	success = true
	return name, nil
}
