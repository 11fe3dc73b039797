// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cardfile names, renders, parses, and writes card files.
//
// A card file is named card_<id>_<stem>.md, where id is 12 lowercase hex
// characters derived from the document path, fingerprint, position, and
// title, and stem is the source document's file name without extension.
// Card files live in a directory that mirrors the document's sub-directory
// under the cards root.
package cardfile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pdiddy/kbsync/internal/fingerprint"
	"github.com/pdiddy/kbsync/internal/synth"
	"github.com/pdiddy/kbsync/pkg/types"
)

const (
	// Prefix starts every card file name.
	Prefix = "card_"

	// Ext is the card file extension.
	Ext = ".md"

	// IDLen is the number of hex characters in a card id.
	IDLen = 12

	sourceLabel = "<!-- source:"
)

// ErrMalformed is returned by Parse for text that is not a card file.
var ErrMalformed = errors.New("malformed card file")

// AssignID derives the card id from (document path, fingerprint, index, title).
func AssignID(docPath, docFingerprint string, index int, title string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d:%s", docPath, docFingerprint, index, title)))
	return hex.EncodeToString(h[:])[:IDLen]
}

// FileName returns the card file name for id and stem.
func FileName(id, stem string) string {
	return Prefix + id + "_" + stem + Ext
}

// ParseName splits a card file name into id and stem. ok is false for names
// that do not have the exact card file shape.
func ParseName(name string) (id, stem string, ok bool) {
	if !strings.HasPrefix(name, Prefix) || !strings.HasSuffix(name, Ext) {
		return "", "", false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, Prefix), Ext)
	if len(rest) < IDLen+2 || rest[IDLen] != '_' {
		return "", "", false
	}
	id = rest[:IDLen]
	for _, r := range id {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return "", "", false
		}
	}
	return id, rest[IDLen+1:], true
}

// Matches reports whether name is a card file for stem.
func Matches(name, stem string) bool {
	_, s, ok := ParseName(name)
	return ok && s == stem
}

// Dir returns the card directory for a document: cardsRoot joined with the
// document's sub-directory.
func Dir(cardsRoot, docRel string) string {
	sub := path.Dir(docRel)
	if sub == "." {
		return cardsRoot
	}
	return filepath.Join(cardsRoot, filepath.FromSlash(sub))
}

// List returns the paths of every card file for stem in dir, sorted by name.
// A missing directory yields no files and no error.
func List(dir, stem string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cards in %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !Matches(e.Name(), stem) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

// NormalizeDescription makes description start with the lead-in phrase.
// An empty description stays empty.
func NormalizeDescription(description string) string {
	d := strings.TrimSpace(description)
	if d == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(d), strings.ToLower(synth.LeadIn)) {
		return d
	}
	return fmt.Sprintf("%s %s.", synth.LeadIn, strings.TrimRight(d, "."))
}

// Render serializes a card. source is the provenance path recorded in the
// footer (origins directory name joined with the document path).
func Render(card types.KnowledgeCard, source, docFingerprint string) string {
	return fmt.Sprintf("-- %s --\n\n%s\n\n%s %s %s %s -->\n",
		NormalizeDescription(card.Description),
		strings.TrimSpace(card.Content),
		sourceLabel, source, fingerprint.Label, docFingerprint)
}

// Card is the parsed form of a card file.
type Card struct {
	Description string `json:"description" yaml:"description"`
	Body        string `json:"content_md" yaml:"content_md"`
	Source      string `json:"source" yaml:"source"`
	Fingerprint string `json:"source_sha256" yaml:"source_sha256"`
}

// Parse reads a rendered card file. The footer is optional; Source and
// Fingerprint are empty when it is missing or unparsable.
func Parse(text string) (Card, error) {
	first, rest, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if len(first) < 4 || !strings.HasPrefix(first, "--") || !strings.HasSuffix(first, "--") {
		return Card{}, ErrMalformed
	}
	c := Card{Description: strings.TrimSpace(first[2 : len(first)-2])}

	body := rest
	if idx := strings.LastIndex(rest, sourceLabel); idx >= 0 {
		body = rest[:idx]
		footer := strings.TrimSuffix(strings.TrimSpace(rest[idx+len(sourceLabel):]), "-->")
		if fields := strings.Fields(footer); len(fields) > 0 && fields[0] != fingerprint.Label {
			c.Source = fields[0]
		}
		c.Fingerprint, _ = fingerprint.Extract(rest[idx:])
	}
	c.Body = strings.TrimSpace(body)
	return c, nil
}
