// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package corpus gives read access to the source document tree.
//
// Documents are regular .md, .yml, and .yaml files under the corpus root,
// identified by their slash-separated path relative to it. Every path
// supplied by a caller is checked for containment before any I/O.
package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/kbsync/internal/fingerprint"
	"github.com/pdiddy/kbsync/pkg/types"
)

var (
	// ErrPathEscapes is returned for paths that resolve outside the corpus root.
	ErrPathEscapes = errors.New("path escapes corpus root")

	// ErrUnsupported is returned for files that are not corpus documents.
	ErrUnsupported = errors.New("unsupported document type")
)

// Extensions lists the document file extensions, lower case.
var Extensions = []string{".md", ".yml", ".yaml"}

// TruncatedMarker terminates excerpts cut by ReadExcerpt.
const TruncatedMarker = "\n\n[TRUNCATED]"

// Supported reports whether name has a document extension.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Corpus is a source document tree rooted at a directory.
type Corpus struct {
	root string
}

// New returns a Corpus rooted at dir. The directory need not exist yet.
func New(dir string) (*Corpus, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving corpus root: %w", err)
	}
	return &Corpus{root: abs}, nil
}

// Root returns the absolute corpus root.
func (c *Corpus) Root() string { return c.root }

// Name returns the corpus directory name, recorded in provenance footers.
func (c *Corpus) Name() string { return filepath.Base(c.root) }

// Resolve returns the absolute path of the document at rel and its cleaned
// slash form. Absolute paths and paths leaving the root, including through
// symlinks, fail with ErrPathEscapes.
func (c *Corpus) Resolve(rel string) (abs, clean string, err error) {
	if rel == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrPathEscapes)
	}
	slashed := filepath.ToSlash(rel)
	if path.IsAbs(slashed) || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", "", fmt.Errorf("%w: %s", ErrPathEscapes, rel)
	}
	clean = path.Clean(slashed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", "", fmt.Errorf("%w: %s", ErrPathEscapes, rel)
	}
	abs = filepath.Join(c.root, filepath.FromSlash(clean))

	// Resolve symlinks when the target exists; the lexical check above
	// already covers paths that do not.
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		root, rerr := filepath.EvalSymlinks(c.root)
		if rerr != nil {
			root = c.root
		}
		if !within(root, real) {
			return "", "", fmt.Errorf("%w: %s", ErrPathEscapes, rel)
		}
	}
	return abs, clean, nil
}

func within(root, p string) bool {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) && !filepath.IsAbs(r)
}

// List returns the relative paths of every document, sorted. A missing root
// yields an empty list.
func (c *Corpus) List() ([]string, error) {
	var out []string
	err := filepath.WalkDir(c.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == c.root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			if p != c.root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !Supported(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(c.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing corpus: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// Load reads the document at rel into a fresh snapshot.
func (c *Corpus) Load(rel string) (types.SourceDocument, error) {
	abs, clean, err := c.Resolve(rel)
	if err != nil {
		return types.SourceDocument{}, err
	}
	if !Supported(clean) {
		return types.SourceDocument{}, fmt.Errorf("%w: %s", ErrUnsupported, clean)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return types.SourceDocument{}, fmt.Errorf("stat %s: %w", clean, err)
	}
	if !info.Mode().IsRegular() {
		return types.SourceDocument{}, fmt.Errorf("%w: %s is not a regular file", ErrUnsupported, clean)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return types.SourceDocument{}, fmt.Errorf("reading %s: %w", clean, err)
	}
	return types.SourceDocument{
		Path:        clean,
		Text:        string(data),
		Fingerprint: fingerprint.Sum(data),
		ModifiedAt:  info.ModTime().UTC(),
		Size:        info.Size(),
	}, nil
}

// ReadExcerpt returns at most maxChars characters of the document at rel,
// followed by TruncatedMarker when it was cut. maxChars <= 0 means no limit.
func (c *Corpus) ReadExcerpt(rel string, maxChars int) (string, error) {
	doc, err := c.Load(rel)
	if err != nil {
		return "", err
	}
	return Truncate(doc.Text, maxChars), nil
}

// Truncate cuts s to maxChars runes and appends TruncatedMarker when it was cut.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i] + TruncatedMarker
		}
		n++
	}
	return s
}
