// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/kbsync/pkg/types"
)

// DocumentStatus is the journaled state of one source document.
type DocumentStatus struct {
	Path              string                 `json:"path" yaml:"path"`
	Fingerprint       string                 `json:"fingerprint" yaml:"fingerprint"`
	SyncedAt          time.Time              `json:"synced_at" yaml:"synced_at"`
	RunID             string                 `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	CardCount         int                    `json:"card_count" yaml:"card_count"`
	JudgeOK           bool                   `json:"judge_ok" yaml:"judge_ok"`
	Placeholder       bool                   `json:"placeholder" yaml:"placeholder"`
	RefinementApplied bool                   `json:"refinement_applied" yaml:"refinement_applied"`
	Quality           *types.QualityMetadata `json:"quality,omitempty" yaml:"quality,omitempty"`
	Cards             []CardEntry            `json:"cards,omitempty" yaml:"cards,omitempty"`
}

// CardEntry is one journaled card.
type CardEntry struct {
	ID          string   `json:"id" yaml:"id"`
	Document    string   `json:"document" yaml:"document"`
	File        string   `json:"file" yaml:"file"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	KeyTerms    []string `json:"key_terms" yaml:"key_terms"`
	Entities    []string `json:"entities" yaml:"entities"`
}

// Run is one journaled synchronization run.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	Kind       string     `json:"kind" yaml:"kind"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Processed  int        `json:"processed" yaml:"processed"`
	Failed     int        `json:"failed" yaml:"failed"`
	Skipped    int        `json:"skipped" yaml:"skipped"`
}

// CardQuery filters Cards. Empty fields match everything.
type CardQuery struct {
	// Document restricts results to one source document path.
	Document string

	// Term matches a key term or entity exactly, or a substring of the title.
	Term string

	// MaxResults limits result count. Zero means 100.
	MaxResults int
}

const documentColumns = `path, fingerprint, synced_at, run_id, card_count, ok, placeholder, refinement_applied, quality`

// Documents returns every journaled document ordered by path.
func (s *Store) Documents(ctx context.Context) ([]DocumentStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	out := []DocumentStatus{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Document returns the journaled state of path with its cards.
func (s *Store) Document(ctx context.Context, path string) (DocumentStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentStatus{}, fmt.Errorf("document %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return DocumentStatus{}, err
	}
	d.Cards, err = s.Cards(ctx, CardQuery{Document: path})
	if err != nil {
		return DocumentStatus{}, err
	}
	return d, nil
}

// Cards returns journaled cards matching q, ordered by document and file.
func (s *Store) Cards(ctx context.Context, q CardQuery) ([]CardEntry, error) {
	limit := q.MaxResults
	if limit <= 0 {
		limit = 100
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT c.id, c.document_path, c.file, c.title, c.description, c.key_terms, c.entities
		FROM cards c WHERE 1=1`)
	if q.Document != "" {
		qb.WriteString(` AND c.document_path = ?`)
		args = append(args, q.Document)
	}
	if q.Term != "" {
		qb.WriteString(` AND (c.title LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM json_each(c.key_terms) WHERE value = ?)
			OR EXISTS (SELECT 1 FROM json_each(c.entities) WHERE value = ?))`)
		args = append(args, "%"+escapeLike(q.Term)+"%", q.Term, q.Term)
	}
	qb.WriteString(` ORDER BY c.document_path, c.file LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	out := []CardEntry{}
	for rows.Next() {
		var (
			c                  CardEntry
			desc               sql.NullString
			terms, entitiesRaw sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Document, &c.File, &c.Title, &desc, &terms, &entitiesRaw); err != nil {
			return nil, fmt.Errorf("scanning card: %w", err)
		}
		c.Description = desc.String
		c.KeyTerms = decodeList(terms)
		c.Entities = decodeList(entitiesRaw)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, started_at, finished_at, processed, failed, skipped
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &started, &finished, &r.Processed, &r.Failed, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			t, err := time.Parse(time.RFC3339Nano, finished.String)
			if err == nil {
				r.FinishedAt = &t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (DocumentStatus, error) {
	var (
		d       DocumentStatus
		synced  string
		run     sql.NullString
		quality sql.NullString
	)
	err := row.Scan(&d.Path, &d.Fingerprint, &synced, &run, &d.CardCount,
		&d.JudgeOK, &d.Placeholder, &d.RefinementApplied, &quality)
	if errors.Is(err, sql.ErrNoRows) {
		return d, err
	}
	if err != nil {
		return d, fmt.Errorf("scanning document: %w", err)
	}
	d.SyncedAt, _ = time.Parse(time.RFC3339Nano, synced)
	d.RunID = run.String
	if quality.Valid && quality.String != "" {
		var q types.QualityMetadata
		if json.Unmarshal([]byte(quality.String), &q) == nil {
			d.Quality = &q
		}
	}
	return d, nil
}

func decodeList(raw sql.NullString) []string {
	out := []string{}
	if raw.Valid {
		json.Unmarshal([]byte(raw.String), &out)
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
