// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package journal records the latest synchronization outcome of every
// document in a SQLite database, along with the runs that produced them.
// Only the newest state per document is kept.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/kbsync/internal/cardfile"
	"github.com/pdiddy/kbsync/pkg/types"
)

// ErrNotFound is returned when a document has never been recorded.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed journal. It implements syncer.Recorder.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the journal database at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			processed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			path TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			synced_at TEXT NOT NULL,
			run_id TEXT REFERENCES runs(id) ON DELETE SET NULL,
			card_count INTEGER NOT NULL,
			ok INTEGER NOT NULL,
			placeholder INTEGER NOT NULL,
			refinement_applied INTEGER NOT NULL,
			quality TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id TEXT PRIMARY KEY,
			document_path TEXT NOT NULL REFERENCES documents(path) ON DELETE CASCADE,
			file TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			key_terms TEXT,
			entities TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_document ON cards(document_path)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_run ON documents(run_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// BeginRun opens a run of the given kind and returns its id.
func (s *Store) BeginRun(ctx context.Context, kind string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, started_at) VALUES (?, ?, ?)`,
		id, kind, s.stamp())
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return id, nil
}

// FinishRun stores the counters of report on run id.
func (s *Store) FinishRun(ctx context.Context, id string, report types.SyncReport) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, processed = ?, failed = ?, skipped = ? WHERE id = ?`,
		s.stamp(), report.Processed, report.Failed, report.Skipped, id)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordDocument replaces the journaled state of res.Origin. cards[i] is
// the card written to res.Files[i]. Failed and skipped results are ignored.
func (s *Store) RecordDocument(ctx context.Context, runID string, res types.UpsertResult, cards []types.KnowledgeCard) error {
	if !res.OK || res.Skipped {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		quality          []byte
		judgeOK, refined bool
		placeholder      bool
		run              sql.NullString
	)
	if res.Quality != nil {
		quality, _ = json.Marshal(res.Quality)
		judgeOK = res.Quality.Judge.OK
		refined = res.Quality.RefinementApplied
		placeholder = res.Quality.Placeholder
	}
	if runID != "" {
		run = sql.NullString{String: runID, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (path, fingerprint, synced_at, run_id, card_count, ok, placeholder, refinement_applied, quality)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			fingerprint=excluded.fingerprint, synced_at=excluded.synced_at, run_id=excluded.run_id,
			card_count=excluded.card_count, ok=excluded.ok, placeholder=excluded.placeholder,
			refinement_applied=excluded.refinement_applied, quality=excluded.quality`,
		res.Origin, res.Fingerprint, s.stamp(), run, res.CardCount,
		judgeOK, placeholder, refined, string(quality),
	)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", res.Origin, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE document_path = ?`, res.Origin); err != nil {
		return fmt.Errorf("deleting old cards: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO cards (id, document_path, file, title, description, key_terms, entities)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, file := range res.Files {
		name := filepath.Base(file)
		id, _, ok := cardfile.ParseName(name)
		if !ok {
			continue
		}
		var card types.KnowledgeCard
		if i < len(cards) {
			card = cards[i]
		}
		terms, _ := json.Marshal(nonNil(card.KeyTerms))
		entities, _ := json.Marshal(nonNil(card.Entities))
		if _, err := stmt.ExecContext(ctx,
			id, res.Origin, name, card.Title, card.Description, string(terms), string(entities),
		); err != nil {
			return fmt.Errorf("inserting card %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// Forget drops the journaled state of path and its cards.
func (s *Store) Forget(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting document %s: %w", path, err)
	}
	return nil
}

func (s *Store) stamp() string {
	return s.now().Format(time.RFC3339Nano)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
