// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package syncer drives card synchronization for a corpus: coverage
// analysis, per-document synthesis and writing, full-corpus runs, and
// removal of orphaned cards.
//
// Upsert and SyncAll may both be called by the same process; concurrent
// writes for one document stem are serialized, writes for distinct stems
// run in parallel.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/kbsync/internal/cardfile"
	"github.com/pdiddy/kbsync/internal/corpus"
	"github.com/pdiddy/kbsync/internal/coverage"
	"github.com/pdiddy/kbsync/internal/fingerprint"
	"github.com/pdiddy/kbsync/internal/synth"
	"github.com/pdiddy/kbsync/pkg/types"
)

// Synthesizer produces the card set for one document.
type Synthesizer interface {
	Run(ctx context.Context, doc types.SourceDocument, role string) types.SynthesisResult
}

// Recorder persists synchronization outcomes. Recording is best-effort:
// errors are logged and never fail a synchronization.
type Recorder interface {
	BeginRun(ctx context.Context, kind string) (string, error)
	RecordDocument(ctx context.Context, runID string, res types.UpsertResult, cards []types.KnowledgeCard) error
	FinishRun(ctx context.Context, runID string, report types.SyncReport) error
}

// ErrNoSynthesizer is returned by Upsert when the service was built
// without a synthesizer, for read-only use.
var ErrNoSynthesizer = errors.New("no card synthesizer configured")

// Run kinds passed to Recorder.BeginRun.
const (
	RunUpsert = "upsert"
	RunSync   = "sync"
)

// UpsertOptions controls a single-document synchronization.
type UpsertOptions struct {
	// Force regenerates cards even when they are current.
	Force bool

	// Role overrides the service's default generator role.
	Role string
}

// SyncOptions controls a full-corpus synchronization.
type SyncOptions = UpsertOptions

// Option configures a Service.
type Option func(*Service)

// WithRecorder records outcomes in r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithConcurrency bounds how many documents SyncAll processes at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRole sets the default generator role.
func WithRole(role string) Option {
	return func(s *Service) { s.role = role }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service synchronizes the cards of one corpus.
type Service struct {
	corpus      *corpus.Corpus
	writer      *cardfile.Writer
	synth       Synthesizer
	recorder    Recorder
	concurrency int
	role        string
	logger      *zap.Logger
	locks       stemLocks
}

// New returns a Service over c that writes with w and synthesizes with sy.
// sy may be nil for a read-only service; Upsert then fails with
// ErrNoSynthesizer unless the cards are current.
func New(c *corpus.Corpus, w *cardfile.Writer, sy Synthesizer, opts ...Option) *Service {
	s := &Service{
		corpus:      c,
		writer:      w,
		synth:       sy,
		concurrency: 1,
		role:        types.DefaultRole,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Corpus returns the source corpus.
func (s *Service) Corpus() *corpus.Corpus { return s.corpus }

// Coverage analyzes the card directory against the corpus.
func (s *Service) Coverage(includeStale bool) (types.CoverageReport, error) {
	return coverage.Analyze(s.corpus, s.writer.Root(), includeStale)
}

// Read returns at most maxChars characters of the document at rel with
// its size and modification time.
func (s *Service) Read(rel string, maxChars int) (types.Excerpt, error) {
	doc, err := s.corpus.Load(rel)
	if err != nil {
		return types.Excerpt{}, err
	}
	content := corpus.Truncate(doc.Text, maxChars)
	return types.Excerpt{
		Path:       path.Join(s.corpus.Name(), doc.Path),
		SizeBytes:  doc.Size,
		ModifiedAt: doc.ModifiedAt,
		Truncated:  content != doc.Text,
		Content:    content,
	}, nil
}

// Upsert synchronizes the cards of the document at rel. The result is
// always populated; the error is non-nil exactly when result.OK is false.
func (s *Service) Upsert(ctx context.Context, rel string, opts UpsertOptions) (types.UpsertResult, error) {
	runID := s.beginRun(ctx, RunUpsert)
	res, err := s.upsert(ctx, runID, rel, opts)
	s.finishRun(ctx, runID, aggregate([]types.UpsertResult{res}))
	return res, err
}

// SyncAll synchronizes every document of the corpus. A failing document
// never stops the others; its failure is reported in its result.
func (s *Service) SyncAll(ctx context.Context, opts SyncOptions) types.SyncReport {
	docs, err := s.corpus.List()
	if err != nil {
		s.logger.Error("listing corpus", zap.Error(err))
		return types.SyncReport{OK: false, Results: []types.UpsertResult{}, Error: err.Error()}
	}

	for _, group := range coverage.Collisions(docs) {
		s.logger.Warn("documents share one card set and overwrite each other's cards",
			zap.Strings("documents", group))
	}

	runID := s.beginRun(ctx, RunSync)
	results := make([]types.UpsertResult, len(docs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, rel := range docs {
		g.Go(func() error {
			results[i], _ = s.upsert(ctx, runID, rel, opts)
			return nil
		})
	}
	_ = g.Wait()

	report := aggregate(results)
	s.finishRun(ctx, runID, report)
	s.logger.Info("sync finished",
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("placeholders", len(report.Placeholders)))
	return report
}

func (s *Service) upsert(ctx context.Context, runID, rel string, opts UpsertOptions) (types.UpsertResult, error) {
	log := s.logger.With(zap.String("document", rel))
	fail := func(err error) (types.UpsertResult, error) {
		log.Warn("upsert failed", zap.Error(err))
		return types.UpsertResult{OK: false, Origin: rel, Files: []string{}, Error: err.Error()}, err
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	doc, err := s.corpus.Load(rel)
	if err != nil {
		return fail(err)
	}
	rel = doc.Path

	unlock := s.locks.lock(filepath.Join(s.writer.Dir(doc.Path), synth.Stem(doc.Path)))
	defer unlock()

	if !opts.Force {
		if files, current := s.current(doc); current {
			log.Debug("cards current, skipping")
			return types.UpsertResult{
				OK:          true,
				Skipped:     true,
				Origin:      rel,
				Fingerprint: doc.Fingerprint,
				CardCount:   len(files),
				Files:       files,
			}, nil
		}
	}

	if s.synth == nil {
		return fail(ErrNoSynthesizer)
	}
	role := opts.Role
	if role == "" {
		role = s.role
	}
	out := s.synth.Run(ctx, doc, role)

	files, err := s.writer.Write(doc, out.Cards)
	if err != nil {
		return fail(fmt.Errorf("writing cards for %s: %w", rel, err))
	}

	quality := out.Quality
	res := types.UpsertResult{
		OK:          true,
		Origin:      rel,
		Fingerprint: doc.Fingerprint,
		CardCount:   len(files),
		Files:       files,
		Quality:     &quality,
	}
	if s.recorder != nil {
		if err := s.recorder.RecordDocument(ctx, runID, res, out.Cards); err != nil {
			log.Warn("journal write failed", zap.Error(err))
		}
	}
	log.Info("cards synchronized",
		zap.Int("cards", res.CardCount),
		zap.Bool("ok", quality.Judge.OK),
		zap.Bool("refined", quality.RefinementApplied),
		zap.Bool("placeholder", quality.Placeholder))
	return res, nil
}

// current reports whether doc has at least one card file and every one of
// them records doc's fingerprint.
func (s *Service) current(doc types.SourceDocument) ([]string, bool) {
	files, err := cardfile.List(s.writer.Dir(doc.Path), synth.Stem(doc.Path))
	if err != nil || len(files) == 0 {
		return nil, false
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil || fingerprint.IsStale(string(data), doc.Fingerprint) {
			return nil, false
		}
	}
	return files, true
}

// aggregate folds per-document results into a report.
func aggregate(results []types.UpsertResult) types.SyncReport {
	report := types.SyncReport{OK: true, Processed: len(results), Results: results}
	for _, r := range results {
		switch {
		case !r.OK:
			report.Failed++
		case r.Skipped:
			report.Skipped++
		case r.Placeholder():
			if report.Placeholders == nil {
				report.Placeholders = make(map[string]string)
			}
			report.Placeholders[r.Origin] = placeholderReason(r.Quality)
		}
	}
	return report
}

func placeholderReason(q *types.QualityMetadata) string {
	if q.GenerationError != "" {
		return "generation failed: " + q.GenerationError
	}
	return "generation failed"
}

func (s *Service) beginRun(ctx context.Context, kind string) string {
	if s.recorder == nil {
		return ""
	}
	id, err := s.recorder.BeginRun(ctx, kind)
	if err != nil {
		s.logger.Warn("journal run start failed", zap.Error(err))
	}
	return id
}

func (s *Service) finishRun(ctx context.Context, runID string, report types.SyncReport) {
	if s.recorder == nil || runID == "" {
		return
	}
	if err := s.recorder.FinishRun(context.WithoutCancel(ctx), runID, report); err != nil {
		s.logger.Warn("journal run finish failed", zap.Error(err))
	}
}

// Prune removes card files whose source document no longer exists.
func (s *Service) Prune(ctx context.Context) (types.PruneReport, error) {
	report := types.PruneReport{Removed: []string{}}
	docs, err := s.corpus.List()
	if err != nil {
		return report, err
	}
	live := make(map[string]bool, len(docs))
	for _, rel := range docs {
		live[path.Join(path.Dir(rel), synth.Stem(rel))] = true
	}

	root := s.writer.Root()
	var orphans []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		_, stem, ok := cardfile.ParseName(d.Name())
		if !ok {
			return nil
		}
		dir, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		if !live[path.Join(filepath.ToSlash(dir), stem)] {
			orphans = append(orphans, p)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("scanning cards: %w", err)
	}

	for _, p := range orphans {
		_, stem, _ := cardfile.ParseName(filepath.Base(p))
		unlock := s.locks.lock(filepath.Join(filepath.Dir(p), stem))
		err := os.Remove(p)
		unlock()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("removing orphaned card", zap.String("file", p), zap.Error(err))
			report.Failed = append(report.Failed, p)
			continue
		}
		report.Removed = append(report.Removed, p)
	}
	s.logger.Info("prune finished", zap.Int("removed", len(report.Removed)), zap.Int("failed", len(report.Failed)))
	return report, nil
}

// Listing returns the documents and card files, relative to the knowledge
// base root.
func (s *Service) Listing() (types.Listing, error) {
	docs, err := s.corpus.List()
	if err != nil {
		return types.Listing{}, err
	}
	root := s.writer.Root()
	l := types.Listing{
		Root:       filepath.Dir(s.corpus.Root()),
		OriginsDir: s.corpus.Root(),
		CardsDir:   root,
		Origins:    make([]string, 0, len(docs)),
		Cards:      []string{},
	}
	for _, rel := range docs {
		l.Origins = append(l.Origins, path.Join(s.corpus.Name(), rel))
	}

	base := filepath.Base(root)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() || filepath.Ext(d.Name()) != cardfile.Ext || d.Name() == ".gitkeep" {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		l.Cards = append(l.Cards, path.Join(base, filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return types.Listing{}, fmt.Errorf("listing cards: %w", err)
	}
	sort.Strings(l.Cards)
	l.OriginsCount = len(l.Origins)
	l.CardsCount = len(l.Cards)
	return l, nil
}

// stemLocks hands out one mutex per card directory and stem.
type stemLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *stemLocks) lock(key string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	m, ok := l.m[key]
	if !ok {
		m = &sync.Mutex{}
		l.m[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
