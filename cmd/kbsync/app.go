// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"

	"github.com/pdiddy/kbsync/internal/cardfile"
	"github.com/pdiddy/kbsync/internal/corpus"
	"github.com/pdiddy/kbsync/internal/journal"
	"github.com/pdiddy/kbsync/internal/llm"
	"github.com/pdiddy/kbsync/internal/synth"
	"github.com/pdiddy/kbsync/internal/syncer"
	"github.com/pdiddy/kbsync/pkg/types"
)

// app bundles the services a command works with.
type app struct {
	svc     *syncer.Service
	journal *journal.Store // nil when journaling is disabled
}

func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
}

// newApp wires the corpus, card writer, journal and, when withModel is
// set, the model-backed synthesis pipeline.
func newApp(ctx context.Context, c types.Config, withModel bool) (*app, error) {
	docs, err := corpus.New(c.KnowledgeBase.OriginsPath())
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	writer := cardfile.NewWriter(c.KnowledgeBase.CardsPath(), docs.Name(), logger.Named("cardfile"))

	opts := []syncer.Option{
		syncer.WithConcurrency(c.Sync.Concurrency),
		syncer.WithRole(c.Sync.Role),
		syncer.WithLogger(logger.Named("syncer")),
	}

	a := &app{}
	if !c.Journal.Disabled {
		j, err := journal.Open(c.Journal.DBPath(c.KnowledgeBase.Root))
		if err != nil {
			return nil, err
		}
		a.journal = j
		opts = append(opts, syncer.WithRecorder(j))
	}

	var sy syncer.Synthesizer
	if withModel {
		p, err := newPipeline(ctx, c.AI)
		if err != nil {
			a.Close()
			return nil, err
		}
		sy = p
	}
	a.svc = syncer.New(docs, writer, sy, opts...)
	return a, nil
}

func newPipeline(ctx context.Context, ai types.AIConfig) (*synth.Pipeline, error) {
	completer, err := llm.NewCompleter(ctx, ai, loadedSecrets)
	if err != nil {
		return nil, err
	}
	backend := llm.NewBackend(completer, ai, logger.Named("llm"))
	return synth.New(backend, backend,
		synth.WithDelay(ai.RequestDelay),
		synth.WithLogger(logger.Named("synth"))), nil
}

// requireJournal returns the journal or an error naming the setting.
func (a *app) requireJournal() (*journal.Store, error) {
	if a.journal == nil {
		return nil, fmt.Errorf("the journal is disabled (journal.disabled: true)")
	}
	return a.journal, nil
}
