// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package watch reports changed source documents under a directory tree.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pdiddy/kbsync/internal/corpus"
)

// DefaultDebounce is the quiet period a path needs before its event fires.
const DefaultDebounce = 500 * time.Millisecond

// Op is the kind of change reported for a document.
type Op string

const (
	Changed Op = "changed"
	Removed Op = "removed"
)

// Event is a debounced change of one supported document.
type Event struct {
	// Path is slash-separated and relative to the watched root.
	Path string
	Op   Op
}

// Handler receives events one at a time, in firing order.
type Handler func(ctx context.Context, ev Event)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the per-path quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher watches a directory tree recursively. Directories created while
// running are added on the fly; dot directories are never watched.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *zap.Logger
	fsw      *fsnotify.Watcher
}

// New starts watching root. The watch is active when New returns; call
// Run to receive events.
func New(root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	w := &Watcher{root: abs, debounce: DefaultDebounce, logger: zap.NewNop()}
	for _, o := range opts {
		o(w)
	}

	w.fsw, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.addTree(abs); err != nil {
		w.fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers debounced events to h until ctx is cancelled, then closes
// the underlying watcher. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	defer w.fsw.Close()
	w.logger.Info("watching", zap.String("root", w.root))

	fire := make(chan Event)
	done := make(chan struct{})
	defer close(done)

	type pendingEvent struct {
		t  *time.Timer
		op Op
	}
	var (
		mu      sync.Mutex
		pending = make(map[string]*pendingEvent)
	)
	schedule := func(rel string, op Op) {
		mu.Lock()
		defer mu.Unlock()
		if p, ok := pending[rel]; ok && p.t.Stop() {
			p.op = op
			p.t.Reset(w.debounce)
			return
		}
		p := &pendingEvent{op: op}
		pending[rel] = p
		p.t = time.AfterFunc(w.debounce, func() {
			mu.Lock()
			if pending[rel] == p {
				delete(pending, rel)
			}
			ev := Event{Path: rel, Op: p.op}
			mu.Unlock()
			select {
			case fire <- ev:
			case <-done:
			}
		})
	}
	defer func() {
		mu.Lock()
		for _, p := range pending {
			p.t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch stopped")
			return nil

		case ev := <-fire:
			w.logger.Debug("document event", zap.String("path", ev.Path), zap.String("op", string(ev.Op)))
			h(ctx, ev)

		case fe, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fe, schedule)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(fe fsnotify.Event, schedule func(string, Op)) {
	if fe.Has(fsnotify.Create) {
		if info, err := os.Stat(fe.Name); err == nil && info.IsDir() {
			if hidden(filepath.Base(fe.Name)) {
				return
			}
			if err := w.addTree(fe.Name); err != nil {
				w.logger.Warn("watching new directory failed", zap.String("path", fe.Name), zap.Error(err))
			}
			// Files may land before the directory is watched.
			w.scan(fe.Name, schedule)
			return
		}
	}

	rel, ok := w.relevant(fe.Name)
	if !ok {
		return
	}
	switch {
	case fe.Has(fsnotify.Create), fe.Has(fsnotify.Write):
		schedule(rel, Changed)
	case fe.Has(fsnotify.Remove), fe.Has(fsnotify.Rename):
		schedule(rel, Removed)
	}
}

// relevant maps an absolute path to its relative slash path when it names
// a supported document outside dot directories.
func (w *Watcher) relevant(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if hidden(part) {
			return "", false
		}
	}
	if !corpus.Supported(rel) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) scan(dir string, schedule func(string, Op)) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dir && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if rel, ok := w.relevant(p); ok && d.Type().IsRegular() {
			schedule(rel, Changed)
		}
		return nil
	})
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p != root {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
