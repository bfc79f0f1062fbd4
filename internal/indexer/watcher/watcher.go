// Package watcher keeps an index current by listening to filesystem events
// below its root and replaying them, debounced, as single-document updates.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/walker"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/resilience"
)

// Handler applies a change to the index.
type Handler interface {
	IndexFile(ctx context.Context, path string) (string, error)
	RemoveTree(dir string) (int, error)
}

// BatchFunc is called after every flushed batch with the number of paths
// processed.
type BatchFunc func(paths int, elapsed time.Duration)

type Watcher struct {
	walker   *walker.Walker
	handler  Handler
	debounce time.Duration
	onBatch  BatchFunc
	retry    resilience.RetryConfig
	logger   *slog.Logger
	pending  map[string]struct{}
}

func New(w *walker.Walker, h Handler, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		walker:   w,
		handler:  h,
		debounce: debounce,
		// Editors may still hold a file open when its event arrives.
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialDelay:   50 * time.Millisecond,
			MaxDelay:       500 * time.Millisecond,
			JitterFraction: 0.1,
			Retryable:      func(err error) bool { return errors.Is(err, apperrors.ErrIO) },
		},
		logger:  slog.Default().With("component", "watcher", "root", w.Root()),
		pending: make(map[string]struct{}),
	}
}

// OnBatch registers a callback for flushed batches.
func (w *Watcher) OnBatch(fn BatchFunc) {
	w.onBatch = fn
}

// Run watches the root until ctx is cancelled. Pending events are dropped
// on shutdown; the next build picks them up.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.walker.Root(), false); err != nil {
		return fmt.Errorf("watching %s: %w", w.walker.Root(), err)
	}
	w.logger.Info("watching for changes", "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping", "dropped_events", len(w.pending))
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(fsw, event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// handleEvent queues the paths touched by event. It reports whether
// anything was queued.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) bool {
	path := filepath.Clean(event.Name)
	if w.walker.Excluded(path) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// Files may land in a new directory before its watch exists.
			if err := w.addTree(fsw, path, true); err != nil {
				w.logger.Warn("watching new directory failed", "path", path, "error", err)
			}
			return true
		}
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.pending[path] = struct{}{}
		return true
	}
	return false
}

// addTree registers watches for dir and its sub-directories. With queue set
// the files found are queued for indexing.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string, queue bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if queue {
				w.pending[path] = struct{}{}
			}
			return nil
		}
		if path != w.walker.Root() && w.walker.Excluded(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("adding watch failed", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	start := time.Now()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	sort.Strings(paths)

	counts := make(map[string]int)
	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			// A vanished path may have been a directory full of documents.
			if n, err := w.handler.RemoveTree(path); err != nil {
				w.logger.Warn("removing vanished tree failed", "path", path, "error", err)
			} else if n > 0 {
				counts["removed"] += n
				continue
			}
		}
		var result string
		err := resilience.Retry(ctx, "index "+path, w.retry, func() error {
			var err error
			result, err = w.handler.IndexFile(ctx, path)
			return err
		})
		if err != nil {
			w.logger.Warn("updating document failed", "path", path, "error", err)
			counts["failed"]++
			continue
		}
		counts[result]++
	}

	elapsed := time.Since(start)
	w.logger.Info("applied file changes", "paths", len(paths), "results", counts, "elapsed", elapsed.Round(time.Millisecond))
	if w.onBatch != nil {
		w.onBatch(len(paths), elapsed)
	}
}
