package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/walker"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/watcher"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
)

// Document results, also used as metric labels.
const (
	ResultNew       = "new"
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultRemoved   = "removed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// ProgressFunc receives (processed, total) after every document of a build.
type ProgressFunc func(done, total int)

// BuildReport summarises one build or refresh.
type BuildReport struct {
	Root      string        `json:"root"`
	New       int           `json:"new"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Removed   int           `json:"removed"`
	Skipped   int           `json:"skipped"`
	Failed    []error       `json:"-"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Indexed is the number of documents (re-)tokenized by the build.
func (r *BuildReport) Indexed() int {
	return r.New + r.Updated
}

func (r *BuildReport) String() string {
	return fmt.Sprintf("%d new, %d updated, %d unchanged, %d removed, %d skipped, %d failed in %s",
		r.New, r.Updated, r.Unchanged, r.Removed, r.Skipped, len(r.Failed), r.Elapsed.Round(time.Millisecond))
}

type Engine struct {
	store   *store.Store
	walker  *walker.Walker
	cfg     config.IndexConfig
	metrics *metrics.Metrics
	locks   *store.Locker
	buildMu sync.Mutex
	logger  *slog.Logger

	skippedMu sync.Mutex
	skipped   map[string]index.Document
}

// NewEngine opens (or creates) the persisted index of root. Nothing is
// indexed until Build is called.
func NewEngine(ctx context.Context, cfg config.IndexConfig, root string, m *metrics.Metrics) (*Engine, error) {
	st, err := store.Open(ctx, cfg.DataDir, root)
	if err != nil {
		return nil, err
	}
	w, err := walker.New(st.Root(), walker.Options{
		Extensions:  cfg.Extensions,
		Excludes:    cfg.Excludes,
		MaxFileSize: cfg.MaxFileSize,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	return &Engine{
		store:   st,
		walker:  w,
		cfg:     cfg,
		metrics: m,
		locks:   store.NewLocker(),
		logger:  slog.Default().With("component", "indexer", "root", st.Root()),
		skipped: make(map[string]index.Document),
	}, nil
}

// Build brings the index in line with the file tree: new and modified files
// are tokenized, vanished ones removed, unchanged ones left untouched.
// Unreadable files are listed in the report and never abort the build. On
// cancellation documents committed so far stay indexed.
func (e *Engine) Build(ctx context.Context, progress ProgressFunc) (*BuildReport, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	start := time.Now()
	report := &BuildReport{Root: e.Root()}

	same, err := e.store.Identity()
	if err != nil {
		return nil, err
	}
	if !same {
		if invErr := e.store.Invalidate(); invErr != nil {
			return nil, invErr
		}
		if _, statErr := os.Stat(e.Root()); statErr != nil {
			e.logger.Warn("root disappeared, index invalidated")
			return nil, fmt.Errorf("%w: %s", apperrors.ErrRootNotFound, e.Root())
		}
		e.logger.Info("root was replaced, rebuilding index")
	}

	docs, problems := e.walker.Walk(ctx)
	for _, p := range problems {
		if apperrors.IsCancelled(p) {
			return nil, p
		}
	}
	report.Failed = append(report.Failed, problems...)

	changes := e.store.Stale(docs)
	report.Unchanged = len(changes.Unchanged)
	for _, path := range changes.Deleted {
		if err := e.RemoveFile(path); err != nil {
			report.Failed = append(report.Failed, err)
			continue
		}
		report.Removed++
	}

	pending := changes.Pending()
	total := len(pending)
	var mu sync.Mutex
	done := 0
	if progress != nil {
		progress(0, total)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for _, doc := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := e.indexDocument(doc)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				e.logger.Warn("document failed", "path", doc.Path, "error", err)
				report.Failed = append(report.Failed, err)
			case result == ResultNew:
				report.New++
			case result == ResultUpdated:
				report.Updated++
			case result == ResultSkipped:
				report.Skipped++
			}
			done++
			if progress != nil {
				progress(done, total)
			}
			return nil
		})
	}
	waitErr := g.Wait()
	report.Elapsed = time.Since(start)
	e.record(report)

	if waitErr != nil || ctx.Err() != nil {
		cause := ctx.Err()
		if cause == nil {
			cause = waitErr
		}
		e.logger.Info("build cancelled", "progress", fmt.Sprintf("%d/%d", done, total), "summary", report.String())
		return nil, apperrors.Cancelled(cause)
	}

	e.logger.Info("build complete",
		"new", report.New,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"removed", report.Removed,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
		"elapsed", report.Elapsed.Round(time.Millisecond),
	)
	return report, nil
}

func (e *Engine) record(r *BuildReport) {
	e.metrics.AddDocuments(ResultNew, r.New)
	e.metrics.AddDocuments(ResultUpdated, r.Updated)
	e.metrics.AddDocuments(ResultUnchanged, r.Unchanged)
	e.metrics.AddDocuments(ResultRemoved, r.Removed)
	e.metrics.AddDocuments(ResultSkipped, r.Skipped)
	e.metrics.AddDocuments(ResultFailed, len(r.Failed))
	e.metrics.ObserveBuild(e.Root(), r.Elapsed, e.store.Index().DocCount())
}

func (e *Engine) workers() int {
	if e.cfg.Workers > 0 {
		return e.cfg.Workers
	}
	return 1
}

// indexDocument reads, tokenizes and stores one document. Binary files are
// skipped and remembered so later builds do not read them again. A document
// that cannot be read loses its previous postings until a later build reads
// it successfully.
func (e *Engine) indexDocument(doc index.Document) (string, error) {
	unlock := e.locks.Lock(doc.Path)
	defer unlock()

	if e.knownBinary(doc) {
		return ResultSkipped, nil
	}
	_, existed := e.store.Stored(doc.Path)

	data, err := os.ReadFile(doc.Path)
	if err != nil {
		if existed {
			if rerr := e.store.Remove(doc.Path); rerr != nil {
				e.logger.Warn("dropping unreadable document failed", "path", doc.Path, "error", rerr)
			}
		}
		return ResultFailed, &apperrors.IOError{Path: doc.Path, Op: "read", Err: err}
	}
	if walker.IsBinary(data) {
		e.skippedMu.Lock()
		e.skipped[doc.Path] = doc
		e.skippedMu.Unlock()
		if existed {
			if err := e.store.Remove(doc.Path); err != nil {
				return ResultFailed, err
			}
		}
		e.logger.Debug("skipping binary file", "path", doc.Path)
		return ResultSkipped, nil
	}

	tokens := tokenizer.Tokenize(data)
	if err := e.store.Put(doc, index.FromTokens(doc.Path, tokens)); err != nil {
		return ResultFailed, err
	}
	e.logger.Debug("document indexed", "path", doc.Path, "token_count", len(tokens))
	if existed {
		return ResultUpdated, nil
	}
	return ResultNew, nil
}

func (e *Engine) knownBinary(doc index.Document) bool {
	e.skippedMu.Lock()
	defer e.skippedMu.Unlock()
	prev, ok := e.skipped[doc.Path]
	if ok && !prev.SameVersion(doc) {
		delete(e.skipped, doc.Path)
		return false
	}
	return ok
}

// IndexFile updates a single document after a change notification. A file
// that vanished or is no longer indexable is removed. It returns the result
// label describing what happened.
func (e *Engine) IndexFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Cancelled(err)
	}
	path = filepath.Clean(path)
	if !e.Contains(path) {
		return "", fmt.Errorf("%w: %s is outside %s", apperrors.ErrInvalidInput, path, e.Root())
	}
	doc, ok, err := e.walker.Stat(path)
	if err != nil {
		e.metrics.AddDocuments(ResultFailed, 1)
		return ResultFailed, err
	}
	if !ok {
		if _, stored := e.store.Stored(path); !stored {
			return ResultUnchanged, nil
		}
		if err := e.RemoveFile(path); err != nil {
			return ResultFailed, err
		}
		e.metrics.AddDocuments(ResultRemoved, 1)
		return ResultRemoved, nil
	}
	if stored, has := e.store.Stored(path); has && stored.SameVersion(doc) {
		return ResultUnchanged, nil
	}
	result, err := e.indexDocument(doc)
	e.metrics.AddDocuments(result, 1)
	return result, err
}

// RemoveFile drops a document from the index.
func (e *Engine) RemoveFile(path string) error {
	unlock := e.locks.Lock(path)
	defer unlock()
	e.skippedMu.Lock()
	delete(e.skipped, path)
	e.skippedMu.Unlock()
	return e.store.Remove(path)
}

// RemoveTree drops every document at or below path and returns how many
// were removed.
func (e *Engine) RemoveTree(path string) (int, error) {
	path = filepath.Clean(path)
	prefix := path + string(filepath.Separator)
	removed := 0
	for _, doc := range e.Documents() {
		if doc.Path != path && !strings.HasPrefix(doc.Path, prefix) {
			continue
		}
		if err := e.RemoveFile(doc.Path); err != nil {
			return removed, err
		}
		removed++
	}
	e.metrics.AddDocuments(ResultRemoved, removed)
	return removed, nil
}

// Watch applies filesystem changes below the root until ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, onBatch watcher.BatchFunc) error {
	w := watcher.New(e.walker, e, e.cfg.WatchDebounce)
	if onBatch != nil {
		w.OnBatch(onBatch)
	}
	return w.Run(ctx)
}

// Contains reports whether path lies below the root.
func (e *Engine) Contains(path string) bool {
	rel, err := filepath.Rel(e.Root(), path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (e *Engine) Root() string {
	return e.store.Root()
}

// Index returns the query-time view of the index.
func (e *Engine) Index() *index.MemoryIndex {
	return e.store.Index()
}

func (e *Engine) Walker() *walker.Walker {
	return e.walker
}

// Recovered reports whether opening the index found it corrupt.
func (e *Engine) Recovered() bool {
	return e.store.Recovered
}

func (e *Engine) Documents() []index.Document {
	return e.store.Index().Documents()
}

func (e *Engine) Stats() index.Stats {
	return e.store.Index().Stats()
}

func (e *Engine) Close() error {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	if err := e.store.Close(); err != nil {
		e.logger.Error("closing index store", "error", err)
		return err
	}
	return nil
}
