// Package engine is the public entry point of codesearch. A presentation
// layer opens a root, searches it and navigates or exports the resulting
// session without touching the indexer or executor packages directly.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/filename"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/filter"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/session"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
)

// Options narrows a search.
type Options struct {
	CaseSensitive bool
	// ExtensionFilter items are "cpp", ".cpp", "*.cpp", "." or "-h".
	ExtensionFilter []string
	FolderFilter    string
	PathFilter      string
}

type openOptions struct {
	progress indexer.ProgressFunc
	metrics  *metrics.Metrics
	skip     bool
}

type Option func(*openOptions)

// WithProgress reports build progress as (processed, total).
func WithProgress(fn func(done, total int)) Option {
	return func(o *openOptions) { o.progress = fn }
}

// WithMetrics records indexing and search metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *openOptions) { o.metrics = m }
}

// WithoutBuild opens the persisted index as is. Call Refresh or BuildAsync
// to bring it up to date.
func WithoutBuild() Option {
	return func(o *openOptions) { o.skip = true }
}

// IndexHandle is an open, searchable index of one root.
type IndexHandle struct {
	engine   *indexer.Engine
	executor *executor.Executor
	progress indexer.ProgressFunc
	logger   *slog.Logger

	mu   sync.Mutex
	last *indexer.BuildReport
}

// OpenRoot opens the index of path and brings it up to date with the file
// tree. A nil cfg uses config.Default().
func OpenRoot(ctx context.Context, path string, cfg *config.Config, opts ...Option) (*IndexHandle, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &openOptions{}
	for _, opt := range opts {
		opt(o)
	}

	eng, err := indexer.NewEngine(ctx, cfg.Index, path, o.metrics)
	if err != nil {
		return nil, err
	}
	h := &IndexHandle{
		engine:   eng,
		executor: executor.New(cfg.Search, o.metrics),
		progress: o.progress,
		logger:   slog.Default().With("component", "engine", "root", eng.Root()),
	}
	if o.skip {
		return h, nil
	}
	if _, err := h.Refresh(ctx); err != nil {
		eng.Close()
		return nil, err
	}
	return h, nil
}

// Search compiles text and runs it against the index. A malformed query
// fails before anything is executed; zero matches is a successful, idle
// session.
func (h *IndexHandle) Search(ctx context.Context, text string, opts Options) (*session.Session, error) {
	q, err := parser.Parse(text, opts.CaseSensitive)
	if err != nil {
		return nil, err
	}
	f, err := filter.FromLists(opts.ExtensionFilter, opts.FolderFilter, opts.PathFilter)
	if err != nil {
		return nil, err
	}
	res, err := h.executor.Execute(ctx, h.engine.Index(), q, f)
	if err != nil {
		return nil, err
	}
	return session.New(q, res), nil
}

// SearchFiles finds documents by file name. name is matched exactly or
// with '*' and '?'; "name.ext" also restricts the extension unless
// opts.ExtensionFilter is set. CaseSensitive applies to the name.
func (h *IndexHandle) SearchFiles(ctx context.Context, name string, opts Options) (*filename.Result, error) {
	q, err := filename.Parse(name, opts.CaseSensitive, len(opts.ExtensionFilter) == 0)
	if err != nil {
		return nil, err
	}
	f, err := filter.FromLists(opts.ExtensionFilter, opts.FolderFilter, opts.PathFilter)
	if err != nil {
		return nil, err
	}
	return filename.Search(ctx, h.Documents(), q, f)
}

// Refresh re-indexes changed documents and drops removed ones.
func (h *IndexHandle) Refresh(ctx context.Context) (*indexer.BuildReport, error) {
	report, err := h.engine.Build(ctx, h.progress)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.last = report
	h.mu.Unlock()
	return report, nil
}

// Watch keeps the index current until ctx is cancelled.
func (h *IndexHandle) Watch(ctx context.Context) error {
	return h.engine.Watch(ctx, nil)
}

// BuildAsync runs Refresh on its own goroutine.
func (h *IndexHandle) BuildAsync(ctx context.Context) *Task[*indexer.BuildReport] {
	return start(ctx, h.Refresh)
}

// SearchAsync runs Search on its own goroutine.
func (h *IndexHandle) SearchAsync(ctx context.Context, text string, opts Options) *Task[*session.Session] {
	return start(ctx, func(ctx context.Context) (*session.Session, error) {
		return h.Search(ctx, text, opts)
	})
}

// LastBuild returns the report of the most recent successful build, or nil.
func (h *IndexHandle) LastBuild() *indexer.BuildReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Recovered reports whether the persisted index was found corrupt and
// rebuilt.
func (h *IndexHandle) Recovered() bool {
	return h.engine.Recovered()
}

func (h *IndexHandle) Root() string {
	return h.engine.Root()
}

func (h *IndexHandle) Documents() []index.Document {
	return h.engine.Documents()
}

func (h *IndexHandle) Stats() index.Stats {
	return h.engine.Stats()
}

func (h *IndexHandle) Close() error {
	return h.engine.Close()
}
