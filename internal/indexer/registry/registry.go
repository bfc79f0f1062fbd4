// Package registry keeps one indexer.Engine per indexed root. Each root owns
// its own store under the shared data directory, and the Registry hands out
// the engine responsible for a root, opening it on first use.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
)

// Registry maps absolute root paths to their engines.
type Registry struct {
	engines map[string]*indexer.Engine
	mu      sync.RWMutex
	// opening serialises Open so a root's store is never opened twice.
	opening sync.Mutex
	cfg     config.IndexConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(cfg config.IndexConfig, m *metrics.Metrics) *Registry {
	return &Registry{
		engines: make(map[string]*indexer.Engine),
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "registry"),
	}
}

// Open returns the engine of root, opening its store when the root has not
// been seen before. The engine is not built; callers decide when to Build.
func (r *Registry) Open(ctx context.Context, root string) (*indexer.Engine, bool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, false, fmt.Errorf("%w: resolving root %q: %v", apperrors.ErrInvalidInput, root, err)
	}

	r.mu.RLock()
	eng, ok := r.engines[abs]
	r.mu.RUnlock()
	if ok {
		return eng, false, nil
	}

	// Loading segments can take a while; other roots stay available.
	r.opening.Lock()
	defer r.opening.Unlock()
	r.mu.RLock()
	eng, ok = r.engines[abs]
	r.mu.RUnlock()
	if ok {
		return eng, false, nil
	}
	eng, err = indexer.NewEngine(ctx, r.cfg, abs, r.metrics)
	if err != nil {
		return nil, false, fmt.Errorf("opening index for %s: %w", abs, err)
	}
	r.mu.Lock()
	r.engines[abs] = eng
	r.mu.Unlock()
	r.logger.Info("root registered",
		"root", abs,
		"documents", len(eng.Documents()),
		"recovered", eng.Recovered(),
	)
	return eng, true, nil
}

// Get returns the engine of an already opened root.
func (r *Registry) Get(root string) (*indexer.Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving root %q: %v", apperrors.ErrInvalidInput, root, err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	eng, ok := r.engines[abs]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not indexed", apperrors.ErrRootNotFound, abs)
	}
	return eng, nil
}

// Roots returns the registered roots in sorted order.
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roots := make([]string, 0, len(r.engines))
	for root := range r.engines {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Forget closes and unregisters a root. Its persisted index stays on disk.
func (r *Registry) Forget(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("%w: resolving root %q: %v", apperrors.ErrInvalidInput, root, err)
	}
	r.mu.Lock()
	eng, ok := r.engines[abs]
	delete(r.engines, abs)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s is not indexed", apperrors.ErrRootNotFound, abs)
	}
	return eng.Close()
}

// BuildAll refreshes every registered root in turn. A root that fails is
// logged and the remaining roots are still built; the first error is
// returned.
func (r *Registry) BuildAll(ctx context.Context) (map[string]*indexer.BuildReport, error) {
	reports := make(map[string]*indexer.BuildReport)
	var firstErr error
	for _, root := range r.Roots() {
		eng, err := r.Get(root)
		if err != nil {
			continue
		}
		report, err := eng.Build(ctx, nil)
		if err != nil {
			if apperrors.IsCancelled(err) {
				return reports, err
			}
			r.logger.Error("build failed", "root", root, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reports[root] = report
	}
	return reports, firstErr
}

// Close closes every engine.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for root, eng := range r.engines {
		if err := eng.Close(); err != nil {
			r.logger.Error("close failed", "root", root, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.engines = make(map[string]*indexer.Engine)
	return firstErr
}
