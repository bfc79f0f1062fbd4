// Package store persists the index of one root directory. Each root gets a
// directory keyed by the xxhash of its absolute path holding a SQLite catalog
// and one segment file per document. The in-memory index is the query-time
// view; every Put is durable before it becomes visible there.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

const (
	catalogFile = "catalog.db"
	segmentsDir = "segments"
)

var errRootChanged = errors.New("root identity changed")

// Changes classifies live documents against the stored ones.
type Changes struct {
	New       []index.Document
	Changed   []index.Document
	Unchanged []index.Document
	Deleted   []string
}

// Pending returns the documents that need (re-)indexing, in path order.
func (c Changes) Pending() []index.Document {
	out := make([]index.Document, 0, len(c.New)+len(c.Changed))
	out = append(out, c.New...)
	out = append(out, c.Changed...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

type Store struct {
	root     string
	identity string
	dir      string
	cat      *catalog
	writer   *segment.Writer
	mem      *index.MemoryIndex
	locks    *Locker
	logger   *slog.Logger

	mu   sync.RWMutex
	rows map[string]docRow

	// Recovered is set when Open found a corrupt store and rebuilt it empty.
	Recovered bool
}

// Key returns the directory name used for a root.
func Key(root string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(root))
}

// Dir returns where the store for root lives below dataDir.
func Dir(dataDir, root string) string {
	return filepath.Join(dataDir, Key(root))
}

// Open loads the persisted index of root, validating every structure. A
// corrupt store is wiped and reopened empty; a store whose root was replaced
// is invalidated the same way. A missing root yields ErrRootNotFound and
// removes any persisted state for it.
func Open(ctx context.Context, dataDir, root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}
	dir := Dir(dataDir, abs)
	logger := slog.Default().With("component", "store", "root", abs)

	identity, err := rootIdentity(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				logger.Warn("removing stale index failed", "error", rmErr)
			}
			return nil, fmt.Errorf("%w: %s", apperrors.ErrRootNotFound, abs)
		}
		return nil, &apperrors.IOError{Path: abs, Op: "stat root", Err: err}
	}

	s := &Store{
		root:     abs,
		identity: identity,
		dir:      dir,
		writer:   segment.NewWriter(filepath.Join(dir, segmentsDir)),
		mem:      index.NewMemoryIndex(),
		locks:    NewLocker(),
		logger:   logger,
		rows:     make(map[string]docRow),
	}

	err = s.load(ctx)
	switch {
	case err == nil:
		return s, nil
	case apperrors.IsCancelled(err):
		return nil, apperrors.Cancelled(err)
	case errors.Is(err, apperrors.ErrIndexCorrupt):
		logger.Warn("index corrupt, rebuilding from scratch", "error", err)
		s.Recovered = true
	case errors.Is(err, errRootChanged):
		logger.Info("root was replaced, discarding its index")
	default:
		return nil, err
	}

	if err := s.wipe(); err != nil {
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		return nil, fmt.Errorf("reopening rebuilt index: %w", err)
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.dir, segmentsDir), 0755); err != nil {
		return &apperrors.IOError{Path: s.dir, Op: "create index directory", Err: err}
	}
	catPath := filepath.Join(s.dir, catalogFile)
	cat, err := openCatalog(catPath)
	if err != nil {
		return apperrors.Corruptf(catPath, "%v", err)
	}
	s.cat = cat

	if err := s.validateMeta(ctx); err != nil {
		return s.abort(err)
	}
	rows, err := cat.documents(ctx)
	if err != nil {
		return s.abort(apperrors.Corruptf(catPath, "%v", err))
	}
	if err := s.loadSegments(ctx, rows); err != nil {
		return s.abort(err)
	}
	s.collectOrphans()

	s.logger.Info("index loaded",
		"documents", len(rows),
		"terms", s.mem.Stats().Terms,
		"dir", s.dir,
	)
	return nil
}

func (s *Store) abort(err error) error {
	s.cat.Close()
	s.cat = nil
	s.mem.Reset()
	s.mu.Lock()
	s.rows = make(map[string]docRow)
	s.mu.Unlock()
	return err
}

func (s *Store) validateMeta(ctx context.Context) error {
	catPath := s.cat.path
	if err := s.cat.integrity(ctx); err != nil {
		return apperrors.Corruptf(catPath, "%v", err)
	}
	schema, _, err := s.cat.meta(metaSchema)
	if err != nil {
		return apperrors.Corruptf(catPath, "%v", err)
	}
	if schema != SchemaVersion {
		return apperrors.Corruptf(catPath, "schema %q, want %q", schema, SchemaVersion)
	}

	root, ok, err := s.cat.meta(metaRoot)
	if err != nil {
		return apperrors.Corruptf(catPath, "%v", err)
	}
	if ok && root != s.root {
		return apperrors.Corruptf(catPath, "catalog belongs to %q", root)
	}
	if !ok {
		if err := s.cat.setMeta(metaRoot, s.root); err != nil {
			return err
		}
	}

	identity, ok, err := s.cat.meta(metaIdentity)
	if err != nil {
		return apperrors.Corruptf(catPath, "%v", err)
	}
	if ok && identity != s.identity {
		return errRootChanged
	}
	if !ok {
		return s.cat.setMeta(metaIdentity, s.identity)
	}
	return nil
}

func (s *Store) loadSegments(ctx context.Context, rows []docRow) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, row := range rows {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			segPath := filepath.Join(s.writer.Dir(), row.Segment)
			seg, err := segment.Read(segPath)
			if err != nil {
				return apperrors.Corruptf(segPath, "%v", err)
			}
			if seg.Document.Path != row.Doc.Path || seg.Checksum != row.Checksum {
				return apperrors.Corruptf(segPath, "segment does not match catalog row for %s", row.Doc.Path)
			}
			s.mem.Put(row.Doc, seg.Postings)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, row := range rows {
		s.rows[row.Doc.Path] = row
	}
	s.mu.Unlock()
	return nil
}

// collectOrphans removes segment files that no catalog row references,
// typically left behind by a crash between writing a segment and committing
// its row.
func (s *Store) collectOrphans() {
	entries, err := os.ReadDir(s.writer.Dir())
	if err != nil {
		s.logger.Warn("listing segments failed", "error", err)
		return
	}
	live := make(map[string]struct{}, len(s.rows))
	s.mu.RLock()
	for _, row := range s.rows {
		live[row.Segment] = struct{}{}
	}
	s.mu.RUnlock()

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := live[entry.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.writer.Dir(), entry.Name())); err != nil {
			s.logger.Warn("removing orphan segment failed", "segment", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("orphan segments removed", "count", removed)
	}
}

func (s *Store) wipe() error {
	if s.cat != nil {
		s.cat.Close()
		s.cat = nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return &apperrors.IOError{Path: s.dir, Op: "remove index", Err: err}
	}
	return nil
}

// Put durably replaces all postings of doc and then swaps them into the
// in-memory index. On error neither view changes.
func (s *Store) Put(doc index.Document, postings index.PostingList) error {
	unlock := s.locks.Lock(doc.Path)
	defer unlock()

	name, checksum, err := s.writer.Write(doc, postings)
	if err != nil {
		return &apperrors.IOError{Path: doc.Path, Op: "write segment", Err: err}
	}
	row := docRow{Doc: doc, Segment: name, Checksum: checksum, Postings: len(postings)}
	if err := s.cat.upsert(row); err != nil {
		s.removeSegment(name)
		return &apperrors.IOError{Path: doc.Path, Op: "update catalog", Err: err}
	}
	s.mem.Put(doc, postings)

	s.mu.Lock()
	old, existed := s.rows[doc.Path]
	s.rows[doc.Path] = row
	s.mu.Unlock()

	if existed && old.Segment != name {
		s.removeSegment(old.Segment)
	}
	return nil
}

// Remove drops a document from the catalog, the index and disk.
func (s *Store) Remove(path string) error {
	unlock := s.locks.Lock(path)
	defer unlock()

	s.mu.RLock()
	old, existed := s.rows[path]
	s.mu.RUnlock()
	if !existed {
		return nil
	}
	if err := s.cat.delete(path); err != nil {
		return &apperrors.IOError{Path: path, Op: "update catalog", Err: err}
	}
	s.mem.Remove(path)
	s.mu.Lock()
	delete(s.rows, path)
	s.mu.Unlock()
	s.removeSegment(old.Segment)
	return nil
}

// Invalidate drops every document, keeping the store usable. If the root
// still exists its current identity is recorded.
func (s *Store) Invalidate() error {
	if err := s.cat.clear(); err != nil {
		return err
	}
	s.mem.Reset()
	s.mu.Lock()
	s.rows = make(map[string]docRow)
	s.mu.Unlock()
	s.collectOrphans()

	identity, err := rootIdentity(s.root)
	if err != nil {
		return nil
	}
	s.identity = identity
	return s.cat.setMeta(metaIdentity, identity)
}

func (s *Store) removeSegment(name string) {
	if err := os.Remove(filepath.Join(s.writer.Dir(), name)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing old segment failed", "segment", name, "error", err)
	}
}

// Stale compares the live file set against the stored documents.
func (s *Store) Stale(live []index.Document) Changes {
	var c Changes
	seen := make(map[string]struct{}, len(live))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range live {
		seen[doc.Path] = struct{}{}
		row, ok := s.rows[doc.Path]
		switch {
		case !ok:
			c.New = append(c.New, doc)
		case row.Doc.SameVersion(doc):
			c.Unchanged = append(c.Unchanged, doc)
		default:
			c.Changed = append(c.Changed, doc)
		}
	}
	for path := range s.rows {
		if _, ok := seen[path]; !ok {
			c.Deleted = append(c.Deleted, path)
		}
	}
	sort.Strings(c.Deleted)
	return c
}

// Stored returns the stored metadata of one document.
func (s *Store) Stored(path string) (index.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[path]
	return row.Doc, ok
}

// Identity reports whether root still exists with the identity it had when
// the store was opened.
func (s *Store) Identity() (bool, error) {
	identity, err := rootIdentity(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &apperrors.IOError{Path: s.root, Op: "stat root", Err: err}
	}
	return identity == s.identity, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Dir() string {
	return s.dir
}

// Index returns the in-memory query view.
func (s *Store) Index() *index.MemoryIndex {
	return s.mem
}

func (s *Store) Close() error {
	if s.cat == nil {
		return nil
	}
	err := s.cat.Close()
	s.cat = nil
	return err
}
