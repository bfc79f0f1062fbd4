// Package walker enumerates the indexable files below a root directory,
// applying extension and doublestar exclude rules.
package walker

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

// SniffSize is how much of a file is inspected for NUL bytes.
const SniffSize = 8 * 1024

type Options struct {
	// Extensions are normalised (".go", "" for no extension). Empty means all.
	Extensions []string
	// Excludes are doublestar globs matched against the slash-separated path
	// relative to the root.
	Excludes    []string
	MaxFileSize int64
}

type Walker struct {
	root     string
	exts     map[string]struct{}
	excludes []string
	maxSize  int64
	logger   *slog.Logger
}

func New(root string, opts Options) (*Walker, error) {
	for _, pattern := range opts.Excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: bad exclude pattern %q", apperrors.ErrInvalidInput, pattern)
		}
	}
	w := &Walker{
		root:     root,
		excludes: opts.Excludes,
		maxSize:  opts.MaxFileSize,
		logger:   slog.Default().With("component", "walker"),
	}
	if len(opts.Extensions) > 0 {
		w.exts = make(map[string]struct{}, len(opts.Extensions))
		for _, ext := range opts.Extensions {
			w.exts[ext] = struct{}{}
		}
	}
	return w, nil
}

func (w *Walker) Root() string {
	return w.root
}

// Walk returns every indexable document sorted by path. Unreadable
// directories are reported as IOErrors and skipped.
func (w *Walker) Walk(ctx context.Context) ([]index.Document, []error) {
	var docs []index.Document
	var problems []error
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == w.root {
				return err
			}
			problems = append(problems, &apperrors.IOError{Path: path, Op: "walk", Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != w.root && w.Excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			problems = append(problems, &apperrors.IOError{Path: path, Op: "stat", Err: err})
			return nil
		}
		if !w.Accept(path, info) {
			return nil
		}
		docs = append(docs, index.NewDocument(path, info.Size(), info.ModTime()))
		return nil
	})
	if err != nil {
		if apperrors.IsCancelled(err) {
			return nil, []error{apperrors.Cancelled(err)}
		}
		return nil, []error{&apperrors.IOError{Path: w.root, Op: "walk", Err: err}}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, problems
}

// Accept reports whether a regular file passes the extension, exclude and
// size rules. It does not look at the file contents.
func (w *Walker) Accept(path string, info fs.FileInfo) bool {
	if info.IsDir() || !info.Mode().IsRegular() {
		return false
	}
	if w.maxSize > 0 && info.Size() > w.maxSize {
		w.logger.Debug("skipping oversized file", "path", path, "size", info.Size())
		return false
	}
	if !w.MatchesExtension(path) {
		return false
	}
	return !w.Excluded(path)
}

func (w *Walker) MatchesExtension(path string) bool {
	if w.exts == nil {
		return true
	}
	_, ok := w.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Excluded reports whether path, or any directory above it, matches one of
// the exclude globs.
func (w *Walker) Excluded(path string) bool {
	if len(w.excludes) == 0 {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.excludes {
		if doublestar.MatchUnvalidated(pattern, rel) {
			return true
		}
	}
	return false
}

// IsBinary reports whether data looks like a binary file.
func IsBinary(data []byte) bool {
	if len(data) > SniffSize {
		data = data[:SniffSize]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// Stat returns the document metadata for a single file, or ok=false when the
// file is missing or not indexable.
func (w *Walker) Stat(path string) (doc index.Document, ok bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return index.Document{}, false, nil
		}
		return index.Document{}, false, &apperrors.IOError{Path: path, Op: "stat", Err: err}
	}
	if !w.Accept(path, info) {
		return index.Document{}, false, nil
	}
	return index.NewDocument(path, info.Size(), info.ModTime()), true, nil
}
