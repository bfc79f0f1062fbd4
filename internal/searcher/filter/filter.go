// Package filter restricts a search to documents by extension, folder and
// file name before any posting is read.
package filter

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

type item struct {
	text string
	glob bool
}

// set is a comma-separated include/exclude list. A document is rejected by
// any matching exclude item and, when include items exist, must match one.
type set struct {
	include []item
	exclude []item
}

func (s set) empty() bool {
	return len(s.include) == 0 && len(s.exclude) == 0
}

func (s set) match(fn func(item) bool) bool {
	for _, it := range s.exclude {
		if fn(it) {
			return false
		}
	}
	if len(s.include) == 0 {
		return true
	}
	for _, it := range s.include {
		if fn(it) {
			return true
		}
	}
	return false
}

type Filter struct {
	extensions set
	folders    set
	names      set
}

// Parse builds a filter from the three user-facing filter strings. Each is
// a comma-separated list where a leading '-' excludes. Extensions accept
// "cpp", ".cpp", "*.cpp" and "." for files without an extension. Folder and
// name items containing '*', '?' or '[' are doublestar globs; anything else
// matches as a case-insensitive substring.
func Parse(extensions, folders, names string) (*Filter, error) {
	f := &Filter{}
	f.extensions = parseList(extensions, normalizeExtension)

	var err error
	if f.folders, err = parseGlobList("folder", folders); err != nil {
		return nil, err
	}
	if f.names, err = parseGlobList("path", names); err != nil {
		return nil, err
	}
	return f, nil
}

// FromLists builds a filter from already split extension items.
func FromLists(extensions []string, folders, names string) (*Filter, error) {
	return Parse(strings.Join(extensions, ","), folders, names)
}

func parseList(text string, normalize func(string) item) set {
	var s set
	for _, raw := range strings.Split(strings.ToLower(text), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		negate := strings.HasPrefix(raw, "-")
		it := normalize(strings.TrimSpace(strings.TrimPrefix(raw, "-")))
		if negate {
			s.exclude = append(s.exclude, it)
		} else {
			s.include = append(s.include, it)
		}
	}
	return s
}

func parseGlobList(field, text string) (set, error) {
	s := parseList(text, func(raw string) item {
		raw = filepath.ToSlash(raw)
		return item{text: raw, glob: strings.ContainsAny(raw, "*?[")}
	})
	for _, it := range append(s.include, s.exclude...) {
		if it.glob && !doublestar.ValidatePattern(it.text) {
			return set{}, fmt.Errorf("%w: bad %s pattern %q", apperrors.ErrInvalidInput, field, it.text)
		}
	}
	return s, nil
}

func normalizeExtension(raw string) item {
	raw = strings.TrimPrefix(raw, "*")
	if !strings.HasPrefix(raw, ".") {
		raw = "." + raw
	}
	if raw == "." {
		raw = ""
	}
	return item{text: raw}
}

// Empty reports whether the filter accepts every document.
func (f *Filter) Empty() bool {
	return f == nil || (f.extensions.empty() && f.folders.empty() && f.names.empty())
}

// Match reports whether doc passes every sub-filter.
func (f *Filter) Match(doc index.Document) bool {
	if f.Empty() {
		return true
	}
	ext := strings.ToLower(filepath.Ext(doc.Path))
	if !f.extensions.match(func(it item) bool { return it.text == ext }) {
		return false
	}

	dir := strings.ToLower(filepath.ToSlash(filepath.Dir(doc.Path)))
	if !f.folders.match(func(it item) bool { return matchFolder(it, dir) }) {
		return false
	}

	name := strings.ToLower(filepath.Base(doc.Path))
	return f.names.match(func(it item) bool {
		if it.glob {
			return doublestar.MatchUnvalidated(it.text, name)
		}
		return strings.Contains(name, it.text)
	})
}

// Apply returns the documents passing the filter, keeping their order.
func (f *Filter) Apply(docs []index.Document) []index.Document {
	if f.Empty() {
		return docs
	}
	out := make([]index.Document, 0, len(docs))
	for _, doc := range docs {
		if f.Match(doc) {
			out = append(out, doc)
		}
	}
	return out
}

// matchFolder matches a glob against every contiguous run of directory
// components, so "src/*" finds "/home/me/src/net" as well as "/src/io".
func matchFolder(it item, dir string) bool {
	if !it.glob {
		return strings.Contains(dir, it.text)
	}
	parts := strings.FieldsFunc(dir, func(r rune) bool { return r == '/' })
	for i := range parts {
		for j := i + 1; j <= len(parts); j++ {
			if doublestar.MatchUnvalidated(it.text, strings.Join(parts[i:j], "/")) {
				return true
			}
		}
	}
	return false
}
