// Package filename finds indexed documents by file name instead of content.
// A name is matched exactly or with '*' and '?' wildcards; "name.ext" also
// restricts the extension unless the caller passes an extension filter.
package filename

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/filter"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

// PhaseFind is the only phase of a file name search.
const PhaseFind = "Finding documents"

const checkEvery = 1024

type Query struct {
	Raw           string
	CaseSensitive bool

	name string
	ext  string
	glob bool
}

type Result struct {
	Query     string           `json:"query"`
	Documents []index.Document `json:"documents"`
	Elapsed   time.Duration    `json:"elapsed"`
	Report    *executor.Report `json:"report"`
}

// Parse compiles a file name query. With splitExtension set, text after the
// last '.' becomes an extension pattern; ".*" accepts any extension.
func Parse(text string, caseSensitive, splitExtension bool) (*Query, error) {
	raw := text
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &apperrors.QueryError{Query: raw, Pos: -1, Reason: "empty file name"}
	}
	if i := strings.IndexAny(text, `/\`); i >= 0 {
		return nil, &apperrors.QueryError{Query: raw, Pos: i, Reason: "file name must not contain a path separator"}
	}

	q := &Query{Raw: raw, CaseSensitive: caseSensitive}
	name := text
	if splitExtension {
		if i := strings.LastIndexByte(text, '.'); i >= 0 {
			name = text[:i]
			if ext := text[i:]; ext != ".*" {
				q.ext = escape(strings.ToLower(ext))
			}
		}
	}
	if name == "" {
		name = "*"
	}
	if !caseSensitive {
		name = strings.ToLower(name)
	}
	q.glob = strings.ContainsAny(name, "*?")
	q.name = name
	if q.glob {
		q.name = escape(name)
	}
	return q, nil
}

// escape quotes every glob meta character except '*' and '?'.
func escape(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '[', ']', '{', '}', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Match reports whether the file name of doc satisfies q.
func (q *Query) Match(doc index.Document) bool {
	base := filepath.Base(doc.Path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if !q.CaseSensitive {
		name = strings.ToLower(name)
	}
	if q.ext != "" && !doublestar.MatchUnvalidated(q.ext, strings.ToLower(ext)) {
		return false
	}
	if q.glob {
		return doublestar.MatchUnvalidated(q.name, name)
	}
	return q.name == name
}

// Search returns the documents of docs whose file name matches q and that
// pass f, in path order.
func Search(ctx context.Context, docs []index.Document, q *Query, f *filter.Filter) (*Result, error) {
	start := time.Now()
	res := &Result{Query: q.Raw, Documents: []index.Document{}, Report: &executor.Report{}}
	phase := res.Report.Begin(PhaseFind)
	for i, doc := range f.Apply(docs) {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, apperrors.Cancelled(err)
			}
		}
		if q.Match(doc) {
			res.Documents = append(res.Documents, doc)
		}
	}
	phase.Notef("%d matches", len(res.Documents))
	phase.End()
	res.Elapsed = time.Since(start)

	slog.Debug("file name search executed",
		"component", "filename-search",
		"query", q.Raw,
		"documents", len(docs),
		"matches", len(res.Documents),
		"elapsed", res.Elapsed,
	)
	return res, nil
}
