// Package session holds the outcome of one search and a cursor over its
// matches, and exports the matches as a flat report.
package session

import (
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/parser"
)

// Match is the match under the cursor.
type Match struct {
	Document  index.Document `json:"document"`
	Span      executor.Span  `json:"span"`
	DocIndex  int            `json:"doc_index"`
	SpanIndex int            `json:"span_index"`
}

// Session is a finished search plus a cursor. The cursor never wraps: moving
// past either end leaves it where it is.
type Session struct {
	query  *parser.Query
	result *executor.Result

	mu   sync.Mutex
	doc  int
	span int
}

// New starts a session on the first match, or idle when there is none.
func New(q *parser.Query, res *executor.Result) *Session {
	if res == nil {
		res = &executor.Result{Report: &executor.Report{}}
	}
	return &Session{query: q, result: res}
}

func (s *Session) Query() *parser.Query {
	return s.query
}

func (s *Session) Matches() []executor.MatchResult {
	return s.result.Matches
}

func (s *Session) MatchCount() int {
	return s.result.MatchCount
}

func (s *Session) Elapsed() time.Duration {
	return s.result.Elapsed
}

// Report returns the per-phase performance report of the search.
func (s *Session) Report() *executor.Report {
	return s.result.Report
}

// Result returns the raw search result.
func (s *Session) Result() *executor.Result {
	return s.result
}

func (s *Session) idle() bool {
	return len(s.result.Matches) == 0
}

// Current returns the selected match, or false when the session is idle.
func (s *Session) Current() (Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle() {
		return Match{}, false
	}
	return s.currentLocked(), true
}

func (s *Session) currentLocked() Match {
	m := s.result.Matches[s.doc]
	return Match{
		Document:  m.Document,
		Span:      m.Spans[s.span],
		DocIndex:  s.doc,
		SpanIndex: s.span,
	}
}

// Position returns the 0-based ordinal of the selected match among all
// matches, or -1 when idle.
func (s *Session) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle() {
		return -1
	}
	pos := s.span
	for _, m := range s.result.Matches[:s.doc] {
		pos += len(m.Spans)
	}
	return pos
}

// Next moves to the following match. It reports false at the last match.
func (s *Session) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle() {
		return false
	}
	switch {
	case s.span+1 < len(s.result.Matches[s.doc].Spans):
		s.span++
	case s.doc+1 < len(s.result.Matches):
		s.doc++
		s.span = 0
	default:
		return false
	}
	return true
}

// Previous moves to the preceding match. It reports false at the first
// match.
func (s *Session) Previous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle() {
		return false
	}
	switch {
	case s.span > 0:
		s.span--
	case s.doc > 0:
		s.doc--
		s.span = len(s.result.Matches[s.doc].Spans) - 1
	default:
		return false
	}
	return true
}

// NextDocument moves to the first match of the following document.
func (s *Session) NextDocument() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle() || s.doc+1 >= len(s.result.Matches) {
		return false
	}
	s.doc++
	s.span = 0
	return true
}

// PreviousDocument moves to the first match of the preceding document.
func (s *Session) PreviousDocument() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle() || s.doc == 0 {
		return false
	}
	s.doc--
	s.span = 0
	return true
}
