package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/filter"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newIndex(files map[string]string) *index.MemoryIndex {
	mem := index.NewMemoryIndex()
	for path, text := range files {
		doc := index.NewDocument(path, int64(len(text)), time.Unix(0, 0))
		mem.Put(doc, index.FromTokens(path, tokenizer.Tokenize([]byte(text))))
	}
	return mem
}

func search(t *testing.T, src Source, query string, caseSensitive bool) *Result {
	t.Helper()
	q, err := parser.Parse(query, caseSensitive)
	require.NoError(t, err)
	res, err := New(config.SearchConfig{Workers: 4}, nil).Execute(context.Background(), src, q, nil)
	require.NoError(t, err)
	return res
}

func spans(res *Result) []string {
	var out []string
	for _, m := range res.Matches {
		for _, s := range m.Spans {
			out = append(out, fmt.Sprintf("%s:%d:%s", m.Document.Path, s.Start, s.Text))
		}
	}
	return out
}

var scenario = map[string]string{
	"/src/a.cpp": "DuplicateHandle(foo); DuplicateHandleEx(bar);",
}

func TestScenarioPrefixAndLiteral(t *testing.T) {
	mem := newIndex(scenario)

	res := search(t, mem, "DuplicateHandle*", false)
	assert.Equal(t, 2, res.MatchCount)
	assert.Equal(t, []string{"/src/a.cpp:0:DuplicateHandle", "/src/a.cpp:22:DuplicateHandleEx"}, spans(res))

	res = search(t, mem, "DuplicateHandle", false)
	assert.Equal(t, 1, res.MatchCount)
	require.Len(t, res.Matches, 1)
	span := res.Matches[0].Spans[0]
	assert.Equal(t, 0, span.Start)
	assert.Equal(t, 15, span.End)
	assert.Equal(t, 1, span.Line)
}

func TestEmptyIndexHasNoMatches(t *testing.T) {
	res := search(t, index.NewMemoryIndex(), "DuplicateHandle*", false)
	assert.Equal(t, 0, res.MatchCount)
	assert.Empty(t, res.Matches)
	assert.NotNil(t, res.Matches)
}

func TestCaseSensitivity(t *testing.T) {
	mem := newIndex(map[string]string{
		"/a.c": "Handle handle HANDLE",
	})
	assert.Equal(t, 3, search(t, mem, "handle", false).MatchCount)
	assert.Equal(t, 1, search(t, mem, "handle", true).MatchCount)
	assert.Equal(t, 1, search(t, mem, "HAND*", true).MatchCount)
	assert.Equal(t, 3, search(t, mem, "HAND*", false).MatchCount)
	assert.Equal(t, 0, search(t, mem, "Handl", true).MatchCount)
}

func TestTrailingAnchor(t *testing.T) {
	mem := newIndex(map[string]string{
		"/w.c": "Create(hWnd, 0);\nShow(hWndParent);\nMove(hWnd , x);",
	})
	res := search(t, mem, "hWnd*,", false)
	assert.Equal(t, 2, res.MatchCount)
	for _, m := range res.Matches {
		for _, s := range m.Spans {
			assert.Equal(t, "hWnd", s.Text)
		}
	}

	res = search(t, mem, "hWnd*", false)
	assert.Equal(t, 3, res.MatchCount)
}

func TestLeadingAnchor(t *testing.T) {
	mem := newIndex(map[string]string{
		"/p.c": "#include <stdio.h>\nint stdio = 1;",
	})
	res := search(t, mem, "<stdio", false)
	require.Equal(t, 1, res.MatchCount)
	assert.Equal(t, 1, res.Matches[0].Spans[0].Line)
}

func TestAdjacentSequences(t *testing.T) {
	mem := newIndex(map[string]string{
		"/s.go": "return obj->field;\nobj.field = 1\nobj field\nobj ->  other",
	})
	res := search(t, mem, "obj->field", false)
	assert.Equal(t, []string{"/s.go:7:obj->field"}, spans(res))

	res = search(t, mem, "obj field", false)
	assert.Equal(t, []string{"/s.go:33:obj field"}, spans(res))

	res = search(t, mem, "obj -> *", false)
	assert.Equal(t, []string{"/s.go:7:obj->field", "/s.go:43:obj->other"}, spans(res))

	res = search(t, mem, "obj . f*", false)
	assert.Equal(t, []string{"/s.go:19:obj.field"}, spans(res))
}

func TestMatchesDoNotOverlap(t *testing.T) {
	mem := newIndex(map[string]string{
		"/o.txt": "a a a a a",
	})
	res := search(t, mem, "a a", false)
	assert.Equal(t, 2, res.MatchCount)
	assert.Equal(t, []string{"/o.txt:0:a a", "/o.txt:4:a a"}, spans(res))
}

func TestSuffixAndInfix(t *testing.T) {
	mem := newIndex(map[string]string{
		"/a.c": "CreateFileW OpenFileW CreateProcessW",
		"/b.c": "CloseHandle",
	})
	assert.Equal(t, 2, search(t, mem, "*FileW", false).MatchCount)
	assert.Equal(t, 2, search(t, mem, "Create*W", false).MatchCount)
	assert.Equal(t, 4, search(t, mem, "*e*", false).MatchCount)
}

func TestResultOrdering(t *testing.T) {
	mem := newIndex(map[string]string{
		"/z/last.go":  "target",
		"/a/first.go": "x target y target",
		"/m/mid.go":   "target",
	})
	res := search(t, mem, "target", false)
	assert.Equal(t, []string{
		"/a/first.go:2:target",
		"/a/first.go:11:target",
		"/m/mid.go:0:target",
		"/z/last.go:0:target",
	}, spans(res))
}

func TestFilterIsAppliedFirst(t *testing.T) {
	mem := newIndex(map[string]string{
		"/src/a.cpp":  "Handle",
		"/src/a.h":    "Handle",
		"/test/b.cpp": "Handle",
	})
	q, err := parser.Parse("Handle", false)
	require.NoError(t, err)
	f, err := filter.Parse("cpp", "-test", "")
	require.NoError(t, err)

	res, err := Execute(context.Background(), mem, q, f)
	require.NoError(t, err)
	assert.Equal(t, []string{"/src/a.cpp:0:Handle"}, spans(res))
	assert.Contains(t, res.Report.Phases[0].Notes, "1 of 3 documents pass the filter")
}

func TestReport(t *testing.T) {
	mem := newIndex(scenario)
	res := search(t, mem, "DuplicateHandle*", false)
	require.Len(t, res.Report.Phases, 3)
	assert.Equal(t, PhaseFilter, res.Report.Phases[0].Name)
	assert.Equal(t, PhaseKeys, res.Report.Phases[1].Name)
	assert.Equal(t, PhaseMatch, res.Report.Phases[2].Name)
	assert.Contains(t, res.Report.Phases[1].Notes, "String 'DuplicateHandle*' results in 2 keyword matches")
	assert.Contains(t, res.Report.String(), "Matching documents (")
	assert.Contains(t, res.Report.String(), "2 matches in 1 documents")
}

func TestUnknownKeywordShortCircuits(t *testing.T) {
	mem := newIndex(scenario)
	res := search(t, mem, "DuplicateHandle nothingLikeThis", false)
	assert.Equal(t, 0, res.MatchCount)
	assert.Contains(t, res.Report.Phases[1].Notes, "String 'nothingLikeThis' results in 0 keyword matches")
}

func TestCancelledSearch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mem := newIndex(scenario)
	q, err := parser.Parse("Duplicate*", false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New(config.SearchConfig{Workers: 2}, m).Execute(ctx, mem, q, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrCancelled)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues(metrics.OutcomeCancelled)))
}

func TestSearchSeesWholeDocumentVersions(t *testing.T) {
	mem := newIndex(map[string]string{"/a.go": "alpha beta"})
	q, err := parser.Parse("alpha beta", false)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			text := "alpha beta"
			if i%2 == 1 {
				text = "beta gamma alpha beta"
			}
			doc := index.NewDocument("/a.go", int64(len(text)), time.Unix(int64(i), 0))
			mem.Put(doc, index.FromTokens("/a.go", tokenizer.Tokenize([]byte(text))))
		}
	}()
	for i := 0; i < 200; i++ {
		res, err := Execute(context.Background(), mem, q, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.MatchCount)
	}
	<-done
}

// swappingSource replaces /a.go in the wrapped index at a chosen point of
// the search.
type swappingSource struct {
	*index.MemoryIndex
	text          string
	beforeLookups bool
	swapped       bool
}

func (s *swappingSource) swap() {
	if s.swapped {
		return
	}
	s.swapped = true
	doc := index.NewDocument("/a.go", int64(len(s.text)), time.Unix(1, 0))
	s.Put(doc, index.FromTokens("/a.go", tokenizer.Tokenize([]byte(s.text))))
}

func (s *swappingSource) Snapshots(keys []string) []index.Snapshot {
	if s.beforeLookups {
		s.swap()
	}
	snaps := s.MemoryIndex.Snapshots(keys)
	s.swap()
	return snaps
}

func TestSearchUsesOneDocumentVersion(t *testing.T) {
	tests := []struct {
		name          string
		beforeLookups bool
		wantStart     int
	}{
		{"replaced after lookup", false, 0},
		{"replaced before lookup", true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &swappingSource{
				MemoryIndex:   newIndex(map[string]string{"/a.go": "foo"}),
				text:          "xx foo",
				beforeLookups: tt.beforeLookups,
			}
			res := search(t, src, "foo", false)
			require.Equal(t, 1, res.MatchCount)
			assert.Equal(t, tt.wantStart, res.Matches[0].Spans[0].Start)
			assert.True(t, src.swapped)
		})
	}
}

func BenchmarkExecute(b *testing.B) {
	files := make(map[string]string, 200)
	for i := 0; i < 200; i++ {
		var sb strings.Builder
		for j := 0; j < 200; j++ {
			fmt.Fprintf(&sb, "DuplicateHandle%d(hWnd, value_%d);\n", j%7, j)
		}
		files[fmt.Sprintf("/src/file%03d.cpp", i)] = sb.String()
	}
	mem := newIndex(files)
	q, err := parser.Parse("DuplicateHandle*(hWnd,", false)
	require.NoError(b, err)
	exec := New(config.SearchConfig{}, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exec.Execute(context.Background(), mem, q, nil); err != nil {
			b.Fatal(err)
		}
	}
}
