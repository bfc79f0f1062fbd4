package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/registry"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/session"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
)

type fixture struct {
	root string
	reg  *registry.Registry
	mux  *http.ServeMux
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	for rel, text := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	}
	reg := registry.New(config.IndexConfig{DataDir: t.TempDir(), Workers: 2, MaxFileSize: 1 << 20}, nil)
	t.Cleanup(func() { reg.Close() })

	eng, _, err := reg.Open(context.Background(), root)
	require.NoError(t, err)
	_, err = eng.Build(context.Background(), nil)
	require.NoError(t, err)

	mux := http.NewServeMux()
	New(reg, executor.New(config.SearchConfig{Workers: 2}, nil), "").Register(mux)
	return &fixture{root: root, reg: reg, mux: mux}
}

func (f *fixture) do(t *testing.T, method, path string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	target := path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestSearch(t *testing.T) {
	f := newFixture(t, map[string]string{
		"src/a.cpp": "DuplicateHandle(foo); DuplicateHandleEx(bar);",
		"src/b.h":   "DuplicateHandle",
	})
	rec := f.do(t, http.MethodGet, "/api/v1/search", url.Values{"q": {"DuplicateHandle*"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Root       string `json:"root"`
		Query      string `json:"query"`
		MatchCount int    `json:"match_count"`
		Matches    []struct {
			Spans []executor.Span `json:"spans"`
		} `json:"matches"`
	}
	decode(t, rec, &body)
	assert.Equal(t, f.root, body.Root)
	assert.Equal(t, "DuplicateHandle*", body.Query)
	assert.Equal(t, 3, body.MatchCount)
	require.Len(t, body.Matches, 2)
	assert.Equal(t, 0, body.Matches[0].Spans[0].Start)
}

func TestSearchFilters(t *testing.T) {
	f := newFixture(t, map[string]string{
		"src/a.cpp":    "Handle",
		"src/a.h":      "handle",
		"legacy/b.cpp": "Handle",
	})
	rec := f.do(t, http.MethodGet, "/api/v1/search", url.Values{
		"q":      {"handle"},
		"ext":    {"cpp"},
		"folder": {"-legacy"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		MatchCount int `json:"match_count"`
	}
	decode(t, rec, &body)
	assert.Equal(t, 1, body.MatchCount)

	rec = f.do(t, http.MethodGet, "/api/v1/search", url.Values{"q": {"Handle"}, "case": {"true"}})
	decode(t, rec, &body)
	assert.Equal(t, 2, body.MatchCount)
}

func TestSearchErrors(t *testing.T) {
	f := newFixture(t, map[string]string{"a.go": "x"})

	rec := f.do(t, http.MethodGet, "/api/v1/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/search", url.Values{"q": {"foo(a**"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error    string `json:"error"`
		Position *int   `json:"position"`
	}
	decode(t, rec, &body)
	require.NotNil(t, body.Position)
	assert.Equal(t, 5, *body.Position)

	rec = f.do(t, http.MethodGet, "/api/v1/search", url.Values{"q": {"x"}, "root": {t.TempDir()}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/search", url.Values{"q": {"x"}, "case": {"maybe"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/search", url.Values{"q": {"x"}, "path": {"["}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExport(t *testing.T) {
	f := newFixture(t, map[string]string{"a.go": "first line\n  call(hWnd)\n"})

	rec := f.do(t, http.MethodGet, "/api/v1/export", url.Values{"q": {"hWnd"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, filepath.Join(f.root, "a.go")+":2: call(hWnd)\n", rec.Body.String())

	entries, err := session.ParseReport(strings.NewReader(rec.Body.String()))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/export", url.Values{"q": {"hWnd"}, "format": {"json"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var out []session.Entry
	decode(t, rec, &out)
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Line)

	rec = f.do(t, http.MethodGet, "/api/v1/export", url.Values{"q": {"hWnd"}, "format": {"xml"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFiles(t *testing.T) {
	f := newFixture(t, map[string]string{
		"src/main.cpp":    "x",
		"src/main.h":      "x",
		"legacy/main.cpp": "x",
	})
	var body struct {
		Root      string `json:"root"`
		Documents []struct {
			Path string `json:"path"`
		} `json:"documents"`
	}

	rec := f.do(t, http.MethodGet, "/api/v1/files", url.Values{"name": {"main.cpp"}, "folder": {"-legacy"}})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, f.root, body.Root)
	require.Len(t, body.Documents, 1)
	assert.Equal(t, filepath.Join(f.root, "src", "main.cpp"), body.Documents[0].Path)

	rec = f.do(t, http.MethodGet, "/api/v1/files", url.Values{"name": {"ma?n"}, "ext": {"h"}})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &body)
	require.Len(t, body.Documents, 1)
	assert.Equal(t, filepath.Join(f.root, "src", "main.h"), body.Documents[0].Path)

	rec = f.do(t, http.MethodGet, "/api/v1/files", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/files", url.Values{"name": {"src/main.cpp"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/files", url.Values{"name": {"main"}, "root": {t.TempDir()}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshAndRoots(t *testing.T) {
	f := newFixture(t, map[string]string{"a.go": "one"})

	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "b.go"), []byte("two"), 0o644))
	_, _, err := f.reg.Open(context.Background(), other)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/refresh", url.Values{"root": {other}})
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		Root   string `json:"root"`
		New    int    `json:"new"`
		Failed int    `json:"failed"`
	}
	decode(t, rec, &report)
	assert.Equal(t, other, report.Root)
	assert.Equal(t, 1, report.New)

	rec = f.do(t, http.MethodGet, "/api/v1/roots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roots []rootInfo
	decode(t, rec, &roots)
	require.Len(t, roots, 2)
	for _, info := range roots {
		assert.Equal(t, 1, info.Stats.Documents)
	}

	// Two roots are registered, so requests must name one.
	rec = f.do(t, http.MethodGet, "/api/v1/search", url.Values{"q": {"two"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/search", url.Values{"q": {"two"}, "root": {other}})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/refresh", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshRejectsUnregisteredRoots(t *testing.T) {
	f := newFixture(t, map[string]string{"a.go": "one"})

	secret := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(secret, "id.cpp"), []byte("password = hunter2\n"), 0o644))

	rec := f.do(t, http.MethodPost, "/api/v1/refresh", url.Values{"root": {secret}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{f.root}, f.reg.Roots())

	rec = f.do(t, http.MethodGet, "/api/v1/export", url.Values{"q": {"hunter2"}, "root": {secret}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	// The only registered root is the default.
	rec = f.do(t, http.MethodPost, "/api/v1/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		Unchanged int `json:"unchanged"`
	}
	decode(t, rec, &report)
	assert.Equal(t, 1, report.Unchanged)
}
