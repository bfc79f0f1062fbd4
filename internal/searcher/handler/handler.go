// Package handler exposes search, export and refresh of indexed roots over
// HTTP. Every request runs its own search; no result is kept between
// requests.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/registry"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/filename"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/filter"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/session"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/middleware"
)

type Handler struct {
	registry    *registry.Registry
	executor    *executor.Executor
	defaultRoot string
	logger      *slog.Logger
}

// New builds a Handler. Requests without a root parameter search
// defaultRoot, or the only registered root when defaultRoot is empty.
func New(reg *registry.Registry, exec *executor.Executor, defaultRoot string) *Handler {
	return &Handler{
		registry:    reg,
		executor:    exec,
		defaultRoot: defaultRoot,
		logger:      slog.Default().With("component", "search-handler"),
	}
}

// API paths served by Register.
const (
	PathSearch  = "/api/v1/search"
	PathExport  = "/api/v1/export"
	PathFiles   = "/api/v1/files"
	PathRefresh = "/api/v1/refresh"
	PathRoots   = "/api/v1/roots"
)

// Paths lists every API path, for metric labels.
var Paths = []string{PathSearch, PathExport, PathFiles, PathRefresh, PathRoots}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+PathSearch, h.Search)
	mux.HandleFunc("GET "+PathExport, h.Export)
	mux.HandleFunc("GET "+PathFiles, h.Files)
	mux.HandleFunc("POST "+PathRefresh, h.Refresh)
	mux.HandleFunc("GET "+PathRoots, h.Roots)
}

type filesResponse struct {
	Root string `json:"root"`
	*filename.Result
}

type searchResponse struct {
	Root string `json:"root"`
	*executor.Result
}

type errorResponse struct {
	Error     string `json:"error"`
	Position  *int   `json:"position,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type rootInfo struct {
	Root      string      `json:"root"`
	Recovered bool        `json:"recovered"`
	Stats     index.Stats `json:"stats"`
}

type refreshResponse struct {
	*indexer.BuildReport
	Failed int `json:"failed"`
}

// Search runs q against a root. Parameters: q, root, case, ext, folder and
// path.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	root, s, err := h.search(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, searchResponse{Root: root, Result: s.Result()})
}

// Export runs the search like Search and writes every match as a text
// report or a JSON array, chosen by the format parameter.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := session.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_, s, err := h.search(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if format == session.FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	if err := s.Export(w, format); err != nil {
		h.logger.Error("failed to write export", "error", err)
	}
}

// Files finds documents of a root by file name. Parameters: name, root,
// case, ext, folder and path.
func (h *Handler) Files(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	name := params.Get("name")
	if name == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'name' is required"))
		return
	}
	caseSensitive, err := parseCase(params.Get("case"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	eng, err := h.resolve(params.Get("root"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	exts := params.Get("ext")
	q, err := filename.Parse(name, caseSensitive, exts == "")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := filter.Parse(exts, params.Get("folder"), params.Get("path"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := filename.Search(r.Context(), eng.Documents(), q, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("file search completed",
		"root", eng.Root(),
		"name", name,
		"documents", len(res.Documents),
	)
	h.writeJSON(w, http.StatusOK, filesResponse{Root: eng.Root(), Result: res})
}

// Refresh brings the index of a registered root up to date. Roots are
// registered by the service configuration only; unknown roots get 404.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eng, err := h.resolve(r.URL.Query().Get("root"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := eng.Build(ctx, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.FromContext(ctx).Info("root refreshed", "root", eng.Root(), "report", report.String())
	h.writeJSON(w, http.StatusOK, refreshResponse{BuildReport: report, Failed: len(report.Failed)})
}

// Roots lists the registered roots with their index statistics.
func (h *Handler) Roots(w http.ResponseWriter, r *http.Request) {
	roots := h.registry.Roots()
	infos := make([]rootInfo, 0, len(roots))
	for _, root := range roots {
		eng, err := h.registry.Get(root)
		if err != nil {
			continue
		}
		infos = append(infos, rootInfo{Root: root, Recovered: eng.Recovered(), Stats: eng.Stats()})
	}
	h.writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) search(r *http.Request) (string, *session.Session, error) {
	params := r.URL.Query()
	text := params.Get("q")
	if text == "" {
		return "", nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required")
	}
	caseSensitive, err := parseCase(params.Get("case"))
	if err != nil {
		return "", nil, err
	}

	eng, err := h.resolve(params.Get("root"))
	if err != nil {
		return "", nil, err
	}
	q, err := parser.Parse(text, caseSensitive)
	if err != nil {
		return "", nil, err
	}
	f, err := filter.Parse(params.Get("ext"), params.Get("folder"), params.Get("path"))
	if err != nil {
		return "", nil, err
	}

	start := time.Now()
	res, err := h.executor.Execute(r.Context(), eng.Index(), q, f)
	if err != nil {
		return "", nil, err
	}
	logger.FromContext(r.Context()).Info("search completed",
		"root", eng.Root(),
		"query", text,
		"matches", res.MatchCount,
		"documents", len(res.Matches),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return eng.Root(), session.New(q, res), nil
}

func parseCase(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "case must be a boolean")
	}
	return b, nil
}

func (h *Handler) resolve(root string) (*indexer.Engine, error) {
	if root == "" {
		root = h.defaultRoot
	}
	if root == "" {
		roots := h.registry.Roots()
		if len(roots) != 1 {
			return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'root' is required")
		}
		root = roots[0]
	}
	return h.registry.Get(root)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	resp := errorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(r.Context())}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
	}
	var qe *apperrors.QueryError
	if errors.As(err, &qe) && qe.Pos >= 0 {
		pos := qe.Pos
		resp.Position = &pos
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, resp)
}
