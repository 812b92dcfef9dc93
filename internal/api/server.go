package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"compintel/internal/runstate"
	"compintel/internal/storage"
)

// PageStore reads persisted page results.
type PageStore interface {
	ListPages(ctx context.Context, runID string, params storage.PageListParams) (storage.PageListResult, error)
	GetPage(ctx context.Context, runID, pageURL string) (storage.PageSummary, error)
}

// Server exposes run progress, stored pages and metrics over HTTP.
type Server struct {
	runs   runstate.Store
	pages  PageStore
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer wires handlers onto an HTTP mux. pages may be nil when no
// database is configured; gatherer may be nil to skip /metrics.
func NewServer(runs runstate.Store, pages PageStore, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runs:   runs,
		pages:  pages,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes(gatherer)
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRunByID)
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	snaps, err := s.runs.List(r.Context())
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleRunByID serves /api/runs/{id} and /api/runs/{id}/pages.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if trimmed == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(trimmed, "/")
	runID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}
	switch {
	case len(parts) == 1:
		s.getRun(w, r, runID)
	case len(parts) == 2 && parts[1] == "pages":
		s.listPages(w, r, runID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request, runID string) {
	snap, ok, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		s.logger.Error("get run failed", "run_id", runID, "error", err)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// listPages lists stored pages, or returns one page when ?url= is given.
func (s *Server) listPages(w http.ResponseWriter, r *http.Request, runID string) {
	if s.pages == nil {
		http.Error(w, "page store not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	if pageURL := strings.TrimSpace(q.Get("url")); pageURL != "" {
		page, err := s.pages.GetPage(r.Context(), runID, pageURL)
		if errors.Is(err, sql.ErrNoRows) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.logger.Error("get page failed", "run_id", runID, "url", pageURL, "error", err)
			http.Error(w, "failed to load page", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	params := storage.PageListParams{
		Page:           atoiDefault(q.Get("page"), 1),
		PageSize:       atoiDefault(q.Get("page_size"), 20),
		Search:         q.Get("q"),
		Classification: q.Get("classification"),
	}
	result, err := s.pages.ListPages(r.Context(), runID, params)
	if err != nil {
		s.logger.Error("list pages failed", "run_id", runID, "error", err)
		http.Error(w, "failed to list pages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func atoiDefault(raw string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
