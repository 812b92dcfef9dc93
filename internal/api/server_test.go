package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"compintel/internal/runstate"
	"compintel/internal/storage"
)

type fakePageStore struct {
	lastParams storage.PageListParams
}

func (f *fakePageStore) ListPages(_ context.Context, runID string, params storage.PageListParams) (storage.PageListResult, error) {
	f.lastParams = params
	return storage.PageListResult{
		RunID:    runID,
		Total:    1,
		Page:     params.Page,
		PageSize: params.PageSize,
		Items:    []storage.PageSummary{{RunID: runID, URL: "https://a.test/pricing", Classification: "product"}},
	}, nil
}

func (f *fakePageStore) GetPage(_ context.Context, runID, pageURL string) (storage.PageSummary, error) {
	if pageURL != "https://a.test/pricing" {
		return storage.PageSummary{}, sql.ErrNoRows
	}
	return storage.PageSummary{RunID: runID, URL: pageURL, Title: "Pricing"}, nil
}

func newTestServer(t *testing.T, pages PageStore) *Server {
	t.Helper()
	runs := runstate.NewMemoryStore()
	err := runs.Save(context.Background(), runstate.Snapshot{
		RunID:     "run-1",
		SeedURL:   "https://a.test/",
		Status:    runstate.StatusRunning,
		Processed: 3,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "compintel_test_total", Help: "test"}))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(runs, pages, reg, logger)
}

func TestServerHandlers(t *testing.T) {
	server := newTestServer(t, &fakePageStore{})

	assertRoute(t, server, http.MethodGet, "/health", http.StatusOK, "application/json")
	assertRoute(t, server, http.MethodGet, "/api/runs", http.StatusOK, "application/json")
	assertRoute(t, server, http.MethodGet, "/api/runs/run-1", http.StatusOK, "application/json")
	assertRoute(t, server, http.MethodGet, "/api/runs/run-1/pages?url=https%3A%2F%2Fa.test%2Fpricing", http.StatusOK, "application/json")

	rr := serve(server, http.MethodGet, "/api/runs/missing")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown run: expected 404, got %d", rr.Code)
	}
	rr = serve(server, http.MethodGet, "/api/runs/run-1/pages?url=https%3A%2F%2Fa.test%2Fnope")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown page: expected 404, got %d", rr.Code)
	}
	rr = serve(server, http.MethodPost, "/api/runs")
	if rr.Code != http.StatusMethodNotAllowed || rr.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("POST /api/runs: got %d allow=%q", rr.Code, rr.Header().Get("Allow"))
	}

	rr = serve(server, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "compintel_test_total") {
		t.Fatalf("metrics: %d %s", rr.Code, rr.Body.String())
	}
}

func TestServerListPagesParams(t *testing.T) {
	pages := &fakePageStore{}
	server := newTestServer(t, pages)

	rr := serve(server, http.MethodGet, "/api/runs/run-1/pages?page=3&page_size=bogus&q=price&classification=product")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	want := storage.PageListParams{Page: 3, PageSize: 20, Search: "price", Classification: "product"}
	if pages.lastParams != want {
		t.Fatalf("params = %+v, want %+v", pages.lastParams, want)
	}
	var decoded storage.PageListResult
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RunID != "run-1" || len(decoded.Items) != 1 {
		t.Fatalf("unexpected result %+v", decoded)
	}
}

func TestServerWithoutPageStore(t *testing.T) {
	server := newTestServer(t, nil)
	rr := serve(server, http.MethodGet, "/api/runs/run-1/pages")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func assertRoute(t *testing.T, h http.Handler, method, path string, wantStatus int, wantContentType string) {
	t.Helper()
	rr := serve(h, method, path)

	if rr.Code != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d (body=%s)", method, path, wantStatus, rr.Code, rr.Body.String())
	}
	if wantContentType != "" {
		if got := rr.Header().Get("Content-Type"); got != wantContentType {
			t.Fatalf("%s %s: expected content-type %s, got %s", method, path, wantContentType, got)
		}
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("%s %s: expected non-empty body", method, path)
	}
}
