package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"compintel/pkg/types"
)

func TestHTTPFetcherDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		io.WriteString(gz, "<html><body>hello</body></html>")
		gz.Close()
	}))
	defer srv.Close()

	f := NewHTTPFetcherWithClient(srv.Client(), Options{UserAgent: "test-agent"})
	res, err := f.Fetch(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !res.OK() || res.Mode != types.FetchPlain {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Content, "hello") {
		t.Fatalf("body not decoded: %q", res.Content)
	}
}

func TestHTTPFetcherRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcherWithClient(srv.Client(), Options{})
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("expected ErrStatus, got %v", err)
	}
}

func TestHTTPFetcherEnforcesBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 64))
	}))
	defer srv.Close()

	f := NewHTTPFetcherWithClient(srv.Client(), Options{MaxBodyBytes: 16})
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected body limit error")
	}
}

type stubFetcher struct {
	res *Result
	err error
}

func (s stubFetcher) Fetch(ctx context.Context, target string) (*Result, error) {
	return s.res, s.err
}

type stubRenderer struct {
	res   *Result
	err   error
	calls int
}

func (s *stubRenderer) Render(ctx context.Context, target string) (*Result, error) {
	s.calls++
	return s.res, s.err
}

func okResult(content string, mode types.FetchMode) *Result {
	return &Result{URL: "https://a.test/", Content: content, Mode: mode, Outcome: OutcomeOK}
}

func TestCompositeRendersShortContent(t *testing.T) {
	renderer := &stubRenderer{res: &Result{
		URL:        "https://a.test/",
		Content:    "<html>" + strings.Repeat("r", 800) + "</html>",
		Candidates: []string{"/from-script"},
		Mode:       types.FetchRendered,
		Outcome:    OutcomeOK,
	}}
	c := NewComposite(stubFetcher{res: okResult(strings.Repeat("p", 50), types.FetchPlain)}, renderer, 600, discardLogger())

	res, err := c.Fetch(context.Background(), "https://a.test/")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if renderer.calls != 1 {
		t.Fatalf("expected render fallback, calls=%d", renderer.calls)
	}
	if res.Mode != types.FetchRendered || len(res.Candidates) != 1 {
		t.Fatalf("expected rendered content, got %+v", res)
	}
}

func TestCompositeSkipsRenderForLongContent(t *testing.T) {
	renderer := &stubRenderer{}
	c := NewComposite(stubFetcher{res: okResult(strings.Repeat("p", 700), types.FetchPlain)}, renderer, 600, discardLogger())

	res, _ := c.Fetch(context.Background(), "https://a.test/")
	if renderer.calls != 0 {
		t.Fatalf("renderer should not run")
	}
	if res.Mode != types.FetchPlain {
		t.Fatalf("expected plain mode")
	}
}

func TestCompositeKeepsPlainWhenRenderFails(t *testing.T) {
	renderer := &stubRenderer{err: errors.New("navigation timeout")}
	plain := okResult("tiny", types.FetchPlain)
	c := NewComposite(stubFetcher{res: plain}, renderer, 600, discardLogger())

	res, _ := c.Fetch(context.Background(), "https://a.test/")
	if res != plain {
		t.Fatalf("expected plain result to be kept")
	}
}

func TestCompositeReportsFailureWithoutRenderer(t *testing.T) {
	c := NewComposite(stubFetcher{err: errors.New("connection refused")}, nil, 600, discardLogger())

	res, err := c.Fetch(context.Background(), "https://a.test/")
	if err != nil {
		t.Fatalf("composite should not return errors: %v", err)
	}
	if res.OK() || res.Outcome != OutcomeFailed || res.Reason == "" {
		t.Fatalf("expected failed result, got %+v", res)
	}
}

func TestCollectorScriptCarriesRules(t *testing.T) {
	js := collectorScript()
	for _, want := range []string{"data-route", "canonical", "data-url", "script:not([src])"} {
		if !strings.Contains(js, want) {
			t.Fatalf("collector script missing %q", want)
		}
	}
}

func TestMergeSelectors(t *testing.T) {
	got := mergeSelectors(DefaultMenuSelectors, []string{".nav", " .mega-menu ", ""})
	if len(got) != len(DefaultMenuSelectors)+1 || got[len(got)-1] != ".mega-menu" {
		t.Fatalf("unexpected selectors %v", got)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClipUTF8(t *testing.T) {
	s := "ab€d" // € is three bytes
	for n, want := range map[int64]string{2: "ab", 3: "ab", 4: "ab", 5: "ab€", 100: s} {
		if got := clipUTF8(s, n); got != want {
			t.Fatalf("clipUTF8(%q, %d) = %q, want %q", s, n, got, want)
		}
	}
}

func TestCenterScriptSelectsMatch(t *testing.T) {
	sized := centerScript(".menu", firstSized)
	if !strings.Contains(sized, "const idx = -1;") || !strings.Contains(sized, "els.find(") {
		t.Fatalf("hover script should search for a sized match:\n%s", sized)
	}
	if !strings.Contains(sized, `querySelectorAll(".menu")`) {
		t.Fatalf("selector not quoted into script:\n%s", sized)
	}
	if indexed := centerScript("[aria-expanded]", 3); !strings.Contains(indexed, "const idx = 3;") {
		t.Fatalf("indexed script:\n%s", indexed)
	}
}
