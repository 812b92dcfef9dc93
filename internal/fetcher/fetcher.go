package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"

	"compintel/pkg/types"
)

// Outcome classifies a fetch attempt.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "fetch_failed"
)

// ErrStatus is wrapped by plain fetch errors caused by a non-2xx response.
var ErrStatus = errors.New("unexpected http status")

// Result is what one fetch strategy produced for a URL. Content is empty and
// Outcome is OutcomeFailed when nothing usable came back.
type Result struct {
	URL        string
	FinalURL   string
	Content    string
	Candidates []string
	Mode       types.FetchMode
	Outcome    Outcome
	Reason     string
	StatusCode int
	Latency    time.Duration
}

// OK reports whether the result carries content.
func (r *Result) OK() bool {
	return r != nil && r.Outcome == OutcomeOK
}

// Fetcher retrieves a web page for the crawler.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (*Result, error)
}

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent    string
	Headers      map[string]string
	Timeout      time.Duration
	MaxBodyBytes int64
	ProxyURL     string
}

// HTTPFetcher implements Fetcher via the Go http.Client.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	extraHeaders map[string]string
	maxBodyBytes int64
}

// NewHTTPFetcher constructs an HTTP fetcher using the provided options.
func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 * 1024 * 1024
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return newHTTPFetcher(&http.Client{Timeout: opts.Timeout, Transport: transport}, opts), nil
}

// NewHTTPFetcherWithClient wraps an existing client, e.g. one from httptest.
func NewHTTPFetcherWithClient(client *http.Client, opts Options) *HTTPFetcher {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 * 1024 * 1024
	}
	return newHTTPFetcher(client, opts)
}

func newHTTPFetcher(client *http.Client, opts Options) *HTTPFetcher {
	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return &HTTPFetcher{
		client:       client,
		userAgent:    opts.UserAgent,
		extraHeaders: headers,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// Fetch downloads a single URL with one GET. Transport errors and non-2xx
// responses are returned as errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, target string) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	for k, v := range f.extraHeaders {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, err
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		URL:        target,
		FinalURL:   finalURL,
		Content:    body,
		Mode:       types.FetchPlain,
		Outcome:    OutcomeOK,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}, nil
}

func (f *HTTPFetcher) readBody(resp *http.Response) (string, error) {
	if resp == nil || resp.Body == nil {
		return "", errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return "", fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, f.maxBodyBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > f.maxBodyBytes {
		return "", fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}

	decoded, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		return string(raw), nil
	}
	text, err := io.ReadAll(decoded)
	if err != nil {
		return string(raw), nil
	}
	return string(text), nil
}

// Client exposes the underlying HTTP client for reuse (robots.txt and sitemap fetches).
func (f *HTTPFetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.client
}

// Renderer executes JavaScript and returns the rendered DOM plus harvested
// raw link candidates.
type Renderer interface {
	Render(ctx context.Context, target string) (*Result, error)
}

// Composite runs the plain fetch and falls back to the renderer when the
// plain result is missing or shorter than minContent characters.
type Composite struct {
	plain      Fetcher
	renderer   Renderer
	minContent int
	logger     *slog.Logger
}

// NewComposite builds a composite fetcher. renderer may be nil.
func NewComposite(plain Fetcher, renderer Renderer, minContent int, logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{plain: plain, renderer: renderer, minContent: minContent, logger: logger}
}

// Fetch never returns an error: failures are reported through Result.Outcome.
func (c *Composite) Fetch(ctx context.Context, target string) (*Result, error) {
	res, err := c.plain.Fetch(ctx, target)
	if err != nil || res == nil {
		res = Failed(target, types.FetchPlain, err)
	}
	if !c.needsRender(res) {
		return res, nil
	}

	logger := c.logger.With("url", target, "plain_outcome", res.Outcome, "plain_chars", utf8.RuneCountInString(res.Content))
	rendered, err := c.renderer.Render(ctx, target)
	if err != nil {
		logger.Warn("render failed, keeping plain result", "error", err)
		return res, nil
	}
	if !rendered.OK() || rendered.Content == "" {
		logger.Warn("render returned no content, keeping plain result")
		return res, nil
	}
	logger.Debug("using rendered content", "rendered_chars", utf8.RuneCountInString(rendered.Content), "candidates", len(rendered.Candidates))
	return rendered, nil
}

func (c *Composite) needsRender(res *Result) bool {
	if c.renderer == nil {
		return false
	}
	if !res.OK() {
		return true
	}
	return utf8.RuneCountInString(res.Content) < c.minContent
}

// Failed builds a failed Result for target.
func Failed(target string, mode types.FetchMode, err error) *Result {
	reason := "no content"
	if err != nil {
		reason = err.Error()
	}
	return &Result{
		URL:     target,
		Mode:    mode,
		Outcome: OutcomeFailed,
		Reason:  reason,
	}
}
