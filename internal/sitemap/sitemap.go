// Package sitemap expands sitemap and sitemap-index documents into seed URLs.
package sitemap

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"

	"compintel/internal/config"
	"compintel/internal/urlnorm"
)

const maxSitemapBytes = 50 * 1024 * 1024

// CommonPaths are probed at the site root when robots.txt declares no sitemap.
var CommonPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemap.xml.gz",
}

// Kind is the shape of a parsed sitemap document.
type Kind string

const (
	KindIndex   Kind = "sitemapindex"
	KindURLSet  Kind = "urlset"
	KindUnknown Kind = "unknown"
)

// Document is one parsed sitemap file.
type Document struct {
	Kind     Kind
	Sitemaps []string
	URLs     []string
}

// Parse reads a sitemap or sitemap index. Gzip input is detected by its
// magic bytes. Documents matching neither standard shape fall back to every
// <loc> element, reported as URLs.
func Parse(body []byte) (*Document, error) {
	body, err := maybeGunzip(body)
	if err != nil {
		return nil, err
	}
	root, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}

	doc := &Document{Kind: KindUnknown}
	for _, n := range xmlquery.Find(root, "//*[local-name()='sitemap']/*[local-name()='loc']") {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			doc.Sitemaps = append(doc.Sitemaps, loc)
		}
	}
	for _, n := range xmlquery.Find(root, "//*[local-name()='url']/*[local-name()='loc']") {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			doc.URLs = append(doc.URLs, loc)
		}
	}
	switch {
	case len(doc.Sitemaps) > 0:
		doc.Kind = KindIndex
	case len(doc.URLs) > 0:
		doc.Kind = KindURLSet
	default:
		for _, n := range xmlquery.Find(root, "//*[local-name()='loc']") {
			if loc := strings.TrimSpace(n.InnerText()); loc != "" {
				doc.URLs = append(doc.URLs, loc)
			}
		}
	}
	return doc, nil
}

func maybeGunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip sitemap: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("gunzip sitemap: %w", err)
	}
	return out, nil
}

// Resolver fetches and recursively expands sitemaps.
type Resolver struct {
	client    *http.Client
	userAgent string
	maxDepth  int
	maxURLs   int
	logger    *slog.Logger
}

// NewResolver builds a Resolver. client may be nil.
func NewResolver(cfg config.SitemapConfig, client *http.Client, userAgent string, logger *slog.Logger) *Resolver {
	if client == nil {
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Resolver{
		client:    client,
		userAgent: userAgent,
		maxDepth:  maxDepth,
		maxURLs:   cfg.MaxURLs,
		logger:    logger,
	}
}

// Resolve expands every source into a deduplicated URL list in discovery
// order. Sources are http(s) URLs or local paths; a local file that is not
// XML is read as a seed list. Unreadable or malformed sources are skipped
// with a warning.
func (r *Resolver) Resolve(ctx context.Context, sources []string) []string {
	w := &walker{
		r:        r,
		seenMaps: make(map[string]struct{}),
		seenURLs: make(map[string]struct{}),
	}
	for _, src := range sources {
		w.walk(ctx, strings.TrimSpace(src), 0)
	}
	r.logger.Info("sitemaps resolved", "sources", len(sources), "sitemaps", len(w.seenMaps), "urls", len(w.out))
	return w.out
}

type walker struct {
	r        *Resolver
	seenMaps map[string]struct{}
	seenURLs map[string]struct{}
	out      []string
}

func (w *walker) full() bool {
	return w.r.maxURLs > 0 && len(w.out) >= w.r.maxURLs
}

func (w *walker) add(u string) {
	u = strings.TrimSpace(u)
	if u == "" || w.full() {
		return
	}
	if _, ok := w.seenURLs[u]; ok {
		return
	}
	w.seenURLs[u] = struct{}{}
	w.out = append(w.out, u)
}

func (w *walker) walk(ctx context.Context, src string, depth int) {
	if src == "" || w.full() || ctx.Err() != nil {
		return
	}
	if depth > w.r.maxDepth {
		w.r.logger.Warn("sitemap nesting too deep, skipping", "sitemap", src, "depth", depth)
		return
	}
	if _, ok := w.seenMaps[src]; ok {
		return
	}
	w.seenMaps[src] = struct{}{}

	body, remote, err := w.r.load(ctx, src)
	if err != nil {
		w.r.logger.Warn("sitemap unavailable, skipping", "sitemap", src, "error", err)
		return
	}
	if !remote && !looksLikeXML(body) {
		for _, u := range parseSeedLines(body) {
			w.add(u)
		}
		return
	}

	doc, err := Parse(body)
	if err != nil {
		w.r.logger.Warn("malformed sitemap, skipping", "sitemap", src, "error", err)
		return
	}
	for _, child := range doc.Sitemaps {
		if remote {
			if abs, ok := urlnorm.Normalize(child, src); ok {
				child = abs
			}
		}
		w.walk(ctx, child, depth+1)
	}
	for _, u := range doc.URLs {
		w.add(u)
	}
}

func (r *Resolver) load(ctx context.Context, src string) ([]byte, bool, error) {
	lower := strings.ToLower(src)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, false, fmt.Errorf("read sitemap file: %w", err)
		}
		return data, false, nil
	}
	body, status, err := r.get(ctx, src)
	if err != nil {
		return nil, true, err
	}
	if status < 200 || status > 299 {
		return nil, true, fmt.Errorf("sitemap returned status %d", status)
	}
	return body, true, nil
}

func (r *Resolver) get(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build sitemap request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch sitemap: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read sitemap: %w", err)
	}
	return body, resp.StatusCode, nil
}

// Discover finds sitemap URLs for a site. Sitemaps declared in robots.txt
// win; otherwise common locations under the site root are probed, and as a
// last resort the start page is scanned for links mentioning "sitemap".
func (r *Resolver) Discover(ctx context.Context, startURL string, declared []string) []string {
	if len(declared) > 0 {
		return declared
	}
	root, ok := urlnorm.SiteRoot(startURL)
	if !ok {
		return nil
	}

	var found []string
	for _, p := range CommonPaths {
		candidate := root + p
		body, status, err := r.get(ctx, candidate)
		if err != nil || status < 200 || status > 299 {
			continue
		}
		plain, err := maybeGunzip(body)
		if err != nil {
			continue
		}
		if bytes.Contains(plain, []byte("<urlset")) || bytes.Contains(plain, []byte("<sitemapindex")) {
			found = append(found, candidate)
		}
	}
	if len(found) > 0 {
		return found
	}

	body, status, err := r.get(ctx, startURL)
	if err != nil || status < 200 || status > 299 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		if !strings.Contains(strings.ToLower(href), "sitemap") {
			return
		}
		abs, ok := urlnorm.Normalize(href, startURL)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		found = append(found, abs)
	})
	return found
}

// parseSeedLines reads one URL per line, skipping blanks and # comments.
func parseSeedLines(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func looksLikeXML(body []byte) bool {
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		return true
	}
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	return len(trimmed) > 0 && trimmed[0] == '<'
}
