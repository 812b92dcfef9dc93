package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"compintel/internal/linkrules"
	"compintel/pkg/types"
)

// DefaultMenuSelectors are hovered to reveal CSS/JS dropdown navigation.
var DefaultMenuSelectors = []string{
	".menu",
	".nav",
	".dropdown",
	"[data-toggle]",
	"[aria-haspopup]",
	".hamburger",
	".menu-toggle",
}

const (
	interactiveSelector = `button, [role="button"], .menu, .nav, [data-toggle], [aria-haspopup]`
	toggleSelector      = `button, [data-toggle], [aria-haspopup], .hamburger, .menu-toggle`
)

// RenderOptions configures navigation and the interaction pass.
type RenderOptions struct {
	NavigationTimeout  time.Duration
	NetworkIdleTimeout time.Duration
	NetworkIdleQuiet   time.Duration
	SettleDelay        time.Duration
	InteractionTimeout time.Duration
	ScrollStepRatio    float64
	ScrollPause        time.Duration
	MaxScrollSteps     int
	HoverPause         time.Duration
	InteractiveSample  int
	ClickLimit         int
	ClickTimeout       time.Duration
	ClickPause         time.Duration
	MenuSelectors      []string
	MaxBodyBytes       int64
}

func (o *RenderOptions) setDefaults() {
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 35 * time.Second
	}
	if o.NetworkIdleTimeout <= 0 {
		o.NetworkIdleTimeout = 10 * time.Second
	}
	if o.NetworkIdleQuiet <= 0 {
		o.NetworkIdleQuiet = 500 * time.Millisecond
	}
	if o.InteractionTimeout <= 0 {
		o.InteractionTimeout = 30 * time.Second
	}
	if o.ScrollStepRatio <= 0 {
		o.ScrollStepRatio = 0.9
	}
	if o.MaxScrollSteps <= 0 {
		o.MaxScrollSteps = 40
	}
	if o.ClickTimeout <= 0 {
		o.ClickTimeout = 1200 * time.Millisecond
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 6 * 1024 * 1024
	}
}

// ChromedpRenderer renders pages in tabs of a shared Browser.
type ChromedpRenderer struct {
	browser   *Browser
	opts      RenderOptions
	collector string
	logger    *slog.Logger
}

// NewChromedpRenderer builds a renderer over an already started browser.
// Extra menu selectors are appended to DefaultMenuSelectors.
func NewChromedpRenderer(browser *Browser, opts RenderOptions, logger *slog.Logger) *ChromedpRenderer {
	opts.setDefaults()
	opts.MenuSelectors = mergeSelectors(DefaultMenuSelectors, opts.MenuSelectors)
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpRenderer{
		browser:   browser,
		opts:      opts,
		collector: collectorScript(),
		logger:    logger,
	}
}

// Render navigates to target, waits for the network to settle, runs the
// interaction pass and returns the rendered HTML with harvested link
// candidates. Navigation or capture failures return an error; a failing
// interaction step only ends the pass early.
func (r *ChromedpRenderer) Render(ctx context.Context, target string) (*Result, error) {
	tab, err := r.browser.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	defer tab.Release()

	logger := r.logger.With("url", target)
	start := time.Now()
	tabCtx := tab.Context()

	tracker := newIdleTracker()
	chromedp.ListenTarget(tabCtx, tracker.handle)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(tabCtx, r.opts.NavigationTimeout)
	err = chromedp.Run(navCtx, chromedp.Navigate(target))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	if !tracker.wait(tabCtx, r.opts.NetworkIdleQuiet, r.opts.NetworkIdleTimeout) {
		logger.Debug("network idle not reached, continuing")
	}
	if r.opts.SettleDelay > 0 {
		if err := chromedp.Run(tabCtx, chromedp.Sleep(r.opts.SettleDelay)); err != nil {
			return nil, fmt.Errorf("settle: %w", err)
		}
	}

	interactCtx, cancel := context.WithTimeout(tabCtx, r.opts.InteractionTimeout)
	r.interact(interactCtx, logger)
	cancel()

	captureCtx, cancel := context.WithTimeout(tabCtx, r.opts.NavigationTimeout)
	defer cancel()

	var harvested linkrules.Candidates
	if err := chromedp.Run(captureCtx, chromedp.Evaluate(r.collector, &harvested)); err != nil {
		logger.Warn("link collector failed", "error", err)
	}

	var html, finalURL string
	if err := chromedp.Run(captureCtx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	); err != nil {
		return nil, fmt.Errorf("capture dom: %w", err)
	}
	html = clipUTF8(html, r.opts.MaxBodyBytes)
	if finalURL == "" {
		finalURL = target
	}

	candidates := dedupe(harvested.Flatten())
	latency := time.Since(start)
	logger.Debug("render complete",
		"latency_ms", latency.Milliseconds(),
		"final_url", finalURL,
		"html_bytes", len(html),
		"candidates", len(candidates),
	)
	return &Result{
		URL:        target,
		FinalURL:   finalURL,
		Content:    html,
		Candidates: candidates,
		Mode:       types.FetchRendered,
		Outcome:    OutcomeOK,
		StatusCode: 200,
		Latency:    latency,
	}, nil
}

// clipUTF8 cuts s to at most n bytes without splitting a rune.
func clipUTF8(s string, n int64) string {
	if int64(len(s)) <= n {
		return s
	}
	i := int(n)
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}

// idleTracker counts outstanding network requests on a tab.
type idleTracker struct {
	mu       sync.Mutex
	pending  map[network.RequestID]struct{}
	lastSeen time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{pending: make(map[network.RequestID]struct{}), lastSeen: time.Now()}
}

func (t *idleTracker) handle(ev any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.pending[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.pending, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.pending, e.RequestID)
	default:
		return
	}
	t.lastSeen = time.Now()
}

func (t *idleTracker) idle(quiet time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) == 0 && time.Since(t.lastSeen) >= quiet
}

// wait polls until no request has been outstanding for quiet, or budget
// runs out. It reports whether idle was reached.
func (t *idleTracker) wait(ctx context.Context, quiet, budget time.Duration) bool {
	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if t.idle(quiet) {
			return true
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func collectorScript() string {
	rules, _ := json.Marshal(map[string][]string{
		"dataAttributes":    linkrules.DataAttributes,
		"elementAttributes": linkrules.ElementAttributes,
		"linkRels":          linkrules.LinkRels,
	})
	return fmt.Sprintf(`(() => {
  const rules = %s;
  const links = [];
  const onclicks = [];
  const scripts = [];
  document.querySelectorAll('a[href]').forEach(a => links.push(a.href || a.getAttribute('href')));
  for (const attr of rules.dataAttributes) {
    document.querySelectorAll('[' + attr + ']').forEach(el => links.push(el.getAttribute(attr)));
  }
  document.querySelectorAll('[onclick]').forEach(el => onclicks.push(el.getAttribute('onclick') || ''));
  document.querySelectorAll('link[rel][href]').forEach(l => {
    const rels = (l.getAttribute('rel') || '').toLowerCase().split(/\s+/);
    if (rels.some(r => rules.linkRels.includes(r))) links.push(l.href || l.getAttribute('href'));
  });
  for (const attr of rules.elementAttributes) {
    document.querySelectorAll('[' + attr + ']').forEach(el => links.push(el.getAttribute(attr)));
  }
  document.querySelectorAll('script:not([src])').forEach(s => { if (s.textContent) scripts.push(s.textContent); });
  return {links: links.filter(Boolean), onclicks: onclicks, scripts: scripts};
})()`, rules)
}

func mergeSelectors(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
