package robots

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"compintel/internal/config"
)

const maxRobotsBytes = 512 * 1024

// Policy answers whether a URL may be fetched and how long to wait between
// requests to its host. A Policy is read-only once loaded.
type Policy struct {
	data  *robotstxt.RobotsData
	agent string
}

// Permissive returns a policy that allows everything with no delay.
func Permissive(agent string) *Policy {
	return &Policy{agent: agent}
}

// NewPolicy parses robots.txt content for the given user agent.
func NewPolicy(body []byte, agent string) (*Policy, error) {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return &Policy{data: data, agent: agent}, nil
}

func (p *Policy) group() *robotstxt.Group {
	if p == nil || p.data == nil {
		return nil
	}
	group := p.data.FindGroup(p.agent)
	if group == nil {
		group = p.data.FindGroup("*")
	}
	return group
}

// CanFetch reports whether target is allowed for the policy's user agent.
// Unparseable targets and evaluation failures are allowed.
func (p *Policy) CanFetch(target string) (allowed bool) {
	group := p.group()
	if group == nil {
		return true
	}
	u, err := url.Parse(target)
	if err != nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			allowed = true
		}
	}()
	return group.Test(u.RequestURI())
}

// CrawlDelay returns the Crawl-delay directive for the agent, or zero.
func (p *Policy) CrawlDelay() time.Duration {
	group := p.group()
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// Sitemaps lists the Sitemap: entries declared in robots.txt.
func (p *Policy) Sitemaps() []string {
	if p == nil || p.data == nil {
		return nil
	}
	return append([]string(nil), p.data.Sitemaps...)
}

// EffectiveDelay is the politeness delay to apply after each fetch: the larger
// of the configured delay and the robots crawl-delay, unless robots are ignored.
func EffectiveDelay(configured time.Duration, p *Policy, ignoreRobots bool) time.Duration {
	if ignoreRobots {
		return configured
	}
	if d := p.CrawlDelay(); d > configured {
		return d
	}
	return configured
}

// Loader fetches and caches robots policies per site root.
type Loader struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]*Policy
}

// NewLoader constructs a robots loader from configuration.
func NewLoader(cfg config.RobotsConfig, client *http.Client, logger *slog.Logger) *Loader {
	if client == nil {
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		client:    client,
		userAgent: cfg.UserAgent,
		logger:    logger,
		cache:     make(map[string]*Policy),
	}
}

// Load returns the policy for siteRoot (scheme://host). It never fails: a
// missing robots.txt, a 4xx/5xx response, or a parse error yields a
// permissive policy.
func (l *Loader) Load(ctx context.Context, siteRoot string) *Policy {
	key := strings.ToLower(strings.TrimRight(siteRoot, "/"))

	l.mu.Lock()
	if p, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return p
	}
	l.mu.Unlock()

	policy, err := l.fetch(ctx, key+"/robots.txt")
	if err != nil {
		l.logger.Warn("robots unavailable, allowing all", "site", key, "error", err)
		policy = Permissive(l.userAgent)
	}

	l.mu.Lock()
	l.cache[key] = policy
	l.mu.Unlock()
	return policy
}

func (l *Loader) fetch(ctx context.Context, robotsURL string) (*Policy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("robots returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	return NewPolicy(body, l.userAgent)
}
