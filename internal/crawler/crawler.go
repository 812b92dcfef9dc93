package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"compintel/internal/config"
	"compintel/internal/extract"
	"compintel/internal/fetcher"
	"compintel/internal/frontier"
	"compintel/internal/linkrules"
	"compintel/internal/monitoring"
	"compintel/internal/processor"
	"compintel/internal/robots"
	"compintel/internal/runstate"
	"compintel/internal/scoring"
	"compintel/internal/sitemap"
	"compintel/internal/storage"
	"compintel/internal/urlnorm"
	"compintel/pkg/types"
)

// Engine orchestrates fetching, extraction and persistence for one crawl run.
type Engine struct {
	cfg   config.Config
	runID string

	fetcher   fetcher.Fetcher
	renderer  fetcher.Renderer
	robots    *robots.Loader
	sitemaps  *sitemap.Resolver
	extractor *extract.Extractor
	collector *storage.Collector
	storage   *storage.Pipeline
	sinks     []storage.Sink
	limiter   *DomainLimiter
	state     runstate.Store
	scorer    scoring.Scorer
	metrics   *monitoring.Metrics
	registry  prometheus.Registerer

	logger *slog.Logger

	mu       sync.Mutex
	frontier *frontier.Frontier

	closers   []func() error
	closeOnce sync.Once
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger replaces the logger built from the logging config.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithFetcher replaces the plain+render composite fetcher.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithRenderer supplies the render strategy instead of launching Chrome.
func WithRenderer(r fetcher.Renderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// WithStateStore sets where run progress snapshots are written.
func WithStateStore(s runstate.Store) Option {
	return func(e *Engine) { e.state = s }
}

// WithScorer sets the sentiment scorer applied to page text.
func WithScorer(s scoring.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithRegisterer registers crawl metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registry = reg }
}

// WithRunID fixes the run identifier.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithSinks adds result sinks next to the in-memory collector.
func WithSinks(sinks ...storage.Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// NewEngine builds a crawler engine from configuration.
func NewEngine(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		logger, err := NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
		e.logger = logger
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	e.logger = e.logger.With("run_id", e.runID)

	httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:    cfg.Crawl.UserAgent,
		Headers:      cfg.Crawl.Headers,
		Timeout:      cfg.Crawl.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
		ProxyURL:     cfg.Crawl.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("http fetcher: %w", err)
	}

	var browser *fetcher.Browser
	if e.fetcher == nil {
		if e.renderer == nil && cfg.Rendering.Enabled {
			browser, err = fetcher.StartBrowser(fetcher.BrowserOptions{
				UserAgent:          cfg.Crawl.UserAgent,
				DisableHeadless:    cfg.Rendering.DisableHeadless,
				ExecPath:           cfg.Rendering.ExecPath,
				ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
			}, e.logger)
			switch {
			case err == nil:
				e.renderer = fetcher.NewChromedpRenderer(browser, renderOptions(cfg), e.logger)
				e.closers = append(e.closers, browser.Close)
			case cfg.Rendering.Required:
				return nil, err
			default:
				e.logger.Warn("rendering unavailable, continuing with plain fetches only", "error", err)
			}
		}
		e.fetcher = fetcher.NewComposite(httpFetcher, e.renderer, cfg.Rendering.MinContentLength, e.logger)
	}

	e.robots = robots.NewLoader(cfg.Robots, httpFetcher.Client(), e.logger)
	e.sitemaps = sitemap.NewResolver(cfg.Sitemap, httpFetcher.Client(), cfg.Crawl.UserAgent, e.logger)
	e.extractor = extract.New(cfg.Crawl.SkipExtensions, cfg.Crawl.ClassifyTextChars)
	e.limiter = NewDomainLimiter(cfg.Crawl.RateLimitPerDomain)

	e.collector = storage.NewCollector()
	sinks := append([]storage.Sink{e.collector}, e.sinks...)
	if cfg.DB.DSN != "" {
		sqlWriter, err := storage.NewSQLWriter(cfg.DB)
		if err != nil {
			e.Close()
			return nil, err
		}
		sinks = append(sinks, sqlWriter)
	}
	e.storage = storage.NewPipeline(sinks...)
	e.closers = append(e.closers, e.storage.Close)

	if e.state == nil {
		e.state = e.buildStateStore()
	}
	e.closers = append(e.closers, e.state.Close)

	if e.scorer == nil && cfg.Scoring.Enabled {
		e.scorer = scoring.NewClient(cfg.Scoring, nil, e.logger)
	}

	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}
	e.metrics = monitoring.New(e.registry, browser.InFlight)

	return e, nil
}

func (e *Engine) buildStateStore() runstate.Store {
	if e.cfg.Redis.Addr == "" {
		return runstate.NewMemoryStore()
	}
	store, err := runstate.NewRedisStore(context.Background(), e.cfg.Redis)
	if err != nil {
		e.logger.Warn("redis state store unavailable, keeping progress in memory", "error", err)
		return runstate.NewMemoryStore()
	}
	return store
}

func renderOptions(cfg config.Config) fetcher.RenderOptions {
	r := cfg.Rendering
	return fetcher.RenderOptions{
		NavigationTimeout:  r.NavigationTimeout.Duration,
		NetworkIdleTimeout: r.NetworkIdleTimeout.Duration,
		NetworkIdleQuiet:   r.NetworkIdleQuiet.Duration,
		SettleDelay:        r.SettleDelay.Duration,
		InteractionTimeout: r.InteractionTimeout.Duration,
		ScrollStepRatio:    r.ScrollStepRatio,
		ScrollPause:        r.ScrollPause.Duration,
		MaxScrollSteps:     r.MaxScrollSteps,
		HoverPause:         r.HoverPause.Duration,
		InteractiveSample:  r.InteractiveSample,
		ClickLimit:         r.ClickLimit,
		ClickTimeout:       r.ClickTimeout.Duration,
		ClickPause:         r.ClickPause.Duration,
		MenuSelectors:      r.ExtraMenuSelectors,
		MaxBodyBytes:       cfg.Crawl.MaxBodyBytes,
	}
}

// RunID returns the identifier attached to persisted results.
func (e *Engine) RunID() string {
	return e.runID
}

// State returns the run progress store.
func (e *Engine) State() runstate.Store {
	return e.state
}

// Ledger returns the visited records (completion order) and the skipped
// links (sorted) of the last run.
func (e *Engine) Ledger() (visited, skipped []types.VisitedRecord) {
	e.mu.Lock()
	f := e.frontier
	e.mu.Unlock()
	if f == nil {
		return nil, nil
	}
	return f.Visited(), f.Skipped()
}

// run holds the state shared by the workers of one Run.
type run struct {
	frontier  *frontier.Frontier
	scope     string
	delay     time.Duration
	startedAt time.Time
	seedURL   string
	processed atomic.Int64
}

// Run crawls until the frontier drains, the page budget is claimed, or ctx
// is cancelled. Cancellation lets in-flight pages finish; the returned
// document holds everything recorded so far alongside ctx's error.
func (e *Engine) Run(ctx context.Context) (*types.RunDocument, error) {
	defer e.Close()

	r := &run{startedAt: time.Now().UTC()}
	startURL := ""
	if e.cfg.Crawl.StartURL != "" {
		norm, ok := urlnorm.Normalize(e.cfg.Crawl.StartURL, "")
		if !ok {
			return nil, fmt.Errorf("invalid start url %q", e.cfg.Crawl.StartURL)
		}
		startURL = norm
	}

	seeds := e.buildSeeds(ctx, startURL)
	if len(seeds) == 0 {
		return nil, config.ErrNoSeed
	}
	r.seedURL = seeds[0]
	r.scope = e.cfg.SeedHost()
	if r.scope == "" {
		r.scope = urlnorm.Host(seeds[0])
	}

	r.frontier = frontier.New(e.cfg.Crawl.MaxPages)
	e.mu.Lock()
	e.frontier = r.frontier
	e.mu.Unlock()

	exts := e.skipExtensions()
	for _, seed := range seeds {
		if urlnorm.HasExtension(seed, exts) {
			r.frontier.Skip(types.VisitedRecord{URL: seed, Status: types.StatusSkippedExtension, Reason: "seed"})
			continue
		}
		r.frontier.Seed(seed)
	}

	var policy *robots.Policy
	if root, ok := urlnorm.SiteRoot(r.seedURL); ok && !e.cfg.Crawl.IgnoreRobots {
		policy = e.robots.Load(ctx, root)
	}
	r.delay = robots.EffectiveDelay(e.cfg.Crawl.Delay.Duration, policy, e.cfg.Crawl.IgnoreRobots)

	e.logger.Info("crawl starting",
		"seed", r.seedURL,
		"scope", r.scope,
		"seeds", len(seeds),
		"max_pages", e.cfg.Crawl.MaxPages,
		"concurrency", e.cfg.Worker.Concurrency,
		"delay", r.delay)
	e.saveSnapshot(ctx, r, runstate.StatusRunning, "", "", "")

	pool, err := NewWorkerPool(ctx, e.cfg.Worker.Concurrency)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, r.frontier.Close)
	defer stop()

	pool.Start(func(workerCtx context.Context, id int) {
		e.work(workerCtx, r, id)
	})
	pool.Wait()

	finalCtx := context.WithoutCancel(ctx)
	for _, rec := range r.frontier.Skipped() {
		if err := e.storage.RecordVisit(finalCtx, e.runID, rec); err != nil {
			e.logger.Warn("record skipped link failed", "url", rec.URL, "error", err)
		}
	}

	stats := r.frontier.Stats()
	doc := &types.RunDocument{
		ScrapedAt:       time.Now().UTC().Format(time.RFC3339),
		Results:         e.collector.Results(),
		VisitedCount:    stats.Visited,
		DiscoveredCount: stats.Discovered,
	}
	if e.cfg.Crawl.StartURL != "" {
		doc.StartURL = e.cfg.Crawl.StartURL
	} else {
		doc.StartSitemaps = append([]string(nil), e.cfg.Crawl.Sitemaps...)
	}

	status, message := runstate.StatusCompleted, ""
	if err := ctx.Err(); err != nil {
		status, message = runstate.StatusCancelled, err.Error()
	}
	e.saveSnapshot(finalCtx, r, status, "", "", message)
	e.logger.Info("crawl finished",
		"status", status,
		"visited", stats.Visited,
		"discovered", stats.Discovered,
		"skipped", stats.Skipped,
		"results", len(doc.Results),
		"elapsed", time.Since(r.startedAt).Round(time.Millisecond))
	return doc, ctx.Err()
}

// buildSeeds returns the normalized start URL followed by sorted sitemap seeds.
func (e *Engine) buildSeeds(ctx context.Context, startURL string) []string {
	var seeds []string
	if startURL != "" {
		seeds = append(seeds, startURL)
	}

	sources := e.cfg.Crawl.Sitemaps
	if len(sources) == 0 && e.cfg.Crawl.UseSitemaps && startURL != "" {
		var declared []string
		if root, ok := urlnorm.SiteRoot(startURL); ok {
			declared = e.robots.Load(ctx, root).Sitemaps()
		}
		sources = e.sitemaps.Discover(ctx, startURL, declared)
		e.logger.Info("sitemaps discovered", "count", len(sources))
	}
	if len(sources) == 0 {
		return seeds
	}

	resolved := e.sitemaps.Resolve(ctx, sources)
	normalized := make([]string, 0, len(resolved))
	for _, raw := range resolved {
		if norm, ok := urlnorm.Normalize(raw, ""); ok {
			normalized = append(normalized, norm)
		}
	}
	sort.Strings(normalized)
	e.logger.Info("sitemap seeds resolved", "sources", len(sources), "urls", len(normalized))
	return append(seeds, normalized...)
}

func (e *Engine) skipExtensions() []string {
	if len(e.cfg.Crawl.SkipExtensions) > 0 {
		return e.cfg.Crawl.SkipExtensions
	}
	return linkrules.SkipExtensions
}

func (e *Engine) work(ctx context.Context, r *run, id int) {
	logger := e.logger.With("worker", id)
	for {
		target, ok := r.frontier.Next()
		if !ok {
			return
		}
		// A page that has been dequeued is always finished, even on shutdown.
		fetched := e.process(context.WithoutCancel(ctx), r, target, logger)
		if fetched {
			if err := pause(ctx, r.delay); err != nil {
				return
			}
		}
	}
}

// process handles one dequeued URL and reports whether a network fetch was
// made. It always completes the URL in the frontier.
func (e *Engine) process(ctx context.Context, r *run, target types.CrawlTarget, logger *slog.Logger) (fetched bool) {
	logger = logger.With("url", target.URL)
	rec := types.VisitedRecord{URL: target.URL}
	defer func() {
		rec.VisitedAt = time.Now().UTC()
		r.frontier.Complete(rec)
		r.processed.Add(1)
		e.metrics.ObservePage(rec.Status, rec.FetchMode)
		e.metrics.SetFrontier(r.frontier.Stats().Pending)
		if err := e.storage.RecordVisit(ctx, e.runID, rec); err != nil {
			logger.Warn("record visit failed", "error", err)
		}
		e.saveSnapshot(ctx, r, runstate.StatusRunning, rec.URL, string(rec.Status), rec.Reason)
	}()

	if !urlnorm.SameHost(target.URL, r.scope) {
		rec.Status = types.StatusOffDomain
		rec.Reason = "host outside crawl scope"
		logger.Debug("skipping off-domain url")
		return false
	}
	if !e.cfg.Crawl.IgnoreRobots {
		if root, ok := urlnorm.SiteRoot(target.URL); ok && !e.robots.Load(ctx, root).CanFetch(target.URL) {
			rec.Status = types.StatusBlockedByRobots
			rec.Reason = "disallowed by robots.txt"
			logger.Debug("blocked by robots")
			return false
		}
	}
	if err := e.limiter.Wait(ctx, urlnorm.Host(target.URL)); err != nil {
		rec.Status = types.StatusFetchFailed
		rec.Reason = "rate limiter: " + err.Error()
		return false
	}

	res, err := e.fetcher.Fetch(ctx, target.URL)
	if err != nil || res == nil {
		res = fetcher.Failed(target.URL, types.FetchPlain, err)
	}
	rec.FetchMode = res.Mode
	e.metrics.ObserveFetch(res.Mode, res.Latency)
	logger = logger.With("mode", res.Mode)

	if !res.OK() {
		rec.Status = types.StatusFetchFailed
		rec.Reason = res.Reason
		logger.Warn("fetch failed", "reason", res.Reason)
		return true
	}
	rec.HTMLLength = len(res.Content)

	// Links resolve against the requested URL, not the redirect target, so a
	// seed that redirects to another host keeps its links in scope.
	page, err := e.extractor.Extract(target.URL, res.Content, res.Candidates)
	if err != nil {
		rec.Status = types.StatusFetchFailed
		rec.Reason = err.Error()
		logger.Warn("extract failed", "error", err)
		return true
	}
	rec.Status = types.StatusOK
	rec.LinksFound = len(page.Links)

	result := types.PageResult{
		URL:            target.URL,
		Title:          page.Title,
		Classification: page.Classification,
		Rendered:       res.Mode == types.FetchRendered,
		LinksSample:    sample(page.Links, e.cfg.Crawl.LinksSampleSize),
	}
	if e.scorer != nil {
		text := page.Text
		if n := e.cfg.Scoring.MaxTextChars; n > 0 {
			text = processor.Truncate(text, n)
		}
		sentiment := e.scorer.Score(ctx, text, nil)
		result.Sentiment = &sentiment
	}
	if err := e.storage.Persist(ctx, e.runID, result); err != nil {
		logger.Error("persist failed", "error", err)
	}

	admitted := e.enqueueLinks(r, target.URL, page)
	e.metrics.AddDiscovered(admitted)
	logger.Info("page crawled",
		"title", page.Title,
		"class", page.Classification,
		"links", len(page.Links),
		"new", admitted)
	return true
}

// enqueueLinks admits in-scope links to the frontier and records the rest in
// the skip ledger. It returns how many links were newly queued.
func (e *Engine) enqueueLinks(r *run, from string, page *extract.Page) int {
	now := time.Now().UTC()
	admitted := 0
	for _, link := range page.Links {
		if !urlnorm.SameHost(link, r.scope) {
			r.frontier.Skip(types.VisitedRecord{URL: link, Status: types.StatusOffDomain, Reason: "linked from " + from})
			continue
		}
		if r.frontier.Discover(types.CrawlTarget{URL: link, DiscoveredFrom: from, DiscoveredAt: now}) {
			admitted++
		}
	}
	for _, link := range page.Denied {
		r.frontier.Skip(types.VisitedRecord{URL: link, Status: types.StatusSkippedExtension, Reason: "linked from " + from})
	}
	return admitted
}

func (e *Engine) saveSnapshot(ctx context.Context, r *run, status, lastURL, lastStatus, message string) {
	if e.state == nil {
		return
	}
	stats := r.frontier.Stats()
	snap := runstate.Snapshot{
		RunID:      e.runID,
		SeedURL:    r.seedURL,
		Status:     status,
		Processed:  r.processed.Load(),
		Pending:    int64(stats.Pending),
		InFlight:   int64(stats.InFlight),
		Visited:    int64(stats.Visited),
		Discovered: int64(stats.Discovered),
		LastURL:    lastURL,
		LastStatus: lastStatus,
		Message:    message,
		StartedAt:  r.startedAt,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := e.state.Save(ctx, snap); err != nil {
		e.logger.Debug("save run snapshot failed", "error", err)
	}
}

// Close releases resources owned by the engine.
func (e *Engine) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		for i := len(e.closers) - 1; i >= 0; i-- {
			if err := e.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func sample(links []string, k int) []string {
	if k <= 0 || len(links) == 0 {
		return []string{}
	}
	if len(links) > k {
		links = links[:k]
	}
	return append([]string(nil), links...)
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
