package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoSeed is returned when neither a start URL nor a sitemap seed is configured.
var ErrNoSeed = errors.New("a start url or at least one sitemap is required")

// Config captures the full configuration of a single crawl run.
type Config struct {
	Crawl     CrawlConfig     `yaml:"crawl"`
	Worker    WorkerConfig    `yaml:"worker"`
	Rendering RenderingConfig `yaml:"rendering"`
	Robots    RobotsConfig    `yaml:"robots"`
	Sitemap   SitemapConfig   `yaml:"sitemap"`
	DB        SQLConfig       `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Output    OutputConfig    `yaml:"output"`
}

// CrawlConfig controls seeds, scope and pacing.
type CrawlConfig struct {
	StartURL           string            `yaml:"start_url"`
	Sitemaps           []string          `yaml:"sitemaps"`
	UseSitemaps        bool              `yaml:"use_sitemaps"`
	MaxPages           int               `yaml:"max_pages"`
	UserAgent          string            `yaml:"user_agent"`
	Headers            map[string]string `yaml:"headers"`
	ProxyURL           string            `yaml:"proxy_url"`
	Delay              Duration          `yaml:"delay"`
	RequestTimeout     Duration          `yaml:"request_timeout"`
	MaxBodyBytes       int64             `yaml:"max_body_bytes"`
	IgnoreRobots       bool              `yaml:"ignore_robots"`
	RateLimitPerDomain RateLimitConfig   `yaml:"rate_limit_per_domain"`
	LinksSampleSize    int               `yaml:"links_sample_size"`
	ClassifyTextChars  int               `yaml:"classify_text_chars"`
	SkipExtensions     []string          `yaml:"skip_extensions"`
}

// RateLimitConfig applies a token bucket per host on top of the politeness delay.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// WorkerConfig controls crawl concurrency.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// RenderingConfig controls the headless browser fallback and its interaction pass.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Required           bool     `yaml:"required"`
	MinContentLength   int      `yaml:"min_content_length"`
	NavigationTimeout  Duration `yaml:"navigation_timeout"`
	NetworkIdleTimeout Duration `yaml:"network_idle_timeout"`
	NetworkIdleQuiet   Duration `yaml:"network_idle_quiet"`
	SettleDelay        Duration `yaml:"settle_delay"`
	InteractionTimeout Duration `yaml:"interaction_timeout"`
	ScrollStepRatio    float64  `yaml:"scroll_step_ratio"`
	ScrollPause        Duration `yaml:"scroll_pause"`
	MaxScrollSteps     int      `yaml:"max_scroll_steps"`
	HoverPause         Duration `yaml:"hover_pause"`
	InteractiveSample  int      `yaml:"interactive_sample"`
	ClickLimit         int      `yaml:"click_limit"`
	ClickTimeout       Duration `yaml:"click_timeout"`
	ClickPause         Duration `yaml:"click_pause"`
	ExtraMenuSelectors []string `yaml:"extra_menu_selectors"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
	ExecPath           string   `yaml:"exec_path"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	UserAgent string   `yaml:"user_agent"`
	Timeout   Duration `yaml:"timeout"`
}

// SitemapConfig bounds sitemap expansion.
type SitemapConfig struct {
	Timeout  Duration `yaml:"timeout"`
	MaxDepth int      `yaml:"max_depth"`
	MaxURLs  int      `yaml:"max_urls"`
}

// SQLConfig describes the optional relational store for page results and posts.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// RedisConfig configures the optional run progress store.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Key      string   `yaml:"key"`
	TTL      Duration `yaml:"ttl"`
	Timeout  Duration `yaml:"timeout"`
}

// ScoringConfig configures the LLM sentiment/alert client.
type ScoringConfig struct {
	Enabled        bool          `yaml:"enabled"`
	APIURL         string        `yaml:"api_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Timeout        Duration      `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay Duration      `yaml:"retry_base_delay"`
	RetryMaxDelay  Duration      `yaml:"retry_max_delay"`
	MaxTextChars   int           `yaml:"max_text_chars"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the scoring circuit breaker.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Window           int      `yaml:"window"`
	Delay            Duration `yaml:"delay"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// OutputConfig controls the JSON run document.
type OutputConfig struct {
	Path   string `yaml:"path"`
	Pretty bool   `yaml:"pretty"`
}

const defaultUserAgent = "CompintelCrawler/1.0 (+https://example.com)"

// Default returns a Config populated with the crawler defaults.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			MaxPages:          1000,
			UserAgent:         defaultUserAgent,
			Headers:           map[string]string{},
			Delay:             DurationFrom(350 * time.Millisecond),
			RequestTimeout:    DurationFrom(15 * time.Second),
			MaxBodyBytes:      6 * 1024 * 1024,
			LinksSampleSize:   60,
			ClassifyTextChars: 1200,
		},
		Worker: WorkerConfig{
			Concurrency: 4,
		},
		Rendering: RenderingConfig{
			Enabled:            true,
			MinContentLength:   600,
			NavigationTimeout:  DurationFrom(35 * time.Second),
			NetworkIdleTimeout: DurationFrom(10 * time.Second),
			NetworkIdleQuiet:   DurationFrom(500 * time.Millisecond),
			SettleDelay:        DurationFrom(350 * time.Millisecond),
			InteractionTimeout: DurationFrom(30 * time.Second),
			ScrollStepRatio:    0.9,
			ScrollPause:        DurationFrom(200 * time.Millisecond),
			MaxScrollSteps:     40,
			HoverPause:         DurationFrom(120 * time.Millisecond),
			InteractiveSample:  60,
			ClickLimit:         8,
			ClickTimeout:       DurationFrom(1200 * time.Millisecond),
			ClickPause:         DurationFrom(120 * time.Millisecond),
			ConcurrentSessions: 1,
		},
		Robots: RobotsConfig{
			Timeout: DurationFrom(10 * time.Second),
		},
		Sitemap: SitemapConfig{
			Timeout:  DurationFrom(15 * time.Second),
			MaxDepth: 5,
			MaxURLs:  50000,
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			Key:     "compintel:runs",
			TTL:     DurationFrom(24 * time.Hour),
			Timeout: DurationFrom(5 * time.Second),
		},
		Scoring: ScoringConfig{
			APIURL:         "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			Timeout:        DurationFrom(60 * time.Second),
			MaxRetries:     2,
			RetryBaseDelay: DurationFrom(500 * time.Millisecond),
			RetryMaxDelay:  DurationFrom(5 * time.Second),
			MaxTextChars:   12000,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Window:           10,
				Delay:            DurationFrom(30 * time.Second),
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
		Output: OutputConfig{
			Path:   "out_links.json",
			Pretty: true,
		},
	}
}

// Load reads, normalises, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg, err := Decode(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode reads a YAML file over the defaults without validating it, so callers
// can layer flag overrides before calling Prepare.
func Decode(path string) (Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	cfg := Default()
	if err := decodeYAML(fh, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Prepare normalises the configuration and validates it.
func (c *Config) Prepare() error {
	c.normalise()
	return c.Validate()
}

// ApplyEnv fills unset secrets and endpoints from the environment.
func (c *Config) ApplyEnv() {
	if c.Scoring.APIKey == "" {
		c.Scoring.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if model := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); model != "" {
		c.Scoring.Model = model
	}
	if base := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); base != "" {
		c.Scoring.APIURL = base
	}
	if c.DB.DSN == "" {
		if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
			c.DB.DSN = dsn
			if c.DB.Driver == "" {
				c.DB.Driver = "postgres"
			}
		}
	}
	if c.Redis.Addr == "" {
		if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
			c.Redis.Addr = addr
		} else if host := strings.TrimSpace(os.Getenv("REDIS_HOST")); host != "" {
			port := strings.TrimSpace(os.Getenv("REDIS_PORT"))
			if port == "" {
				port = "6379"
			}
			c.Redis.Addr = host + ":" + port
		}
	}
	if c.Redis.Password == "" {
		c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if raw := strings.TrimSpace(os.Getenv("REDIS_DB")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			c.Redis.DB = v
		}
	}
}

// Validate enforces required invariants for the run configuration.
func (c Config) Validate() error {
	if c.Crawl.StartURL == "" && len(c.Crawl.Sitemaps) == 0 {
		return ErrNoSeed
	}
	if c.Crawl.StartURL != "" {
		u, err := url.Parse(c.Crawl.StartURL)
		if err != nil {
			return fmt.Errorf("crawl.start_url: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("crawl.start_url %q missing host", c.Crawl.StartURL)
		}
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0 (got %d)", c.Crawl.MaxPages)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Crawl.Delay.Duration < 0 {
		return fmt.Errorf("crawl.delay must be >= 0 (got %s)", c.Crawl.Delay)
	}
	if rl := c.Crawl.RateLimitPerDomain; rl.Requests < 0 {
		return fmt.Errorf("crawl.rate_limit_per_domain.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if c.Crawl.LinksSampleSize < 0 {
		return fmt.Errorf("crawl.links_sample_size must be >= 0 (got %d)", c.Crawl.LinksSampleSize)
	}
	if c.Crawl.UserAgent == "" {
		return errors.New("crawl.user_agent must be set")
	}
	if c.Rendering.Enabled {
		if c.Rendering.ConcurrentSessions <= 0 {
			return fmt.Errorf("rendering.concurrent_sessions must be > 0 (got %d)", c.Rendering.ConcurrentSessions)
		}
		if c.Rendering.ScrollStepRatio <= 0 {
			return fmt.Errorf("rendering.scroll_step_ratio must be > 0 (got %v)", c.Rendering.ScrollStepRatio)
		}
		if c.Rendering.NavigationTimeout.Duration <= 0 {
			return errors.New("rendering.navigation_timeout must be > 0")
		}
	}
	if c.Sitemap.MaxDepth <= 0 {
		return fmt.Errorf("sitemap.max_depth must be > 0 (got %d)", c.Sitemap.MaxDepth)
	}
	if c.DB.DSN != "" && c.DB.Driver == "" {
		return errors.New("db.driver must be set when db.dsn is configured")
	}
	if c.Scoring.Enabled {
		if c.Scoring.APIKey == "" {
			return errors.New("scoring.api_key must be set when scoring is enabled")
		}
		if c.Scoring.Model == "" {
			return errors.New("scoring.model must be set when scoring is enabled")
		}
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		return errors.New("output.path must be set")
	}
	return nil
}

func (c *Config) normalise() {
	c.Crawl.StartURL = strings.TrimSpace(c.Crawl.StartURL)
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Crawl.Sitemaps = dedupeTrimmed(c.Crawl.Sitemaps)
	if len(c.Crawl.Sitemaps) > 0 {
		c.Crawl.UseSitemaps = true
	}
	if len(c.Crawl.SkipExtensions) > 0 {
		c.Crawl.SkipExtensions = dedupeLower(c.Crawl.SkipExtensions)
	}
	if c.Crawl.Headers == nil {
		c.Crawl.Headers = make(map[string]string)
	}

	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	if c.Robots.UserAgent == "" {
		c.Robots.UserAgent = c.Crawl.UserAgent
	}

	c.Rendering.ExtraMenuSelectors = dedupeTrimmed(c.Rendering.ExtraMenuSelectors)
	c.Rendering.ExecPath = strings.TrimSpace(c.Rendering.ExecPath)

	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	c.DB.DSN = strings.TrimSpace(c.DB.DSN)
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	c.Scoring.APIURL = strings.TrimRight(strings.TrimSpace(c.Scoring.APIURL), "/")
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Output.Path = strings.TrimSpace(c.Output.Path)
}

// SeedHost returns the host that bounds the crawl scope.
func (c Config) SeedHost() string {
	raw := c.Crawl.StartURL
	if raw == "" && len(c.Crawl.Sitemaps) > 0 {
		raw = c.Crawl.Sitemaps[0]
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func dedupeTrimmed(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	return cleaned
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// Enabled reports whether per-domain rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
