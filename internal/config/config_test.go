package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
crawl:
  start_url: " https://Example.com/ "
  delay: 0.5
worker:
  concurrency: 2
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Crawl.StartURL != "https://Example.com/" {
		t.Fatalf("start url not trimmed: %q", cfg.Crawl.StartURL)
	}
	if cfg.Crawl.Delay.Duration != 500*time.Millisecond {
		t.Fatalf("expected 500ms delay, got %s", cfg.Crawl.Delay.Duration)
	}
	if cfg.Crawl.MaxPages != 1000 {
		t.Fatalf("expected default max pages, got %d", cfg.Crawl.MaxPages)
	}
	if cfg.Rendering.MinContentLength != 600 {
		t.Fatalf("expected default render threshold 600, got %d", cfg.Rendering.MinContentLength)
	}
	if cfg.Robots.UserAgent != cfg.Crawl.UserAgent {
		t.Fatalf("robots user agent should inherit crawl user agent")
	}
	if got := cfg.SeedHost(); got != "example.com" {
		t.Fatalf("seed host: got %q", got)
	}
}

func TestValidateRequiresSeed(t *testing.T) {
	cfg := Default()
	if err := cfg.Prepare(); !errors.Is(err, ErrNoSeed) {
		t.Fatalf("expected ErrNoSeed, got %v", err)
	}
}

func TestSitemapsEnableSitemapMode(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
crawl:
  sitemaps:
    - https://docs.example.com/sitemap.xml
    - https://docs.example.com/sitemap.xml
    - " "
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Crawl.Sitemaps) != 1 {
		t.Fatalf("expected deduped sitemaps, got %v", cfg.Crawl.Sitemaps)
	}
	if !cfg.Crawl.UseSitemaps {
		t.Fatalf("explicit sitemaps should enable sitemap mode")
	}
	if got := cfg.SeedHost(); got != "docs.example.com" {
		t.Fatalf("seed host from sitemap: got %q", got)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("crawl:\n  start_url: https://a.test\n  bogus: 1\n"))
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestValidateScoringNeedsKey(t *testing.T) {
	cfg := Default()
	cfg.Crawl.StartURL = "https://a.test"
	cfg.Scoring.Enabled = true
	if err := cfg.Prepare(); err == nil {
		t.Fatalf("expected error when scoring enabled without api key")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Scoring.APIKey != "sk-test" {
		t.Fatalf("api key not applied")
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.DSN == "" {
		t.Fatalf("database url not applied: %+v", cfg.DB)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Fatalf("redis addr: got %q", cfg.Redis.Addr)
	}
}

func TestDurationFlagValue(t *testing.T) {
	var d Duration
	if err := d.Set("1.5"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if d.Duration != 1500*time.Millisecond {
		t.Fatalf("got %s", d.String())
	}
	if err := d.Set("250ms"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if d.Duration != 250*time.Millisecond {
		t.Fatalf("got %s", d.String())
	}
	if err := d.Set("soon"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDurationJSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
		C Duration `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": 2, "b": "300ms", "c": null}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A.Duration != 2*time.Second || v.B.Duration != 300*time.Millisecond || v.C.Duration != 0 {
		t.Fatalf("got %v %v %v", v.A.Duration, v.B.Duration, v.C.Duration)
	}
	out, err := json.Marshal(v.B)
	if err != nil || string(out) != `"300ms"` {
		t.Fatalf("marshal: %s %v", out, err)
	}
}
