package main

import (
	"slices"
	"testing"
	"time"

	"compintel/internal/config"
)

func TestApplyCrawlFlagsOnlyOverridesSetFlags(t *testing.T) {
	cmd := newCrawlCmd()
	err := cmd.Flags().Parse([]string{
		"--start-url", "https://a.test/",
		"--max-pages", "25",
		"--delay", "2s",
		"--no-render",
		"--menu-selectors", "nav .dropdown, .mega-menu",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := config.Default()
	cfg.Worker.Concurrency = 9
	cfg.Output.Path = "from-config.json"

	var f crawlFlags
	f.startURL, _ = cmd.Flags().GetString("start-url")
	f.maxPages, _ = cmd.Flags().GetInt("max-pages")
	f.delay, _ = cmd.Flags().GetDuration("delay")
	f.noRender, _ = cmd.Flags().GetBool("no-render")
	f.menuSelectors, _ = cmd.Flags().GetString("menu-selectors")
	applyCrawlFlags(cmd.Flags(), f, &cfg)

	if cfg.Crawl.StartURL != "https://a.test/" || cfg.Crawl.MaxPages != 25 {
		t.Fatalf("seed flags not applied: %+v", cfg.Crawl)
	}
	if cfg.Crawl.Delay.Duration != 2*time.Second {
		t.Fatalf("delay = %s", cfg.Crawl.Delay.Duration)
	}
	if cfg.Rendering.Enabled {
		t.Fatalf("--no-render should disable rendering")
	}
	if !slices.Equal(cfg.Rendering.ExtraMenuSelectors, []string{"nav .dropdown", ".mega-menu"}) {
		t.Fatalf("menu selectors: %v", cfg.Rendering.ExtraMenuSelectors)
	}
	if cfg.Worker.Concurrency != 9 || cfg.Output.Path != "from-config.json" {
		t.Fatalf("unset flags must keep config values: concurrency=%d output=%q", cfg.Worker.Concurrency, cfg.Output.Path)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a.xml, ,b.xml ,")
	if !slices.Equal(got, []string{"a.xml", "b.xml"}) {
		t.Fatalf("splitList: %v", got)
	}
	if splitList("") != nil {
		t.Fatalf("empty input should yield nil")
	}
}
