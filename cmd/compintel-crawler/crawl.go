package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"compintel/internal/api"
	"compintel/internal/config"
	"compintel/internal/crawler"
	"compintel/internal/storage"
)

type crawlFlags struct {
	startURL      string
	sitemaps      string
	output        string
	maxPages      int
	concurrency   int
	delay         time.Duration
	ignoreRobots  bool
	useSitemaps   bool
	noRender      bool
	menuSelectors string
	metricsAddr   string
	logLevel      string
	runID         string
}

func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:           "compintel-crawler",
		Short:         "Crawl a competitor site and write the run document",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), cmd.Flags(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.startURL, "start-url", "", "Seed URL; its host bounds the crawl")
	fl.StringVar(&f.sitemaps, "sitemaps", "", "Comma-separated sitemap URLs or local files used as seeds")
	fl.StringVar(&f.output, "output", "", "Path of the JSON run document")
	fl.IntVar(&f.maxPages, "max-pages", 0, "Maximum pages to visit")
	fl.IntVar(&f.concurrency, "concurrency", 0, "Number of crawl workers")
	fl.DurationVar(&f.delay, "delay", 0, "Politeness delay after each fetch")
	fl.BoolVar(&f.ignoreRobots, "ignore-robots", false, "Do not consult robots.txt")
	fl.BoolVar(&f.useSitemaps, "use-sitemaps", false, "Discover sitemaps from robots.txt and common paths")
	fl.BoolVar(&f.noRender, "no-render", false, "Disable the headless browser fallback")
	fl.StringVar(&f.menuSelectors, "menu-selectors", "", "Comma-separated extra CSS selectors to hover")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve /metrics and run status on this address")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fl.StringVar(&f.runID, "run-id", "", "Run identifier (default: random UUID)")
	return cmd
}

func runCrawl(ctx context.Context, flags *pflag.FlagSet, f crawlFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyCrawlFlags(flags, f, &cfg)
	if err := cfg.Prepare(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := crawler.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	runID := f.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	engine, err := crawler.NewEngine(cfg,
		crawler.WithLogger(logger),
		crawler.WithRunID(runID),
		crawler.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		return fmt.Errorf("failed to initialise engine: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           api.NewServer(engine.State(), nil, prometheus.DefaultGatherer, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("status server listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	started := time.Now()
	doc, runErr := engine.Run(ctx)
	if doc == nil {
		return fmt.Errorf("crawler stopped with error: %w", runErr)
	}
	if err := storage.WriteDocument(cfg.Output.Path, doc, cfg.Output.Pretty); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	visited, skipped := engine.Ledger()
	printSummary(runID, cfg.Output.Path, doc, visited, skipped, time.Since(started))
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// applyCrawlFlags overrides only the flags the user actually passed.
func applyCrawlFlags(flags *pflag.FlagSet, f crawlFlags, cfg *config.Config) {
	flags.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "start-url":
			cfg.Crawl.StartURL = f.startURL
		case "sitemaps":
			cfg.Crawl.Sitemaps = splitList(f.sitemaps)
		case "output":
			cfg.Output.Path = f.output
		case "max-pages":
			cfg.Crawl.MaxPages = f.maxPages
		case "concurrency":
			cfg.Worker.Concurrency = f.concurrency
		case "delay":
			cfg.Crawl.Delay = config.DurationFrom(f.delay)
		case "ignore-robots":
			cfg.Crawl.IgnoreRobots = f.ignoreRobots
		case "use-sitemaps":
			cfg.Crawl.UseSitemaps = f.useSitemaps
		case "no-render":
			cfg.Rendering.Enabled = !f.noRender
		case "menu-selectors":
			cfg.Rendering.ExtraMenuSelectors = append(cfg.Rendering.ExtraMenuSelectors, splitList(f.menuSelectors)...)
		case "metrics-addr":
			cfg.Metrics.Addr = f.metricsAddr
		case "log-level":
			cfg.Logging.Level = f.logLevel
		}
	})
}
