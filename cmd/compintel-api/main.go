package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"compintel/internal/api"
	"compintel/internal/config"
	"compintel/internal/crawler"
	"compintel/internal/runstate"
	"compintel/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "", "Path to crawler configuration file")
	addr := flag.String("addr", resolveAddr(), "HTTP listen address")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to read .env: %v", err)
	}

	cfg := config.Default()
	if *cfgPath != "" {
		decoded, err := config.Decode(*cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = decoded
	}
	cfg.ApplyEnv()

	logger, err := crawler.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runs runstate.Store = runstate.NewMemoryStore()
	if redisStore, err := runstate.NewRedisStore(ctx, cfg.Redis); err != nil {
		logger.Error("failed to initialise redis run store", "error", err)
	} else if redisStore != nil {
		runs = redisStore
	}
	defer runs.Close()

	var pages api.PageStore
	if cfg.DB.DSN != "" {
		if cfg.DB.Driver == "" {
			cfg.DB.Driver = "postgres"
		}
		pageStore, err := storage.NewSQLWriter(cfg.DB)
		if err != nil {
			log.Fatalf("failed to initialise page store: %v", err)
		}
		defer pageStore.Close()
		pages = pageStore
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           api.NewServer(runs, pages, prometheus.DefaultGatherer, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
	}()

	logger.Info("api server listening", "addr", *addr, "redis", cfg.Redis.Addr != "", "database", pages != nil)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("api server stopped")
}

func resolveAddr() string {
	if v := os.Getenv("COMPINTEL_API_ADDR"); v != "" {
		return v
	}
	return ":8080"
}
