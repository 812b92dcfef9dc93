package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"compintel/internal/config"
)

var cfgFile string

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, colorError(prefixError), err)
		os.Exit(1)
	}
}

// newRootCmd returns the crawl command with the posts and pages subcommands.
func newRootCmd() *cobra.Command {
	root := newCrawlCmd()
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to crawler configuration file")
	root.AddCommand(newPostsCmd())
	root.AddCommand(newPagesCmd())
	return root
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		decoded, err := config.Decode(cfgFile)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = decoded
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
