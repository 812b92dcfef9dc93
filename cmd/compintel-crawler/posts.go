package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"compintel/internal/crawler"
	"compintel/internal/scoring"
	"compintel/internal/storage"
	"compintel/pkg/types"
)

func newPostsCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "posts FILE",
		Short: "Score a JSON array of posts and store them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPosts(cmd.Context(), args[0], dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print scored posts instead of storing them")
	return cmd
}

// runPosts scores every post in a JSON file and upserts it into the database.
func runPosts(ctx context.Context, path string, dryRun bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Scoring.APIKey == "" {
		return errors.New("posts: scoring.api_key or OPENAI_API_KEY must be set")
	}
	logger, err := crawler.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read posts: %w", err)
	}
	var posts []types.Post
	if err := json.Unmarshal(raw, &posts); err != nil {
		return fmt.Errorf("decode posts: %w", err)
	}

	var writer *storage.SQLWriter
	if !dryRun {
		if cfg.DB.DSN == "" {
			return errors.New("posts: db.dsn or DATABASE_URL must be set (or use --dry-run)")
		}
		if cfg.DB.Driver == "" {
			cfg.DB.Driver = "postgres"
		}
		writer, err = storage.NewSQLWriter(cfg.DB)
		if err != nil {
			return err
		}
		defer writer.Close()
	}

	scorer := scoring.NewClient(cfg.Scoring, nil, logger)
	alerts := 0
	for i := range posts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		post := &posts[i]
		if post.UID == "" {
			post.UID = uuid.NewString()
		}
		if post.ScrapedAt.IsZero() {
			post.ScrapedAt = time.Now().UTC()
		}
		scoring.AnnotatePost(ctx, scorer, post)
		if post.Alert != nil && post.Alert.IsAlert {
			alerts++
			logWarn("%s %s", colorBold(post.Alert.SuggestedTitle), colorDim(post.URL))
		}
		if writer == nil {
			continue
		}
		if err := writer.SavePost(ctx, *post); err != nil {
			return fmt.Errorf("save post %s: %w", post.UID, err)
		}
	}

	if dryRun {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(posts); err != nil {
			return err
		}
	}
	logSuccess("scored %d posts, %d alerts", len(posts), alerts)
	if scorer.BreakerOpen() {
		logWarn("scoring circuit breaker is open; some posts carry fallback scores")
	}
	return nil
}
