package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"compintel/internal/config"
	"compintel/pkg/types"
)

// SQLWriter persists page results, visits and posts into Postgres.
type SQLWriter struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLWriter initialises a SQLWriter from configuration.
func NewSQLWriter(cfg config.SQLConfig) (*SQLWriter, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	writer, err := NewSQLWriterFromDB(db, cfg.AutoMigrate)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

// NewSQLWriterFromDB wraps an open handle, applying the schema when autoMigrate is set.
func NewSQLWriterFromDB(db *sql.DB, autoMigrate bool) (*SQLWriter, error) {
	writer := &SQLWriter{db: db, autoMigrate: autoMigrate}
	if autoMigrate {
		if err := writer.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return writer, nil
}

// SavePage upserts a page result keyed by (run_id, url).
func (s *SQLWriter) SavePage(ctx context.Context, runID string, page types.PageResult) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.withSchemaRetry(ctx, "insert page", func() error {
		return s.upsertPage(ctx, runID, page)
	})
}

func (s *SQLWriter) upsertPage(ctx context.Context, runID string, page types.PageResult) error {
	query := `
        INSERT INTO crawl_pages (run_id, url, title, classification, rendered, links_sample, sentiment_label, sentiment_score, scraped_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (run_id, url) DO UPDATE SET
            title = EXCLUDED.title,
            classification = EXCLUDED.classification,
            rendered = EXCLUDED.rendered,
            links_sample = EXCLUDED.links_sample,
            sentiment_label = EXCLUDED.sentiment_label,
            sentiment_score = EXCLUDED.sentiment_score,
            scraped_at = EXCLUDED.scraped_at
    `
	var label sql.NullString
	var score sql.NullFloat64
	if page.Sentiment != nil {
		label = sql.NullString{String: page.Sentiment.Label, Valid: true}
		score = sql.NullFloat64{Float64: page.Sentiment.Score, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		runID,
		page.URL,
		page.Title,
		page.Classification,
		page.Rendered,
		pq.Array(page.LinksSample),
		label,
		score,
		time.Now().UTC(),
	)
	return err
}

// SaveVisit records the terminal outcome of a URL.
func (s *SQLWriter) SaveVisit(ctx context.Context, runID string, rec types.VisitedRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	query := `
        INSERT INTO crawl_visits (run_id, url, status, fetch_mode, reason, html_length, links_found, visited_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (run_id, url) DO NOTHING
    `
	return s.withSchemaRetry(ctx, "insert visit", func() error {
		_, err := s.db.ExecContext(ctx, query,
			runID,
			rec.URL,
			string(rec.Status),
			string(rec.FetchMode),
			rec.Reason,
			rec.HTMLLength,
			rec.LinksFound,
			rec.VisitedAt,
		)
		return err
	})
}

// SavePost upserts a social media post keyed by uid.
func (s *SQLWriter) SavePost(ctx context.Context, post types.Post) error {
	if s == nil || s.db == nil {
		return nil
	}
	if strings.TrimSpace(post.UID) == "" {
		return errors.New("post uid is required")
	}
	comments, err := json.Marshal(post.Comments)
	if err != nil {
		return fmt.Errorf("encode comments: %w", err)
	}
	metadata, err := json.Marshal(post.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var (
		label       sql.NullString
		score       sql.NullFloat64
		explanation sql.NullString
		isAlert     bool
		alert       []byte
	)
	if post.Sentiment != nil {
		label = sql.NullString{String: post.Sentiment.Label, Valid: true}
		score = sql.NullFloat64{Float64: post.Sentiment.Score, Valid: true}
		explanation = sql.NullString{String: post.Sentiment.Explanation, Valid: true}
	}
	if post.Alert != nil {
		isAlert = post.Alert.IsAlert
		if alert, err = json.Marshal(post.Alert); err != nil {
			return fmt.Errorf("encode alert: %w", err)
		}
	}

	query := `
        INSERT INTO social_media_post (uid, company_id, platform, url, text, posted_at, scraped_at,
            likes, comments_count, shares, comments, metadata,
            sentiment_label, sentiment_score, sentiment_explanation, is_alert, alert)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
        ON CONFLICT (uid) DO UPDATE SET
            text = EXCLUDED.text,
            scraped_at = EXCLUDED.scraped_at,
            likes = EXCLUDED.likes,
            comments_count = EXCLUDED.comments_count,
            shares = EXCLUDED.shares,
            comments = EXCLUDED.comments,
            metadata = EXCLUDED.metadata,
            sentiment_label = EXCLUDED.sentiment_label,
            sentiment_score = EXCLUDED.sentiment_score,
            sentiment_explanation = EXCLUDED.sentiment_explanation,
            is_alert = EXCLUDED.is_alert,
            alert = EXCLUDED.alert
    `
	return s.withSchemaRetry(ctx, "insert post", func() error {
		_, err := s.db.ExecContext(ctx, query,
			post.UID,
			post.CompanyID,
			post.Platform,
			post.URL,
			post.Text,
			nullTime(post.PostedAt),
			nullTime(post.ScrapedAt),
			post.Likes,
			post.CommentsCount,
			post.Shares,
			comments,
			metadata,
			label,
			score,
			explanation,
			isAlert,
			alert,
		)
		return err
	})
}

func (s *SQLWriter) withSchemaRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if s.autoMigrate && isUndefinedTableErr(err) {
		if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
			return fmt.Errorf("ensure schema: %w", schemaErr)
		}
		if retryErr := fn(); retryErr != nil {
			return fmt.Errorf("%s: %w", op, retryErr)
		}
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close closes the underlying DB connection.
func (s *SQLWriter) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(cfg.Driver, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS crawl_pages (
	    run_id TEXT NOT NULL,
	    url TEXT NOT NULL,
	    title TEXT,
	    classification TEXT,
	    rendered BOOLEAN NOT NULL DEFAULT FALSE,
	    links_sample TEXT[],
	    sentiment_label TEXT,
	    sentiment_score DOUBLE PRECISION,
	    scraped_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	    PRIMARY KEY (run_id, url)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_pages_classification ON crawl_pages (classification)`,
	`CREATE TABLE IF NOT EXISTS crawl_visits (
	    run_id TEXT NOT NULL,
	    url TEXT NOT NULL,
	    status TEXT NOT NULL,
	    fetch_mode TEXT,
	    reason TEXT,
	    html_length INT,
	    links_found INT,
	    visited_at TIMESTAMPTZ,
	    PRIMARY KEY (run_id, url)
	)`,
	`CREATE TABLE IF NOT EXISTS social_media_post (
	    uid TEXT PRIMARY KEY,
	    company_id BIGINT,
	    platform TEXT,
	    url TEXT,
	    text TEXT,
	    posted_at TIMESTAMPTZ,
	    scraped_at TIMESTAMPTZ,
	    likes INT,
	    comments_count INT,
	    shares INT,
	    comments JSONB,
	    metadata JSONB,
	    sentiment_label TEXT,
	    sentiment_score DOUBLE PRECISION,
	    sentiment_explanation TEXT,
	    is_alert BOOLEAN NOT NULL DEFAULT FALSE,
	    alert JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_social_media_post_company ON social_media_post (company_id, posted_at DESC)`,
}

func (s *SQLWriter) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
