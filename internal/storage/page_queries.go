package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pq "github.com/lib/pq"
)

// PageListParams controls pagination and filtering.
type PageListParams struct {
	Page           int
	PageSize       int
	Search         string
	Classification string
}

// PageSummary is a stored page result in list view.
type PageSummary struct {
	RunID          string    `json:"run_id"`
	URL            string    `json:"url"`
	Title          string    `json:"title,omitempty"`
	Classification string    `json:"classification"`
	Rendered       bool      `json:"rendered_with_playwright"`
	LinksSample    []string  `json:"links_sample,omitempty"`
	SentimentLabel string    `json:"sentiment_label,omitempty"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

// PageListResult wraps summaries with pagination metadata.
type PageListResult struct {
	RunID    string        `json:"run_id"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []PageSummary `json:"items"`
}

// ListPages returns the stored results of one run, newest first.
func (s *SQLWriter) ListPages(ctx context.Context, runID string, params PageListParams) (PageListResult, error) {
	if s == nil || s.db == nil {
		return PageListResult{}, fmt.Errorf("sql store not initialised")
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}

	where := []string{"run_id = $1"}
	args := []any{runID}
	if search := strings.TrimSpace(params.Search); search != "" {
		args = append(args, "%"+search+"%")
		where = append(where, fmt.Sprintf("(url ILIKE $%d OR title ILIKE $%d)", len(args), len(args)))
	}
	if class := strings.TrimSpace(params.Classification); class != "" {
		args = append(args, class)
		where = append(where, fmt.Sprintf("classification = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	result := PageListResult{RunID: runID, Page: page, PageSize: pageSize}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM crawl_pages WHERE "+clause, args...).Scan(&result.Total); err != nil {
		return PageListResult{}, fmt.Errorf("count pages: %w", err)
	}

	listArgs := append(append([]any{}, args...), pageSize, (page-1)*pageSize)
	listQuery := fmt.Sprintf(`
        SELECT run_id, url, title, classification, rendered, links_sample, sentiment_label, scraped_at
        FROM crawl_pages
        WHERE %s
        ORDER BY scraped_at DESC, url
        LIMIT $%d OFFSET $%d`, clause, len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return PageListResult{}, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	items := make([]PageSummary, 0, pageSize)
	for rows.Next() {
		item, err := scanPageSummary(rows)
		if err != nil {
			return PageListResult{}, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return PageListResult{}, err
	}
	result.Items = items
	return result, nil
}

// GetPage returns one stored page result, or sql.ErrNoRows.
func (s *SQLWriter) GetPage(ctx context.Context, runID, pageURL string) (PageSummary, error) {
	if s == nil || s.db == nil {
		return PageSummary{}, fmt.Errorf("sql store not initialised")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT run_id, url, title, classification, rendered, links_sample, sentiment_label, scraped_at
        FROM crawl_pages
        WHERE run_id = $1 AND url = $2`, runID, pageURL)
	item, err := scanPageSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PageSummary{}, sql.ErrNoRows
		}
		return PageSummary{}, err
	}
	return item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPageSummary(row rowScanner) (PageSummary, error) {
	var (
		item      PageSummary
		title     sql.NullString
		class     sql.NullString
		links     pq.StringArray
		sentiment sql.NullString
	)
	if err := row.Scan(&item.RunID, &item.URL, &title, &class, &item.Rendered, &links, &sentiment, &item.ScrapedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PageSummary{}, err
		}
		return PageSummary{}, fmt.Errorf("scan page: %w", err)
	}
	item.Title = title.String
	item.Classification = class.String
	item.LinksSample = []string(links)
	item.SentimentLabel = sentiment.String
	return item, nil
}
