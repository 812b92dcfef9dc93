package types

import "time"

// FetchMode records which fetch strategy produced a page's content.
type FetchMode string

const (
	FetchPlain    FetchMode = "plain"
	FetchRendered FetchMode = "rendered"
)

// VisitStatus is the terminal outcome recorded for a URL.
type VisitStatus string

const (
	StatusOK               VisitStatus = "ok"
	StatusBlockedByRobots  VisitStatus = "blocked_by_robots"
	StatusOffDomain        VisitStatus = "off_domain"
	StatusFetchFailed      VisitStatus = "fetch_failed"
	StatusSkippedExtension VisitStatus = "skipped_extension"
)

// CrawlTarget models a work item held by the frontier.
type CrawlTarget struct {
	URL            string
	DiscoveredFrom string
	DiscoveredAt   time.Time
}

// VisitedRecord is written exactly once per URL when a worker finishes with it.
type VisitedRecord struct {
	URL        string      `json:"url"`
	FetchMode  FetchMode   `json:"fetch_mode,omitempty"`
	Status     VisitStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	HTMLLength int         `json:"html_length"`
	LinksFound int         `json:"links_found"`
	VisitedAt  time.Time   `json:"visited_at"`
}

// PageResult is the per-page record appended to the run output.
type PageResult struct {
	URL            string     `json:"url"`
	Title          string     `json:"title"`
	Classification string     `json:"classification"`
	Rendered       bool       `json:"rendered_with_playwright"`
	LinksSample    []string   `json:"links_sample"`
	Sentiment      *Sentiment `json:"sentiment,omitempty"`
}

// RunDocument is the JSON artefact written at the end of a run.
type RunDocument struct {
	StartURL        string       `json:"start_url,omitempty"`
	StartSitemaps   []string     `json:"start_sitemaps,omitempty"`
	ScrapedAt       string       `json:"scraped_at"`
	Results         []PageResult `json:"results"`
	VisitedCount    int          `json:"visited_count"`
	DiscoveredCount int          `json:"discovered_count"`
}
