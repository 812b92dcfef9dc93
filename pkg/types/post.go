package types

import "time"

// Sentiment labels accepted from the scoring service.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Alert severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Sentiment is the output of the sentiment scoring contract.
type Sentiment struct {
	Label       string  `json:"label"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// Alert is the output of the competitor alert contract.
type Alert struct {
	IsAlert           bool    `json:"is_alert"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason"`
	SuggestedTitle    string  `json:"suggested_title"`
	SuggestedMessage  string  `json:"suggested_message"`
	SuggestedSeverity string  `json:"suggested_severity"`
}

// Comment is a reply attached to a social post.
type Comment struct {
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

// Post is the per-post record handed to the persistence layer.
type Post struct {
	UID           string            `json:"uid"`
	CompanyID     int64             `json:"company_id"`
	Platform      string            `json:"platform"`
	URL           string            `json:"url"`
	Text          string            `json:"text"`
	PostedAt      time.Time         `json:"posted_at"`
	ScrapedAt     time.Time         `json:"scraped_at"`
	Likes         int               `json:"likes"`
	CommentsCount int               `json:"comments_count"`
	Shares        int               `json:"shares"`
	Comments      []Comment         `json:"comments,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Sentiment     *Sentiment        `json:"sentiment,omitempty"`
	Alert         *Alert            `json:"alert,omitempty"`
}
