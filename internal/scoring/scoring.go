// Package scoring implements the sentiment and competitor-alert contracts used
// to annotate crawled pages and social posts.
package scoring

import (
	"context"
	"strings"

	"compintel/pkg/types"
)

// Scorer classifies text. Implementations never fail: any upstream problem
// degrades to NeutralSentiment or NoAlert with the cause in the reason field.
type Scorer interface {
	Score(ctx context.Context, text string, comments []types.Comment) types.Sentiment
	Alert(ctx context.Context, text string, comments []types.Comment, metadata map[string]string) types.Alert
}

// NeutralSentiment is the fallback sentiment.
func NeutralSentiment(reason string) types.Sentiment {
	return types.Sentiment{Label: types.SentimentNeutral, Score: 0, Explanation: reason}
}

// NoAlert is the fallback alert.
func NoAlert(reason string) types.Alert {
	return types.Alert{
		IsAlert:           false,
		Confidence:        0,
		Reason:            reason,
		SuggestedTitle:    "No alert",
		SuggestedSeverity: types.SeverityLow,
	}
}

// AnnotatePost attaches sentiment and alert results to post.
func AnnotatePost(ctx context.Context, s Scorer, post *types.Post) {
	if s == nil || post == nil {
		return
	}
	sentiment := s.Score(ctx, post.Text, post.Comments)
	alert := s.Alert(ctx, post.Text, post.Comments, post.Metadata)
	post.Sentiment = &sentiment
	post.Alert = &alert
}

func clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func normalizeLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.Contains(l, "pos"):
		return types.SentimentPositive
	case strings.Contains(l, "neg"):
		return types.SentimentNegative
	default:
		return types.SentimentNeutral
	}
}

// severityFor derives a severity when the model did not supply a valid one.
func severityFor(raw string, isAlert bool, confidence float64) string {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case types.SeverityLow, types.SeverityMedium, types.SeverityHigh:
		return s
	}
	switch {
	case !isAlert:
		return types.SeverityLow
	case confidence >= 0.85:
		return types.SeverityHigh
	case confidence >= 0.5:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}
