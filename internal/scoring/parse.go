package scoring

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"compintel/pkg/types"
)

var (
	fenceOpen     = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceClose    = regexp.MustCompile("\\s*```$")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// extractJSON finds the first balanced JSON object in free-form model output.
func extractJSON(text string) (map[string]any, error) {
	s := strings.TrimSpace(text)
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")

	candidate := balancedObject(s)
	if candidate == "" {
		candidate = s
	}
	attempts := []string{
		candidate,
		strings.ReplaceAll(candidate, "'", `"`),
	}
	attempts = append(attempts, trailingComma.ReplaceAllString(attempts[1], "$1"))

	var lastErr error
	for _, attempt := range attempts {
		var out map[string]any
		if err := json.Unmarshal([]byte(attempt), &out); err != nil {
			lastErr = err
			continue
		}
		return out, nil
	}
	return nil, fmt.Errorf("no json object in model output: %w", lastErr)
}

// balancedObject returns the substring from the first '{' to its matching
// '}', ignoring braces inside quoted strings.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	var (
		depth   int
		inStr   bool
		quote   byte
		escaped bool
	)
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if inStr {
			if ch == quote {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"', '\'':
			inStr = true
			quote = ch
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func sentimentFromMap(m map[string]any) types.Sentiment {
	return types.Sentiment{
		Label:       normalizeLabel(stringField(m, "label", "sentiment")),
		Score:       clamp01(floatField(m, "score", "confidence")),
		Explanation: stringField(m, "explanation", "reason"),
	}
}

func alertFromMap(m map[string]any) types.Alert {
	isAlert := boolField(m, "is_alert", "alert", "should_alert")
	confidence := clamp01(floatField(m, "confidence", "score"))
	reason := stringField(m, "reason", "explanation", "why")
	if len(reason) > 1000 {
		reason = reason[:1000]
	}

	title := strings.TrimSpace(stringField(m, "suggested_title", "title"))
	if title == "" {
		snippet, _, _ := strings.Cut(reason, ".")
		if len(snippet) > 80 {
			snippet = snippet[:80]
		}
		title = strings.TrimSpace("Competitor alert: " + snippet)
	}
	message := strings.TrimSpace(stringField(m, "suggested_message", "message"))
	if message == "" {
		message = fmt.Sprintf("LLM reason: %s\nConfidence: %.2f\nAction: Review the post and decide whether to escalate.",
			strings.TrimSpace(reason), confidence)
	}
	return types.Alert{
		IsAlert:           isAlert,
		Confidence:        confidence,
		Reason:            reason,
		SuggestedTitle:    title,
		SuggestedMessage:  message,
		SuggestedSeverity: severityFor(stringField(m, "suggested_severity", "severity"), isAlert, confidence),
	}
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func floatField(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func boolField(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "1":
				return true
			}
		case float64:
			if v != 0 {
				return true
			}
		}
	}
	return false
}
