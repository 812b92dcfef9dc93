package scoring

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"compintel/internal/config"
	"compintel/pkg/types"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		key  string
		want any
	}{
		{"plain", `{"label":"positive","score":0.9}`, "label", "positive"},
		{"fenced", "```json\n{\"label\": \"negative\"}\n```", "label", "negative"},
		{"prose", `Sure! Here is the result: {"label":"neutral","explanation":"a {b} c"} hope this helps`, "explanation", "a {b} c"},
		{"single quotes", `{'is_alert': true, 'reason': 'launch'}`, "is_alert", true},
		{"trailing comma", `{"confidence": 0.4,}`, "confidence", 0.4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := extractJSON(tc.in)
			if err != nil {
				t.Fatalf("extractJSON(%q): %v", tc.in, err)
			}
			if m[tc.key] != tc.want {
				t.Fatalf("%s = %v, want %v", tc.key, m[tc.key], tc.want)
			}
		})
	}
	if _, err := extractJSON("no json here"); err == nil {
		t.Fatalf("expected error for text without an object")
	}
}

func TestAlertFromMapCoercion(t *testing.T) {
	alert := alertFromMap(map[string]any{
		"should_alert": "yes",
		"score":        1.7,
		"why":          "Competitor cut prices. More details follow",
	})
	if !alert.IsAlert || alert.Confidence != 1 {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if alert.SuggestedSeverity != types.SeverityHigh {
		t.Fatalf("severity = %q", alert.SuggestedSeverity)
	}
	if alert.SuggestedTitle != "Competitor alert: Competitor cut prices" {
		t.Fatalf("title = %q", alert.SuggestedTitle)
	}
	if !strings.Contains(alert.SuggestedMessage, "Confidence: 1.00") {
		t.Fatalf("message = %q", alert.SuggestedMessage)
	}

	quiet := alertFromMap(map[string]any{"is_alert": false, "confidence": 0.6, "severity": "bogus"})
	if quiet.SuggestedSeverity != types.SeverityLow {
		t.Fatalf("non-alerts default to low severity, got %q", quiet.SuggestedSeverity)
	}
}

func TestSentimentFromMap(t *testing.T) {
	s := sentimentFromMap(map[string]any{"label": "Very Positive", "score": "-3"})
	if s.Label != types.SentimentPositive || s.Score != 0 {
		t.Fatalf("unexpected sentiment %+v", s)
	}
	if got := sentimentFromMap(map[string]any{"label": "mixed"}).Label; got != types.SentimentNeutral {
		t.Fatalf("unknown labels map to neutral, got %q", got)
	}
}

func chatServer(t *testing.T, handler func(w http.ResponseWriter, prompt string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) != 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		handler(w, req.Messages[1].Content)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func reply(w http.ResponseWriter, content string) {
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
}

func testConfig(url string) config.ScoringConfig {
	return config.ScoringConfig{
		APIURL:         url,
		APIKey:         "test-key",
		Model:          "test-model",
		MaxRetries:     2,
		RetryBaseDelay: config.DurationFrom(time.Millisecond),
		RetryMaxDelay:  config.DurationFrom(5 * time.Millisecond),
		MaxTextChars:   4000,
		Breaker:        config.BreakerConfig{FailureThreshold: 3, Window: 3, Delay: config.DurationFrom(time.Minute)},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientScoreAndAlert(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, prompt string) {
		if strings.Contains(prompt, "COMPETITOR ALERT") {
			reply(w, `{"is_alert": true, "confidence": 0.6, "reason": "New pricing tier.", "suggested_title": "Pricing change"}`)
			return
		}
		reply(w, "Result:\n```json\n{\"label\":\"negative\",\"score\":0.75,\"explanation\":\"complaints\"}\n```")
	})
	client := NewClient(testConfig(srv.URL), srv.Client(), discardLogger())

	post := types.Post{UID: "p1", Text: "Our rival launched a cheaper plan", Comments: []types.Comment{{Author: "a", Text: "wow"}}}
	AnnotatePost(context.Background(), client, &post)

	if post.Sentiment == nil || post.Sentiment.Label != types.SentimentNegative || post.Sentiment.Score != 0.75 {
		t.Fatalf("unexpected sentiment %+v", post.Sentiment)
	}
	if post.Alert == nil || !post.Alert.IsAlert || post.Alert.SuggestedSeverity != types.SeverityMedium {
		t.Fatalf("unexpected alert %+v", post.Alert)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, _ string) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		reply(w, `{"label":"positive","score":0.5}`)
	})
	cfg := testConfig(srv.URL)
	cfg.Breaker.FailureThreshold = 10
	cfg.Breaker.Window = 10
	client := NewClient(cfg, srv.Client(), discardLogger())

	got := client.Score(context.Background(), "great", nil)
	if got.Label != types.SentimentPositive {
		t.Fatalf("expected success after retries, got %+v", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestClientFallsBackOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, _ string) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0
	client := NewClient(cfg, srv.Client(), discardLogger())

	for i := 0; i < 5; i++ {
		s := client.Score(context.Background(), "text", nil)
		if s.Label != types.SentimentNeutral || s.Score != 0 || s.Explanation == "" {
			t.Fatalf("expected neutral fallback, got %+v", s)
		}
	}
	if !client.BreakerOpen() {
		t.Fatalf("breaker should open after repeated failures")
	}
	if calls.Load() != 3 {
		t.Fatalf("open breaker should short-circuit calls, got %d", calls.Load())
	}

	a := client.Alert(context.Background(), "text", nil, map[string]string{"target_company": "Acme"})
	if a.IsAlert || a.SuggestedSeverity != types.SeverityLow {
		t.Fatalf("expected no-alert fallback, got %+v", a)
	}
}

func TestClientUnparseableReply(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, _ string) {
		reply(w, "I cannot answer that")
	})
	client := NewClient(testConfig(srv.URL), srv.Client(), discardLogger())
	s := client.Score(context.Background(), "x", nil)
	if s.Label != types.SentimentNeutral || !strings.Contains(s.Explanation, "I cannot answer that") {
		t.Fatalf("unexpected fallback %+v", s)
	}
}

func TestAlertPromptIncludesMetadata(t *testing.T) {
	p := alertPrompt("hello", nil, map[string]string{"target_company": "Acme", "platform": "linkedin"}, 0)
	if !strings.Contains(p, "- platform: linkedin\n- target_company: Acme") {
		t.Fatalf("metadata not rendered in order:\n%s", p)
	}
	long := sentimentPrompt(strings.Repeat("é", 2000), nil, 500)
	if !strings.HasSuffix(long, "[TRUNCATED]") || len(long) > 500 {
		t.Fatalf("prompt not truncated: %d bytes", len(long))
	}
}
