package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"compintel/internal/config"
	"compintel/pkg/types"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxChars   int
	executor   failsafe.Executor[string]
	breaker    circuitbreaker.CircuitBreaker[string]
	logger     *slog.Logger
}

var _ Scorer = (*Client)(nil)

// statusError is a non-2xx reply from the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("scoring api status %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var pe *parseError
	return !errors.As(err, &pe)
}

type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// NewClient builds a scoring client. A nil httpClient uses one with cfg.Timeout.
func NewClient(cfg config.ScoringConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := cfg.RetryBaseDelay.Duration
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := cfg.RetryMaxDelay.Duration
	if maxDelay < base {
		maxDelay = base
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	retry := retrypolicy.NewBuilder[string]().
		HandleIf(func(_ string, err error) bool { return retryable(err) }).
		WithBackoff(base, maxDelay).
		WithMaxRetries(retries).
		WithJitterFactor(0.1).
		Build()

	threshold := uint(max(cfg.Breaker.FailureThreshold, 1))
	window := uint(max(cfg.Breaker.Window, int(threshold)))
	delay := cfg.Breaker.Delay.Duration
	if delay <= 0 {
		delay = 30 * time.Second
	}
	breaker := circuitbreaker.NewBuilder[string]().
		HandleIf(func(_ string, err error) bool { return retryable(err) }).
		WithFailureThresholdRatio(threshold, window).
		WithDelay(delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.Warn("scoring circuit breaker state change",
				slog.String("from", stateName(event.OldState)),
				slog.String("to", stateName(event.NewState)))
		}).
		Build()

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	baseURL := strings.TrimRight(cfg.APIURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		maxChars:   cfg.MaxTextChars,
		executor:   failsafe.With[string](retry, breaker),
		breaker:    breaker,
		logger:     logger,
	}
}

// Score classifies the sentiment of text and its comments.
func (c *Client) Score(ctx context.Context, text string, comments []types.Comment) types.Sentiment {
	out, err := c.complete(ctx, sentimentSystem, sentimentPrompt(text, comments, c.maxChars))
	if err != nil {
		c.logger.Warn("sentiment scoring failed", slog.String("error", err.Error()))
		return NeutralSentiment("scoring unavailable: " + err.Error())
	}
	m, err := extractJSON(out)
	if err != nil {
		return NeutralSentiment("failed to parse model response: " + truncate(out, 200))
	}
	return sentimentFromMap(m)
}

// Alert decides whether text should raise a competitor alert.
func (c *Client) Alert(ctx context.Context, text string, comments []types.Comment, metadata map[string]string) types.Alert {
	out, err := c.complete(ctx, alertSystem, alertPrompt(text, comments, metadata, c.maxChars))
	if err != nil {
		c.logger.Warn("alert scoring failed", slog.String("error", err.Error()))
		return NoAlert("scoring unavailable: " + err.Error())
	}
	m, err := extractJSON(out)
	if err != nil {
		return NoAlert("failed to parse model response: " + truncate(out, 400))
	}
	return alertFromMap(m)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, system, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	return c.executor.WithContext(ctx).Get(func() (string, error) {
		return c.post(ctx, payload)
	})
}

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{code: resp.StatusCode, body: truncate(string(body), 200)}
	}
	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &parseError{err: fmt.Errorf("decode chat response: %w", err)}
	}
	if len(decoded.Choices) == 0 {
		return "", &parseError{err: errors.New("chat response has no choices")}
	}
	return decoded.Choices[0].Message.Content, nil
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerOpen reports whether scoring calls are currently short-circuited.
func (c *Client) BreakerOpen() bool {
	return c.breaker.IsOpen()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8Boundary(s, n) {
		n--
	}
	return s[:n]
}
