package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"compintel/internal/config"
)

// DomainLimiter applies an optional token bucket per host on top of the
// per-worker politeness delay.
type DomainLimiter struct {
	every time.Duration
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDomainLimiter returns nil when rate limiting is not configured; a nil
// limiter never blocks.
func NewDomainLimiter(cfg config.RateLimitConfig) *DomainLimiter {
	if !cfg.Enabled() {
		return nil
	}
	every := cfg.Window.Duration / time.Duration(cfg.Requests)
	if every <= 0 {
		every = time.Millisecond
	}
	return &DomainLimiter{
		every:    every,
		burst:    cfg.Requests,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host's bucket has a token.
func (d *DomainLimiter) Wait(ctx context.Context, host string) error {
	if d == nil || host == "" {
		return nil
	}
	return d.limiterFor(strings.ToLower(host)).Wait(ctx)
}

func (d *DomainLimiter) limiterFor(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	limiter, ok := d.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(d.every), d.burst)
		d.limiters[host] = limiter
	}
	return limiter
}

// pause sleeps for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
