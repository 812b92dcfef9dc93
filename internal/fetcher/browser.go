package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"
)

// ErrRendererUnavailable is returned when rendering is required but the
// browser cannot be started.
var ErrRendererUnavailable = errors.New("renderer unavailable")

// BrowserOptions configures the shared headless browser.
type BrowserOptions struct {
	UserAgent          string
	DisableHeadless    bool
	ExecPath           string
	ConcurrentSessions int
}

// Browser owns one headless Chrome process shared by all render calls. Tabs
// are handed out through a weighted semaphore so at most ConcurrentSessions
// pages are open at once.
type Browser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	sem           *semaphore.Weighted
	inflight      atomic.Int64
	logger        *slog.Logger
	closeOnce     sync.Once
}

// StartBrowser launches the browser process. The allocator is detached from
// any caller context so that interrupting a run does not kill a page that a
// worker is still finishing; call Close to shut it down.
func StartBrowser(opts BrowserOptions, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ConcurrentSessions <= 0 {
		opts.ConcurrentSessions = 1
	}

	execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	execOpts = append(execOpts,
		chromedp.Flag("headless", !opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if ua := strings.TrimSpace(selectUserAgent(opts.UserAgent)); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}
	if path := strings.TrimSpace(opts.ExecPath); path != "" {
		execOpts = append(execOpts, chromedp.ExecPath(path))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", ErrRendererUnavailable, err)
	}

	logger.Info("headless browser started", "sessions", opts.ConcurrentSessions, "headless", !opts.DisableHeadless)
	return &Browser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		sem:           semaphore.NewWeighted(int64(opts.ConcurrentSessions)),
		logger:        logger,
	}, nil
}

// Tab is one checked-out browser page. Release must be called on every path.
type Tab struct {
	ctx     context.Context
	release func()
}

// Context returns the chromedp context bound to this tab.
func (t *Tab) Context() context.Context {
	return t.ctx
}

// Release closes the page and returns its slot to the browser.
func (t *Tab) Release() {
	t.release()
}

// Checkout waits for a free session slot and opens a new page.
func (b *Browser) Checkout(ctx context.Context) (*Tab, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire render slot: %w", err)
	}
	b.inflight.Add(1)

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	stop := context.AfterFunc(ctx, tabCancel)

	var once sync.Once
	return &Tab{
		ctx: tabCtx,
		release: func() {
			once.Do(func() {
				stop()
				tabCancel()
				b.inflight.Add(-1)
				b.sem.Release(1)
			})
		},
	}, nil
}

// InFlight reports how many pages are currently open.
func (b *Browser) InFlight() float64 {
	if b == nil {
		return 0
	}
	return float64(b.inflight.Load())
}

// Close terminates the browser process.
func (b *Browser) Close() error {
	if b == nil {
		return nil
	}
	var err error
	b.closeOnce.Do(func() {
		err = chromedp.Cancel(b.browserCtx)
		b.browserCancel()
		b.allocCancel()
		b.logger.Info("headless browser stopped")
	})
	return err
}

func selectUserAgent(base string) string {
	if strings.TrimSpace(base) != "" {
		return base
	}
	return "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"
}
