// Package frontier holds the crawl state machine: the FIFO queue of
// discovered URLs, the discovered set, and the visited ledger, all guarded
// by one lock so every check-then-insert is atomic.
package frontier

import (
	"sort"
	"sync"
	"time"

	"compintel/pkg/types"
)

// Stats is a point-in-time view of the frontier.
type Stats struct {
	Pending    int
	InFlight   int
	Visited    int
	Discovered int
	Skipped    int
}

// Frontier tracks unseen → queued → in-flight → visited transitions.
//
// Budget: a URL counts against maxPages once it is dequeued, so visited plus
// in-flight never exceeds the budget and the visited count cannot overshoot
// even with many workers.
type Frontier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []types.CrawlTarget
	discovered map[string]struct{}
	visited    map[string]types.VisitedRecord
	skipped    map[string]types.VisitedRecord
	order      []string
	inFlight   int
	maxPages   int
	closed     bool
}

// New returns an empty frontier with the given page budget.
func New(maxPages int) *Frontier {
	f := &Frontier{
		discovered: make(map[string]struct{}),
		visited:    make(map[string]types.VisitedRecord),
		skipped:    make(map[string]types.VisitedRecord),
		maxPages:   maxPages,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Seed enqueues a start URL. It reports false when the URL was already discovered.
func (f *Frontier) Seed(url string) bool {
	return f.Discover(types.CrawlTarget{URL: url, DiscoveredAt: time.Now().UTC()})
}

// Discover atomically adds target to the discovered set and the queue if it
// has not been seen before.
func (f *Frontier) Discover(target types.CrawlTarget) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if _, seen := f.discovered[target.URL]; seen {
		return false
	}
	if target.DiscoveredAt.IsZero() {
		target.DiscoveredAt = time.Now().UTC()
	}
	f.discovered[target.URL] = struct{}{}
	f.queue = append(f.queue, target)
	f.cond.Signal()
	return true
}

// Next blocks until a URL is available and claims it for the caller. It
// returns false when the crawl is over: the budget is claimed, the frontier
// was closed, or the queue is empty with nothing in flight that could add
// more work.
func (f *Frontier) Next() (types.CrawlTarget, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closed || f.budgetClaimedLocked() {
			return types.CrawlTarget{}, false
		}
		if len(f.queue) > 0 {
			target := f.queue[0]
			f.queue[0] = types.CrawlTarget{}
			f.queue = f.queue[1:]
			f.inFlight++
			return target, true
		}
		if f.inFlight == 0 {
			// Nothing queued and nobody can discover more: wake the others so
			// they observe the same condition and exit.
			f.cond.Broadcast()
			return types.CrawlTarget{}, false
		}
		f.cond.Wait()
	}
}

func (f *Frontier) budgetClaimedLocked() bool {
	return f.maxPages > 0 && len(f.visited)+f.inFlight >= f.maxPages
}

// Complete records the terminal outcome of a URL previously returned by
// Next. A URL is recorded at most once; later records are ignored.
func (f *Frontier) Complete(rec types.VisitedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	if _, done := f.visited[rec.URL]; !done {
		if rec.VisitedAt.IsZero() {
			rec.VisitedAt = time.Now().UTC()
		}
		f.visited[rec.URL] = rec
		f.order = append(f.order, rec.URL)
	}
	f.cond.Broadcast()
}

// Skip records a link that was found but never queued (off-domain or
// denylisted extension). Skipped links do not count against the budget.
func (f *Frontier) Skip(rec types.VisitedRecord) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.discovered[rec.URL]; seen {
		return false
	}
	if _, seen := f.skipped[rec.URL]; seen {
		return false
	}
	if rec.VisitedAt.IsZero() {
		rec.VisitedAt = time.Now().UTC()
	}
	f.skipped[rec.URL] = rec
	return true
}

// Close stops the frontier: pending Next calls return false and no further
// URLs are accepted. In-flight URLs may still be completed.
func (f *Frontier) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Stats returns current counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Pending:    len(f.queue),
		InFlight:   f.inFlight,
		Visited:    len(f.visited),
		Discovered: len(f.discovered),
		Skipped:    len(f.skipped),
	}
}

// Visited returns visited records in completion order.
func (f *Frontier) Visited() []types.VisitedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.VisitedRecord, 0, len(f.order))
	for _, u := range f.order {
		out = append(out, f.visited[u])
	}
	return out
}

// Skipped returns skipped records sorted by URL.
func (f *Frontier) Skipped() []types.VisitedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.VisitedRecord, 0, len(f.skipped))
	for _, rec := range f.skipped {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
