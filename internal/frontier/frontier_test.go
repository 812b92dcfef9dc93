package frontier

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"compintel/pkg/types"
)

func TestFIFOAndDedupe(t *testing.T) {
	f := New(10)
	f.Seed("https://a.test/")
	if f.Discover(types.CrawlTarget{URL: "https://a.test/"}) {
		t.Fatalf("duplicate discovery accepted")
	}
	f.Discover(types.CrawlTarget{URL: "https://a.test/1"})
	f.Discover(types.CrawlTarget{URL: "https://a.test/2"})

	for _, want := range []string{"https://a.test/", "https://a.test/1", "https://a.test/2"} {
		got, ok := f.Next()
		if !ok || got.URL != want {
			t.Fatalf("Next() = %q %v, want %q", got.URL, ok, want)
		}
		f.Complete(types.VisitedRecord{URL: got.URL, Status: types.StatusOK})
	}
	if _, ok := f.Next(); ok {
		t.Fatalf("expected empty frontier to terminate")
	}
	if s := f.Stats(); s.Visited != 3 || s.Discovered != 3 || s.Pending != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestBudgetCountsInFlight(t *testing.T) {
	f := New(2)
	for i := 0; i < 5; i++ {
		f.Discover(types.CrawlTarget{URL: fmt.Sprintf("https://a.test/%d", i)})
	}
	a, _ := f.Next()
	b, _ := f.Next()
	if _, ok := f.Next(); ok {
		t.Fatalf("budget exceeded while two URLs in flight")
	}
	f.Complete(types.VisitedRecord{URL: a.URL})
	f.Complete(types.VisitedRecord{URL: b.URL})
	if _, ok := f.Next(); ok {
		t.Fatalf("budget exceeded after completion")
	}
	if got := f.Stats().Visited; got != 2 {
		t.Fatalf("visited = %d", got)
	}
}

func TestNextWaitsForInFlightDiscovery(t *testing.T) {
	f := New(10)
	f.Seed("https://a.test/")
	first, _ := f.Next()

	got := make(chan string, 1)
	go func() {
		target, ok := f.Next()
		if !ok {
			got <- ""
			return
		}
		got <- target.URL
	}()

	time.Sleep(20 * time.Millisecond)
	f.Discover(types.CrawlTarget{URL: "https://a.test/child", DiscoveredFrom: first.URL})
	f.Complete(types.VisitedRecord{URL: first.URL})

	select {
	case u := <-got:
		if u != "https://a.test/child" {
			t.Fatalf("waiting worker got %q", u)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiting worker never woke")
	}
}

func TestCloseReleasesWaiters(t *testing.T) {
	f := New(10)
	f.Seed("https://a.test/")
	f.Next()

	done := make(chan bool, 1)
	go func() {
		_, ok := f.Next()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	f.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("Next should fail after Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("Close did not wake waiter")
	}
}

func TestConcurrentAtMostOnce(t *testing.T) {
	const workers = 8
	f := New(50)
	f.Seed("https://a.test/0")

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				target, ok := f.Next()
				if !ok {
					return
				}
				mu.Lock()
				seen[target.URL]++
				mu.Unlock()
				// Every page links to the same small neighbourhood.
				for i := 0; i < 80; i++ {
					f.Discover(types.CrawlTarget{URL: fmt.Sprintf("https://a.test/%d", i%60)})
				}
				f.Complete(types.VisitedRecord{URL: target.URL, Status: types.StatusOK})
			}
		}()
	}
	wg.Wait()

	for u, n := range seen {
		if n != 1 {
			t.Fatalf("%s processed %d times", u, n)
		}
	}
	if got := f.Stats().Visited; got != 50 {
		t.Fatalf("visited = %d, want budget 50", got)
	}
}

func TestSkipLedger(t *testing.T) {
	f := New(10)
	f.Seed("https://a.test/")
	if !f.Skip(types.VisitedRecord{URL: "https://b.test/", Status: types.StatusOffDomain}) {
		t.Fatalf("skip rejected")
	}
	if f.Skip(types.VisitedRecord{URL: "https://b.test/", Status: types.StatusOffDomain}) {
		t.Fatalf("duplicate skip accepted")
	}
	if f.Skip(types.VisitedRecord{URL: "https://a.test/", Status: types.StatusOffDomain}) {
		t.Fatalf("discovered url should not be skipped")
	}
	if got := f.Skipped(); len(got) != 1 || got[0].Status != types.StatusOffDomain {
		t.Fatalf("unexpected skipped %v", got)
	}
}
