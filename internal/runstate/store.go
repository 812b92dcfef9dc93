package runstate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Run lifecycle states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Snapshot captures the progress of one crawl run.
type Snapshot struct {
	RunID      string    `json:"run_id"`
	SeedURL    string    `json:"seed_url"`
	Status     string    `json:"status"`
	Processed  int64     `json:"processed"`
	Pending    int64     `json:"pending"`
	InFlight   int64     `json:"in_flight"`
	Visited    int64     `json:"visited"`
	Discovered int64     `json:"discovered"`
	LastURL    string    `json:"last_url"`
	LastStatus string    `json:"last_status"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists snapshots so progress can be observed from outside the process.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, runID string) (Snapshot, bool, error)
	List(ctx context.Context) ([]Snapshot, error)
	Remove(ctx context.Context, runID string) error
	Close() error
}

// MemoryStore keeps snapshots in process.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Snapshot)}
}

func (m *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[snap.RunID] = snap
	return nil
}

func (m *MemoryStore) Get(_ context.Context, runID string) (Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.items[runID]
	return snap, ok, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.items))
	for _, snap := range m.items {
		out = append(out, snap)
	}
	sortSnapshots(out)
	return out, nil
}

func (m *MemoryStore) Remove(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, runID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// sortSnapshots orders runs by start time, newest first.
func sortSnapshots(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].StartedAt.Equal(snaps[j].StartedAt) {
			return snaps[i].RunID < snaps[j].RunID
		}
		return snaps[i].StartedAt.After(snaps[j].StartedAt)
	})
}
