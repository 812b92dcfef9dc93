package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"compintel/pkg/types"
)

// Collector keeps page results in memory, in the order they were recorded.
type Collector struct {
	mu      sync.Mutex
	results []types.PageResult
	seen    map[string]struct{}
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{seen: make(map[string]struct{})}
}

// SavePage appends page unless a result for the same URL was already recorded.
func (c *Collector) SavePage(_ context.Context, _ string, page types.PageResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[page.URL]; dup {
		return fmt.Errorf("duplicate page result for %s", page.URL)
	}
	c.seen[page.URL] = struct{}{}
	c.results = append(c.results, page)
	return nil
}

// Results returns a copy of the collected results.
func (c *Collector) Results() []types.PageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.PageResult, len(c.results))
	copy(out, c.results)
	return out
}

// WriteDocument writes doc as JSON to path, replacing any existing file.
func WriteDocument(path string, doc *types.RunDocument, pretty bool) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".run-*.json")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod output file: %w", err)
	}

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("encode run document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}
