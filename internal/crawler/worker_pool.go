package crawler

import (
	"context"
	"errors"
	"sync"
)

type worker func(ctx context.Context, id int)

// WorkerPool runs a fixed number of long-lived crawl workers. Workers pull
// their own work and return when there is nothing left.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	size   int
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool with the given concurrency.
func NewWorkerPool(parent context.Context, concurrency int) (*WorkerPool, error) {
	if concurrency <= 0 {
		return nil, errors.New("worker pool requires positive concurrency")
	}
	ctx, cancel := context.WithCancel(parent)
	return &WorkerPool{ctx: ctx, cancel: cancel, size: concurrency}, nil
}

// Start launches the workers. Worker ids start at 1.
func (p *WorkerPool) Start(fn worker) {
	for i := 1; i <= p.size; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			fn(p.ctx, id)
		}(i)
	}
}

// Wait blocks until every worker has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
	p.cancel()
}
