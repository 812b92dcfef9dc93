package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"compintel/pkg/types"
)

// Sink receives every PageResult produced by a run.
type Sink interface {
	SavePage(ctx context.Context, runID string, page types.PageResult) error
}

// VisitRecorder is implemented by sinks that also keep the visited ledger.
type VisitRecorder interface {
	SaveVisit(ctx context.Context, runID string, rec types.VisitedRecord) error
}

// Pipeline fans out crawl results to every configured sink.
type Pipeline struct {
	sinks []Sink
}

// NewPipeline constructs a storage pipeline. Nil sinks are ignored.
func NewPipeline(sinks ...Sink) *Pipeline {
	p := &Pipeline{}
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
	return p
}

// Persist stores the page in every sink, attempting all of them and joining
// their errors.
func (p *Pipeline) Persist(ctx context.Context, runID string, page types.PageResult) error {
	if p == nil {
		return nil
	}
	if page.URL == "" {
		return errors.New("invalid page result: missing url")
	}
	var errs []error
	for _, s := range p.sinks {
		if err := s.SavePage(ctx, runID, page); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

// RecordVisit forwards a visited record to sinks that keep the ledger.
func (p *Pipeline) RecordVisit(ctx context.Context, runID string, rec types.VisitedRecord) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, s := range p.sinks {
		vr, ok := s.(VisitRecorder)
		if !ok {
			continue
		}
		if err := vr.SaveVisit(ctx, runID, rec); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, s := range p.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
