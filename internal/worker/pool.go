// Package worker bounds the concurrency of embedding work during ingestion.
package worker

import (
	"context"
	"sync"

	"github.com/reglens/reglens/internal/model"
)

// EmbedFunc computes and stores the vector for one section.
type EmbedFunc func(ctx context.Context, section model.Section) error

// EmbedResult reports the outcome of embedding one section.
type EmbedResult struct {
	ID  model.SectionID
	Err error
}

// EmbedPool runs section embeddings across a fixed number of workers.
// Submissions beyond the queue capacity block the producer; they are
// never rejected.
type EmbedPool struct {
	workers   int
	embed     EmbedFunc
	jobs      chan model.Section
	results   chan EmbedResult
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewEmbedPool creates a pool with the given worker count.
func NewEmbedPool(workers int, embed EmbedFunc) *EmbedPool {
	if workers <= 0 {
		workers = 1
	}
	return &EmbedPool{
		workers: workers,
		embed:   embed,
		jobs:    make(chan model.Section, workers*2), // Buffered to keep producers moving
		results: make(chan EmbedResult, workers*2),
	}
}

// Start launches the workers and must be called before Submit. The pool
// stops when ctx is cancelled, when Shutdown is called, or when Wait drains
// it after the last submission.
func (p *EmbedPool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *EmbedPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case section, ok := <-p.jobs:
			if !ok {
				return
			}
			result := EmbedResult{ID: section.SectionID, Err: p.embed(p.ctx, section)}
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues one section for embedding. Submissions after shutdown are
// dropped silently.
func (p *EmbedPool) Submit(section model.Section) {
	select {
	case <-p.ctx.Done():
		return
	case p.jobs <- section:
	}
}

// Wait signals that no more sections will be submitted, blocks until every
// queued section is processed, and returns all results.
func (p *EmbedPool) Wait() []EmbedResult {
	close(p.jobs)

	go func() {
		p.wg.Wait()
		p.closeResults()
	}()

	var results []EmbedResult
	for result := range p.results {
		results = append(results, result)
	}
	return results
}

// Shutdown stops the pool immediately, abandoning queued sections.
func (p *EmbedPool) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.closeResults()
}

func (p *EmbedPool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
