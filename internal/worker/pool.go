package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of stage work
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is what a job leaves behind
type Result interface {
	GetError() error
}

// Pool runs jobs on at most workers goroutines and keeps their results in
// submission order
type Pool struct {
	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	group   errgroup.Group

	// gate is held shared by Submit and exclusively by Wait to close the pool
	gate   sync.RWMutex
	closed bool

	mu      sync.Mutex
	results []Result
}

// NewPool creates a pool with the given number of workers. Jobs see a
// context derived from parent; cancelling parent stops new submissions.
func NewPool(parent context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(parent)
	p := &Pool{workers: workers, ctx: ctx, cancel: cancel}
	p.group.SetLimit(workers)
	return p
}

// Submit hands job to a free worker, blocking while all of them are busy.
// It returns false once the pool is closed or its context is done.
func (p *Pool) Submit(job Job) bool {
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.closed || p.ctx.Err() != nil {
		return false
	}

	p.mu.Lock()
	slot := len(p.results)
	p.results = append(p.results, nil)
	p.mu.Unlock()

	p.group.Go(func() error {
		res := job.Execute(p.ctx)
		p.mu.Lock()
		p.results[slot] = res
		p.mu.Unlock()
		return nil
	})
	return true
}

// Wait closes the pool, waits for every accepted job and returns their
// results in submission order
func (p *Pool) Wait() []Result {
	p.gate.Lock()
	p.closed = true
	p.gate.Unlock()

	_ = p.group.Wait()
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.results))
	copy(out, p.results)
	return out
}

// Shutdown cancels running jobs and waits for them to return
func (p *Pool) Shutdown() {
	p.cancel()
	p.Wait()
}
