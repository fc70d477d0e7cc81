// Package workerpool implements the bounded worker pool shared by a
// Stash cache's background tasks (cap, retirement, refill), grounded on
// quay/claircore's use of golang.org/x/sync/semaphore to throttle
// concurrent database work to a fixed budget rather than spawning an
// unbounded goroutine per job.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent jobs to Workers and queued-but-not-yet-running
// jobs to QueueDepth. Submit beyond QueueDepth is rejected rather than
// blocking, so a burst of stale entries cannot stall a background task's
// periodic tick.
type Pool struct {
	sem   *semaphore.Weighted
	queue chan func(ctx context.Context)

	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

// New starts a Pool with the given number of concurrent workers and a
// queue of maxQueued pending jobs.
func New(workers, maxQueued int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if maxQueued <= 0 {
		maxQueued = 128
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		sem:    semaphore.NewWeighted(int64(workers)),
		queue:  make(chan func(ctx context.Context), maxQueued),
		cancel: cancel,
		ctx:    ctx,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			if err := p.sem.Acquire(p.ctx, 1); err != nil {
				return
			}
			job(p.ctx)
			p.sem.Release(1)
		}
	}
}

// HasCapacity reports whether Submit would currently enqueue without
// blocking. Stash's refill task checks this before posting a job, so it
// degrades to "retry next tick" instead of blocking the caller.
func (p *Pool) HasCapacity() bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	return len(p.queue) < cap(p.queue)
}

// Submit enqueues job for execution and returns true, or returns false
// without blocking if the queue is full or the pool is shutting down.
func (p *Pool) Submit(job func(ctx context.Context)) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.queue <- job:
		return true
	default:
		return false
	}
}

// Shutdown signals every worker to stop after its current job, and waits
// (up to ctx's deadline) for them to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
