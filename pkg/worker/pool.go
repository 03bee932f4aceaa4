// Package worker provides a bounded worker pool for running externally
// supplied synchronous handler code without blocking the serving goroutines
// that feed it. The pool starts lazily on first use and is stopped once at
// process shutdown.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// task pairs a unit of work with its completion signal. Execute blocks on
// done so callers observe synchronous semantics over bounded concurrency.
type task struct {
	run  func()
	done chan struct{}
}

// Pool runs submitted functions on a fixed number of workers with a bounded
// queue. Zero-value configuration falls back to defaults.
type Pool struct {
	workers   int
	queueSize int

	tasks chan task
	quit  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	// Statistics (atomic)
	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

// NewPool creates a pool with the given worker count and queue size.
// Non-positive values select the defaults (10 workers, 64 queued tasks).
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		workers:   workers,
		queueSize: queueSize,
		tasks:     make(chan task, queueSize),
		quit:      make(chan struct{}),
	}
}

// start launches the workers. Callers must hold p.mu.
func (p *Pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.started = true
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.tasks:
			p.runTask(t)
		case <-p.quit:
			// Drain what is already queued, then exit. The task channel is
			// never closed, so a submit racing Stop cannot panic.
			for {
				select {
				case t := <-p.tasks:
					p.runTask(t)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) runTask(t task) {
	t.run()
	close(t.done)
	p.completed.Add(1)
}

// Execute runs fn on a pool worker and blocks until it completes or ctx is
// done. The pool is started lazily on the first call. When ctx expires while
// the task is still queued or running, Execute returns but the task itself is
// not interrupted; fn must handle its own cancellation if it watches ctx.
func (p *Pool) Execute(ctx context.Context, fn func()) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	if !p.started {
		p.start()
	}
	p.mu.Unlock()

	t := task{run: fn, done: make(chan struct{})}
	select {
	case p.tasks <- t:
		p.submitted.Add(1)
	case <-p.quit:
		p.rejected.Add(1)
		return ErrPoolStopped
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		// Stop raced the submit. The queue is drained before the workers
		// exit, so give a task that already ran its result.
		select {
		case <-t.done:
			return nil
		default:
			return ErrPoolStopped
		}
	}
}

// Stop drains the queue and waits for the workers with a timeout. Stopping a
// pool that never started is a no-op.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats reports pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Rejected   int64 `json:"rejected"`
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.tasks),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Rejected:   p.rejected.Load(),
	}
}
