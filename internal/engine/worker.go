package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics is a point-in-time view of the async worker pool.
type PoolMetrics struct {
	Size      int   `json:"size"`
	Active    int64 `json:"active"`
	Waiting   int64 `json:"waiting"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	Rejected  int64 `json:"rejected"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool bounds the number of workflow runs executing concurrently.
type WorkerPool struct {
	slots chan struct{}
	quit  chan struct{}

	mu      sync.Mutex // guards closed and running.Add
	closed  bool
	running sync.WaitGroup

	active, waiting             atomic.Int64
	completed, failed, panicked atomic.Int64
	rejected                    atomic.Int64
}

// NewWorkerPool creates a pool running at most size jobs at once.
func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{
		slots: make(chan struct{}, max(size, 1)),
		quit:  make(chan struct{}),
	}
}

// Submit runs fn on the pool. It blocks while every slot is taken and gives
// up when ctx ends or the pool shuts down. fn gets a context that keeps ctx's
// values but not its cancellation, so a run outlives the request that
// submitted it.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		p.rejected.Add(1)
		return ErrPoolShutdown
	}

	p.waiting.Add(1)
	select {
	case p.slots <- struct{}{}:
		p.waiting.Add(-1)
	case <-ctx.Done():
		p.waiting.Add(-1)
		p.rejected.Add(1)
		return ctx.Err()
	case <-p.quit:
		p.waiting.Add(-1)
		p.rejected.Add(1)
		return ErrPoolShutdown
	}

	// Shutdown may have won the race for the slot.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		p.rejected.Add(1)
		return ErrPoolShutdown
	}
	p.running.Add(1)
	p.mu.Unlock()

	p.active.Add(1)
	go p.run(context.WithoutCancel(ctx), fn)
	return nil
}

func (p *WorkerPool) run(ctx context.Context, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.failed.Add(1)
		}
		p.active.Add(-1)
		<-p.slots
		p.running.Done()
	}()

	if err := fn(ctx); err != nil {
		p.failed.Add(1)
		return
	}
	p.completed.Add(1)
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.running.Wait()
}

// Shutdown stops accepting work, then waits for running jobs until ctx ends.
// Calling it again only waits.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.quit)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.running.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Size:      cap(p.slots),
		Active:    p.active.Load(),
		Waiting:   p.waiting.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}
