package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrQueueFull  = errors.New("executor queue full")
	ErrPoolClosed = errors.New("executor pool closed")
)

// PoolConfig bounds executor concurrency.
type PoolConfig struct {
	// Workers is the number of tasks running at once.
	Workers int
	// QueueSize is the number of tasks allowed to wait for a worker.
	// 0 means unlimited.
	QueueSize int
}

// Pool runs submitted tasks with at most Workers running concurrently.
type Pool struct {
	mu      sync.Mutex
	config  PoolConfig
	permits chan struct{}
	waiting int32
	active  int32
	closed  bool
	wg      sync.WaitGroup

	totalSubmitted int64
	totalRejected  int64
	totalCompleted int64
}

// NewPool creates a pool; Workers below 1 is treated as 1.
func NewPool(config PoolConfig) *Pool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	p := &Pool{
		config:  config,
		permits: make(chan struct{}, config.Workers),
	}
	for i := 0; i < config.Workers; i++ {
		p.permits <- struct{}{}
	}
	return p
}

// Submit queues fn. It returns ErrQueueFull when QueueSize tasks are already
// waiting and ErrPoolClosed after Close. fn receives ctx; a task still
// waiting when ctx is done is dropped.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.config.QueueSize > 0 && int(atomic.LoadInt32(&p.waiting)) >= p.config.QueueSize {
		p.mu.Unlock()
		atomic.AddInt64(&p.totalRejected, 1)
		return ErrQueueFull
	}
	atomic.AddInt32(&p.waiting, 1)
	atomic.AddInt64(&p.totalSubmitted, 1)
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		select {
		case <-p.permits:
			atomic.AddInt32(&p.waiting, -1)
		case <-ctx.Done():
			atomic.AddInt32(&p.waiting, -1)
			return
		}
		atomic.AddInt32(&p.active, 1)
		defer func() {
			atomic.AddInt32(&p.active, -1)
			atomic.AddInt64(&p.totalCompleted, 1)
			p.permits <- struct{}{}
		}()
		fn(ctx)
	}()
	return nil
}

// Close rejects further submissions. Running tasks are not interrupted.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Wait blocks until every submitted task has finished or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
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

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers        int   `json:"workers"`
	Active         int   `json:"active"`
	Waiting        int   `json:"waiting"`
	TotalSubmitted int64 `json:"total_submitted"`
	TotalRejected  int64 `json:"total_rejected"`
	TotalCompleted int64 `json:"total_completed"`
}

// Stats returns current statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:        p.config.Workers,
		Active:         int(atomic.LoadInt32(&p.active)),
		Waiting:        int(atomic.LoadInt32(&p.waiting)),
		TotalSubmitted: atomic.LoadInt64(&p.totalSubmitted),
		TotalRejected:  atomic.LoadInt64(&p.totalRejected),
		TotalCompleted: atomic.LoadInt64(&p.totalCompleted),
	}
}
