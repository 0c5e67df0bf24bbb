package pipeline

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"ai_workspace/core"
	"ai_workspace/metrics"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("pipeline: worker pool closed")

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Workers is the number of jobs that may execute at once
	Workers int
	// QueueSize is the number of admitted jobs that may wait for a worker
	QueueSize int
}

// DefaultPoolConfig returns two workers and a queue of eight.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 2, QueueSize: 8}
}

// Pool bounds concurrent compute. A job is admitted when fewer than
// Workers+QueueSize jobs are pending; otherwise Submit fails with
// core.ErrBusy without blocking.
type Pool struct {
	sem      *semaphore.Weighted
	capacity int
	logger   *zap.Logger
	metrics  *metrics.Prometheus

	mu      sync.Mutex
	pending int
	closed  bool
	wg      sync.WaitGroup
}

// NewPool creates a pool. logger and m may be nil.
func NewPool(config PoolConfig, logger *zap.Logger, m *metrics.Prometheus) *Pool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		sem:      semaphore.NewWeighted(int64(config.Workers)),
		capacity: config.Workers + config.QueueSize,
		logger:   logger.Named("pool"),
		metrics:  m,
	}
}

// Submit admits a job. run executes on a worker with ctx. If ctx ends
// while the job is still queued, abort is called with ctx.Err() instead.
// Exactly one of run and abort is called for an admitted job.
func (p *Pool) Submit(ctx context.Context, run func(ctx context.Context), abort func(err error)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.pending >= p.capacity {
		p.mu.Unlock()
		p.metrics.PoolRejected()
		p.logger.Warn("job rejected, queue full", zap.Int("pending", p.capacity))
		return core.ErrBusy
	}
	p.pending++
	p.wg.Add(1)
	p.mu.Unlock()

	p.metrics.PoolQueued(1)
	go func() {
		defer p.done()

		err := p.sem.Acquire(ctx, 1)
		p.metrics.PoolQueued(-1)
		if err != nil {
			abort(err)
			return
		}
		defer p.sem.Release(1)

		p.metrics.PoolActive(1)
		defer p.metrics.PoolActive(-1)
		run(ctx)
	}()
	return nil
}

func (p *Pool) done() {
	p.mu.Lock()
	p.pending--
	p.mu.Unlock()
	p.wg.Done()
}

// Pending returns the number of admitted jobs not yet finished.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Close stops admitting jobs and waits for admitted ones to finish or for
// ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

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
