package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned when submitting to a closed pool
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a unit of work executed by the pool
type Task func(ctx context.Context) error

// Pool is a fixed set of worker goroutines shared by all node executions of a run.
type Pool struct {
	workers int
	jobChan chan poolJob
	wg      sync.WaitGroup
	logger  *zap.Logger

	closeMu sync.RWMutex
	closed  bool

	// Metrics
	processed atomic.Int64
	failed    atomic.Int64
}

// poolJob represents a job to be processed by a worker.
type poolJob struct {
	ctx  context.Context
	task Task
	done func(error)
}

// NewPool creates and starts a pool with the configured number of workers.
func NewPool(config *Config, logger *zap.Logger) *Pool {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := max(config.MaxThreads, 1)
	buffer := config.BatchBuffer
	if buffer <= 0 {
		buffer = workers * 4
	}

	p := &Pool{
		workers: workers,
		jobChan: make(chan poolJob, buffer),
		logger:  logger,
	}

	logger.Debug("starting worker pool",
		zap.Int("workers", workers),
		zap.Int("buffer_size", buffer),
	)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// MaxThreads returns the number of workers.
func (p *Pool) MaxThreads() int {
	return p.workers
}

// worker is a single worker goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobChan {
		err := job.task(job.ctx)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.processed.Add(1)
		}
		job.done(err)
	}
	p.logger.Debug("worker stopping, job channel closed", zap.Int("worker_id", id))
}

// submit queues a task. done is always called exactly once.
func (p *Pool) submit(ctx context.Context, task Task, done func(error)) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		done(ErrPoolClosed)
		return
	}
	select {
	case <-ctx.Done():
		done(ctx.Err())
	case p.jobChan <- poolJob{ctx: ctx, task: task, done: done}:
	}
}

// Group starts a set of related tasks whose completion can be awaited together.
func (p *Pool) Group(ctx context.Context) *TaskGroup {
	return &TaskGroup{pool: p, ctx: ctx}
}

// Close stops accepting tasks and waits for workers to drain the queue.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobChan)
	p.closeMu.Unlock()
	p.wg.Wait()
}

// Stats returns the current processing statistics.
func (p *Pool) Stats() (processed, failed int64) {
	return p.processed.Load(), p.failed.Load()
}

// TaskGroup tracks tasks submitted to a pool. The first error wins.
type TaskGroup struct {
	pool     *Pool
	ctx      context.Context
	wg       sync.WaitGroup
	mu       sync.Mutex
	firstErr error
}

// Go submits a task. It blocks while the pool queue is full.
func (g *TaskGroup) Go(task Task) {
	g.wg.Add(1)
	g.pool.submit(g.ctx, task, func(err error) {
		defer g.wg.Done()
		if err == nil {
			return
		}
		g.mu.Lock()
		if g.firstErr == nil {
			g.firstErr = err
		}
		g.mu.Unlock()
	})
}

// Wait blocks until every submitted task finished and returns the first error.
func (g *TaskGroup) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.firstErr
}
