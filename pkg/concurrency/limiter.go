package concurrency

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics tracks concurrency limiter performance metrics
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	TotalFailed     int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter provides semaphore-based concurrency control with observability
type Limiter struct {
	sem     chan struct{}
	active  atomic.Int64
	metrics struct {
		acquired, released, failed, peak, waitNs atomic.Int64
	}
}

// NewLimiter creates a new concurrency limiter with the specified maximum concurrent operations
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{sem: make(chan struct{}, maxConcurrent)}
}

// Capacity returns the maximum number of concurrent holders
func (l *Limiter) Capacity() int {
	return cap(l.sem)
}

// Acquire attempts to acquire a slot in the limiter with context support
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	select {
	case l.sem <- struct{}{}:
		l.metrics.waitNs.Add(time.Since(start).Nanoseconds())
		l.metrics.acquired.Add(1)
		l.updatePeak(l.active.Add(1))
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a slot back to the limiter
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		l.metrics.released.Add(1)
	default:
		// Should not happen in correct usage
	}
}

// GoSync executes a function synchronously with concurrency limiting
func (l *Limiter) GoSync(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	if err := fn(); err != nil {
		l.metrics.failed.Add(1)
		return err
	}
	return nil
}

// CurrentActive returns the current number of holders
func (l *Limiter) CurrentActive() int64 {
	return l.active.Load()
}

// GetMetrics returns a copy of the current metrics
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:   l.metrics.acquired.Load(),
		TotalReleased:   l.metrics.released.Load(),
		TotalFailed:     l.metrics.failed.Load(),
		PeakConcurrent:  l.metrics.peak.Load(),
		TotalWaitTimeNs: l.metrics.waitNs.Load(),
	}
}

// GetAverageWaitTime calculates the average wait time for acquiring a slot
func (l *Limiter) GetAverageWaitTime() time.Duration {
	metrics := l.GetMetrics()
	if metrics.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(metrics.TotalWaitTimeNs / metrics.TotalAcquired)
}

// updatePeak updates the peak concurrent count if current is higher
func (l *Limiter) updatePeak(current int64) {
	for {
		peak := l.metrics.peak.Load()
		if current <= peak {
			break
		}
		if l.metrics.peak.CompareAndSwap(peak, current) {
			break
		}
	}
}
