package concurrency

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRespectsEnvironmentOverrides(t *testing.T) {
	t.Setenv("SLOTFLOW_MAX_THREADS", "42")
	t.Setenv("SLOTFLOW_MAX_CONCURRENT_NODES", "3")
	t.Setenv("SLOTFLOW_PARALLELIZATION", "DISABLED")
	t.Setenv("SLOTFLOW_BATCH_BUFFER", "9")

	cfg := LoadConfig()

	assert.Equal(t, 42, cfg.MaxThreads)
	assert.Equal(t, 3, cfg.MaxConcurrentNodes)
	assert.Equal(t, ParallelizationDisabled, cfg.Parallelization)
	assert.False(t, cfg.ParallelizationAllowed())
	assert.Equal(t, 9, cfg.BatchBuffer)
	assert.Equal(t, ConfigSourceEnvVar, cfg.Source)
}

func TestLoadConfigMultiplier(t *testing.T) {
	t.Setenv("SLOTFLOW_THREAD_MULTIPLIER", "3")

	cfg := LoadConfig()
	assert.Equal(t, cfg.EffectiveCPUs*3, cfg.MaxThreads)
	assert.Equal(t, ConfigSourceEnvVar, cfg.Source)
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("SLOTFLOW_PARALLELIZATION", "sometimes")

	cfg := LoadConfig()
	assert.GreaterOrEqual(t, cfg.MaxThreads, 1)
	assert.GreaterOrEqual(t, cfg.MaxConcurrentNodes, 2)
	assert.Equal(t, ParallelizationEnabled, cfg.Parallelization)
	assert.Equal(t, cfg.MaxThreads*4, cfg.BatchBuffer)
	assert.Equal(t, ConfigSourceAutoDetect, cfg.Source)
	assert.True(t, strings.HasPrefix(cfg.String(), "Config{MaxThreads:"))
}

func TestLimiterAcquireReleaseTracksMetrics(t *testing.T) {
	limiter := NewLimiter(2)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	assert.Equal(t, int64(1), limiter.CurrentActive())
	limiter.Release()

	metrics := limiter.GetMetrics()
	assert.Equal(t, int64(1), metrics.TotalAcquired)
	assert.Equal(t, int64(1), metrics.TotalReleased)
	assert.Equal(t, int64(1), metrics.PeakConcurrent)
	assert.Equal(t, 2, limiter.Capacity())
}

func TestLimiterAcquireHonorsContextCancellation(t *testing.T) {
	limiter := NewLimiter(1)
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterGoSyncCountsFailures(t *testing.T) {
	limiter := NewLimiter(1)
	boom := errors.New("boom")

	assert.ErrorIs(t, limiter.GoSync(context.Background(), func() error { return boom }), boom)
	assert.NoError(t, limiter.GoSync(context.Background(), func() error { return nil }))

	metrics := limiter.GetMetrics()
	assert.Equal(t, int64(1), metrics.TotalFailed)
	assert.Equal(t, int64(0), limiter.CurrentActive())
}

func TestPoolRunsAllTasksAndReportsFirstError(t *testing.T) {
	pool := NewPool(&Config{MaxThreads: 3, BatchBuffer: 2}, nil)
	defer pool.Close()
	assert.Equal(t, 3, pool.MaxThreads())

	var ran atomic.Int64
	boom := errors.New("boom")
	group := pool.Group(context.Background())
	for i := 0; i < 20; i++ {
		i := i
		group.Go(func(ctx context.Context) error {
			ran.Add(1)
			if i == 7 {
				return boom
			}
			return nil
		})
	}

	err := group.Wait()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(20), ran.Load(), "errors do not abandon submitted tasks")

	processed, failed := pool.Stats()
	assert.Equal(t, int64(19), processed)
	assert.Equal(t, int64(1), failed)
}

func TestPoolRejectsAfterClose(t *testing.T) {
	pool := NewPool(&Config{MaxThreads: 1}, nil)
	pool.Close()
	pool.Close()

	group := pool.Group(context.Background())
	group.Go(func(context.Context) error { return nil })
	assert.ErrorIs(t, group.Wait(), ErrPoolClosed)
}

func TestPoolSubmitHonorsCancelledContext(t *testing.T) {
	pool := NewPool(&Config{MaxThreads: 1, BatchBuffer: 1}, nil)
	defer pool.Close()

	release := make(chan struct{})
	blocker := pool.Group(context.Background())
	blocker.Go(func(context.Context) error { <-release; return nil })
	blocker.Go(func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	group := pool.Group(ctx)
	group.Go(func(context.Context) error { return nil })
	assert.ErrorIs(t, group.Wait(), context.Canceled)

	close(release)
	assert.NoError(t, blocker.Wait())
}
