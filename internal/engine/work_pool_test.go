package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_Each(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(3, 2, zap.NewNop())
	pool.Start(ctx)
	defer pool.Stop()

	results := make([]int, 50)
	require.NoError(t, pool.Each(ctx, len(results), func(_ context.Context, i int) {
		results[i] = i * i
	}))
	for i, v := range results {
		assert.Equal(t, i*i, v)
	}
}

func TestPool_PanickingJobDoesNotKillWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(1, 1, zap.NewNop())
	pool.Start(ctx)

	var ran int32
	require.NoError(t, pool.Each(ctx, 3, func(_ context.Context, i int) {
		if i == 0 {
			panic("boom")
		}
		atomic.AddInt32(&ran, 1)
	}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))

	pool.Stop()
	assert.ErrorIs(t, pool.Submit(ctx, func(context.Context) {}), ErrPoolStopped)
	assert.False(t, pool.TrySubmit(func(context.Context) {}))
}

func TestPool_EachStopsOnCancelledContext(t *testing.T) {
	poolCtx, stop := context.WithCancel(context.Background())
	defer stop()
	pool := NewPool(1, 0, zap.NewNop())
	pool.Start(poolCtx)
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Each(ctx, 10, func(context.Context, int) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_EachCompletesAfterPoolContextEnds(t *testing.T) {
	poolCtx, stop := context.WithCancel(context.Background())
	pool := NewPool(2, 1, zap.NewNop())
	pool.Start(poolCtx)
	defer pool.Stop()
	stop()

	var ran int32
	done := make(chan error, 1)
	go func() {
		done <- pool.Each(context.Background(), 5, func(context.Context, int) {
			atomic.AddInt32(&ran, 1)
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Each blocked after the pool context ended")
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
}
