package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPoolProcessesTasks(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 4, 16, "test", zap.NewNop().Sugar())
	require.NoError(t, pool.Start())
	defer pool.Stop()

	var processed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, pool.SubmitWait(context.Background(), func() {
			defer wg.Done()
			processed.Add(1)
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 50, processed.Load())
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "test", zap.NewNop().Sugar())
	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrWorkerPoolNotRunning)
}

func TestWorkerPoolSubmitQueueFull(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "test", zap.NewNop().Sugar())
	require.NoError(t, pool.Start())
	defer pool.Stop()

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker, then fill the single queue slot.
	require.NoError(t, pool.SubmitWait(context.Background(), func() { <-block }))

	// The worker may not have picked the first task up yet; keep feeding
	// until the queue rejects.
	deadline := time.After(time.Second)
	for {
		err := pool.Submit(func() { <-block })
		if err != nil {
			assert.ErrorIs(t, err, ErrWorkerPoolQueueFull)
			return
		}
		select {
		case <-deadline:
			t.Fatal("queue never filled")
		default:
		}
	}
}

func TestWorkerPoolSubmitWaitHonorsContext(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "test", zap.NewNop().Sugar())
	require.NoError(t, pool.Start())
	defer pool.Stop()

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, pool.SubmitWait(context.Background(), func() { <-block }))

	// Fill the queue so the next SubmitWait blocks, then cancel.
	for pool.Submit(func() { <-block }) == nil {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.SubmitWait(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerPoolSurvivesPanickingTask(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 4, "test", zap.NewNop().Sugar())
	require.NoError(t, pool.Start())
	defer pool.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, pool.SubmitWait(context.Background(), func() {
		defer wg.Done()
		panic("task exploded")
	}))
	wg.Wait()

	done := make(chan struct{})
	require.NoError(t, pool.SubmitWait(context.Background(), func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestWorkerPoolStartTwice(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "test", zap.NewNop().Sugar())
	require.NoError(t, pool.Start())
	require.NoError(t, pool.Start(), "Second Start is a no-op")
	pool.Stop()
	pool.Stop()
}
