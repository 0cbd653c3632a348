package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"leveraged/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_Run(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 16}, logging.NewNopLogger())
	defer pool.Stop()

	var counter int64
	tasks := make([]func(context.Context) error, 32)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			atomic.AddInt64(&counter, 1)
			return nil
		}
	}
	require.NoError(t, pool.Run(context.Background(), tasks))
	assert.Equal(t, int64(32), atomic.LoadInt64(&counter))
}

func TestWorkerPool_RunReturnsFirstError(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 2}, logging.NewNopLogger())
	defer pool.Stop()

	boom := errors.New("boom")
	err := pool.Run(context.Background(), []func(context.Context) error{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestWorkerPool_NonBlockingSubmit(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "nb", MaxWorkers: 1, MaxCapacity: 1, NonBlocking: true}, logging.NewNopLogger())
	defer pool.Stop()

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() { <-done }))

	var rejected bool
	for i := 0; i < 10; i++ {
		if err := pool.Submit(func() {}); err != nil {
			rejected = true
			break
		}
	}
	close(done)
	assert.True(t, rejected)
	assert.Contains(t, pool.Stats(), "submitted_tasks")
}
