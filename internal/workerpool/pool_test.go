package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := New(2, nil)
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	var count int64
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		pool.Submit(func(ctx context.Context) {
			atomic.AddInt64(&count, 1)
			done <- struct{}{}
		})
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for task to run")
		}
	}

	assert.EqualValues(t, 3, atomic.LoadInt64(&count))
}

func TestPoolTrySubmitFailsWhenNoWorkerAvailable(t *testing.T) {
	pool := New(1, nil)
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	blocking := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(func(ctx context.Context) {
		close(started)
		<-blocking
	})
	<-started

	ok := pool.TrySubmit(func(ctx context.Context) {})
	assert.False(t, ok, "expected TrySubmit to fail while the single worker is busy")

	close(blocking)
}

func TestPoolStopWaitsForDrain(t *testing.T) {
	pool := New(1, nil)
	pool.Start(context.Background())

	finished := make(chan struct{})
	pool.Submit(func(ctx context.Context) {
		time.Sleep(20 * time.Millisecond)
		close(finished)
	})

	ok := pool.Stop(time.Second)
	require.True(t, ok)

	select {
	case <-finished:
	default:
		t.Fatal("expected task to have completed before Stop returned")
	}
}
