package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var processed atomic.Int32
	done := make(chan struct{}, 3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		processed.Add(1)
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "j"}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.Equal(t, int32(3), processed.Load())
}

func TestQueueRetriesThenReportsFailure(t *testing.T) {
	var attempts atomic.Int32
	final := make(chan error, 1)
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		attempts.Add(1)
		return errors.New("boom")
	}, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond, OnDone: func(j Job, err error) { final <- err }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j"}))
	select {
	case err := <-final:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no final result")
	}
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueueCoalescesWaitingKeys(t *testing.T) {
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		seen []string
	)
	q := NewQueue("coalesce", func(ctx context.Context, job Job) error {
		<-release
		mu.Lock()
		seen = append(seen, job.ID)
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8})

	require.Error(t, q.Enqueue(Job{ID: "early"}), "not started")
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "a", Key: "blocker"}))
	// wait until the worker holds the blocker so later jobs stay buffered
	require.Eventually(t, func() bool { return q.Depth() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(Job{ID: "p1", Key: "project-1"}))
	require.NoError(t, q.Enqueue(Job{ID: "p1-again", Key: "project-1"}))
	require.NoError(t, q.Enqueue(Job{ID: "p2", Key: "project-2"}))
	assert.Equal(t, 2, q.Depth())

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, time.Millisecond)
	q.Stop()
	assert.Equal(t, []string{"a", "p1", "p2"}, seen)
}

func TestQueueEnqueueWaitsForBufferSpace(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a", Key: "a"}))
	require.Eventually(t, func() bool { return q.Depth() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(Job{ID: "b", Key: "b"}))

	accepted := make(chan error, 1)
	go func() { accepted <- q.Enqueue(Job{ID: "c", Key: "c"}) }()
	select {
	case <-accepted:
		t.Fatal("enqueue returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-accepted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue still blocked after the buffer drained")
	}
}

func TestQueueDrainWaitsForRunningJob(t *testing.T) {
	started := make(chan struct{})
	var saved, cancelled atomic.Int32
	q := NewQueue("slow", func(ctx context.Context, job Job) error {
		close(started)
		select {
		case <-time.After(200 * time.Millisecond):
			saved.Add(1)
			return nil
		case <-ctx.Done():
			cancelled.Add(1)
			return ctx.Err()
		}
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "j", Key: "project-1"}))
	<-started
	assert.Equal(t, 0, q.Depth())
	assert.Equal(t, 1, q.Outstanding())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Drain(ctx)

	assert.Equal(t, int32(1), saved.Load())
	assert.Equal(t, int32(0), cancelled.Load())
	assert.Equal(t, 0, q.Outstanding())
}

func TestQueueDrainWaitsForRetry(t *testing.T) {
	var attempts atomic.Int32
	final := make(chan error, 1)
	q := NewQueue("flaky", func(ctx context.Context, job Job) error {
		if attempts.Add(1) == 1 {
			return errors.New("connection reset")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 100 * time.Millisecond, OnDone: func(j Job, err error) { final <- err }})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "j", Key: "project-1"}))
	// the first attempt fails and the job sits on its retry timer
	require.Eventually(t, func() bool { return attempts.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Drain(ctx)

	assert.Equal(t, int32(2), attempts.Load())
	select {
	case err := <-final:
		assert.NoError(t, err)
	default:
		t.Fatal("retry did not complete before drain returned")
	}
}

func TestQueueDrainStopsAtDeadline(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	q := NewQueue("stuck", func(ctx context.Context, job Job) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, QueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: time.Hour})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "j"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q.Drain(ctx)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler context not cancelled after drain deadline")
	}
}
