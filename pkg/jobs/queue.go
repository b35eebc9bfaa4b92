package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job represents a queued background task. Jobs sharing a non-empty Key are
// coalesced while one of them is still waiting in the buffer.
type Job struct {
	ID       string
	Key      string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	// OnDone is called after each job's final attempt with its last error.
	OnDone func(Job, error)
}

// Queue is a lightweight in-memory job dispatcher backed by goroutines.
type Queue struct {
	name    string
	handler Handler

	workers    int
	bufferSize int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	onDone     func(Job, error)

	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	pending map[string]struct{}

	// outstanding counts accepted jobs that are buffered, running or
	// waiting on a retry timer.
	outstanding atomic.Int64
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 64
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		bufferSize: cfg.BufferSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		onDone:     cfg.OnDone,
		jobs:       make(chan Job, cfg.BufferSize),
		pending:    make(map[string]struct{}),
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers)
}

// Stop cancels workers and waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Sugar().Infow("queue stopped", "queue", q.name)
}

// Drain waits until every accepted job has finished, including jobs being
// handled and retries waiting on their timer, then stops the queue. Handlers
// keep a live context until then. If ctx ends first, remaining work is
// cancelled.
func (q *Queue) Drain(ctx context.Context) {
	defer q.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for q.Outstanding() > 0 {
		select {
		case <-ctx.Done():
			q.logger.Sugar().Warnw("queue drain abandoned", "queue", q.name, "outstanding", q.Outstanding(), "error", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// Depth returns the number of buffered jobs.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Outstanding returns the number of accepted jobs not yet finished.
func (q *Queue) Outstanding() int {
	return int(q.outstanding.Load())
}

// Enqueue pushes a job onto the queue. A job whose Key is already waiting is
// dropped since the waiting one will observe the same or newer state. Enqueue
// blocks while the buffer is full.
func (q *Queue) Enqueue(job Job) error {
	return q.enqueue(job, false)
}

// enqueue with retry set re-offers a job that is already counted as
// outstanding.
func (q *Queue) enqueue(job Job, retry bool) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	if !started {
		q.mu.Unlock()
		if retry {
			q.outstanding.Add(-1)
		}
		return fmt.Errorf("queue %s not started", q.name)
	}
	if job.Key != "" {
		if _, waiting := q.pending[job.Key]; waiting {
			q.mu.Unlock()
			if retry {
				q.outstanding.Add(-1)
			}
			return nil
		}
		q.pending[job.Key] = struct{}{}
	}
	if !retry {
		q.outstanding.Add(1)
	}
	q.mu.Unlock()

	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		q.release(job)
		q.outstanding.Add(-1)
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.jobs <- job:
		return nil
	}
}

func (q *Queue) release(job Job) {
	if job.Key == "" {
		return
	}
	q.mu.Lock()
	delete(q.pending, job.Key)
	q.mu.Unlock()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.release(job)
			q.process(job)
		}
	}
}

func (q *Queue) process(job Job) {
	if err := q.handler(q.ctx, job); err != nil {
		q.handleFailure(job, err)
		return
	}
	if q.onDone != nil {
		q.onDone(job, nil)
	}
	q.outstanding.Add(-1)
}

func (q *Queue) handleFailure(job Job, err error) {
	job.Attempt++
	if job.Attempt > q.maxRetries {
		q.logger.Sugar().Errorw("job exceeded retries", "queue", q.name, "job_id", job.ID, "type", job.Type, "error", err)
		if q.onDone != nil {
			q.onDone(job, err)
		}
		q.outstanding.Add(-1)
		return
	}
	q.logger.Sugar().Warnw("job failed, retrying", "queue", q.name, "job_id", job.ID, "type", job.Type, "attempt", job.Attempt, "error", err)

	q.wg.Add(1)
	go func(j Job) {
		defer q.wg.Done()
		timer := time.NewTimer(q.retryDelay * time.Duration(j.Attempt))
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			q.logger.Sugar().Warnw("retry dropped, queue stopped", "queue", q.name, "job_id", j.ID)
			q.outstanding.Add(-1)
		case <-timer.C:
			if err := q.enqueue(j, true); err != nil {
				q.logger.Sugar().Errorw("failed to requeue job", "queue", q.name, "job_id", j.ID, "error", err)
			}
		}
	}(job)
}
