package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/google/uuid"
)

const (
	// DefaultWorkers is the number of concurrent workers started by Start.
	DefaultWorkers = 5

	// DefaultMaxRetries is applied to runs published without a retry budget.
	DefaultMaxRetries = 3
)

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.JobRun
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers int
	backoff time.Duration
	now     func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) { q.workers = n }
}

// WithBackoff sets the base retry delay. The nth retry waits n times this long.
func WithBackoff(d time.Duration) QueueOption {
	return func(q *Queue) { q.backoff = d }
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many runs can be queued before Publish blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...QueueOption) *Queue {
	q := &Queue{
		jobChan:   make(chan *jobs.JobRun, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   DefaultWorkers,
		backoff:   time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.workers <= 0 {
		q.workers = DefaultWorkers
	}
	return q
}

// Publish implements the Publisher interface.
func (q *Queue) Publish(ctx context.Context, run *jobs.JobRun) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	if run.JobID == "" {
		run.JobID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = jobs.JobStatusPending
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = q.now().UTC()
	}
	if run.MaxRetries == 0 {
		run.MaxRetries = DefaultMaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, run); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- run:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// The handler is called concurrently for each run, up to the configured number of workers.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case run := <-q.jobChan:
			if run == nil {
				return
			}
			q.processJob(ctx, run, handler)
		}
	}
}

// processJob executes a single run with retry logic. A retry keeps the cursor the
// failed attempt reached, so the batch resumes instead of starting over.
func (q *Queue) processJob(ctx context.Context, run *jobs.JobRun, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().Str("job_id", run.JobID).Str("job_type", string(run.Type)).Logger()

	run.Status = jobs.JobStatusRunning
	startedAt := q.now().UTC()
	run.StartedAt = &startedAt
	run.CompletedAt = nil

	if q.store != nil {
		_ = q.store.SaveJob(ctx, run)
	}

	err := handler(logger.WithContext(ctx, log), run)

	completedAt := q.now().UTC()
	run.CompletedAt = &completedAt

	retry := false
	if err != nil {
		run.Error = err.Error()

		if run.RetryCount < run.MaxRetries {
			run.RetryCount++
			run.Status = jobs.JobStatusRetrying
			retry = true
			log.Warn().Err(err).Int("retry", run.RetryCount).Msg("Job failed, retrying")
		} else {
			run.Status = jobs.JobStatusFailed
			log.Error().Err(err).Msg("Job failed")
		}
	} else {
		run.Status = jobs.JobStatusCompleted
		run.Error = ""
		log.Info().Dur("duration", completedAt.Sub(startedAt)).Msg("Job completed")
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, run)
	}

	if !retry {
		return
	}

	// The run is only touched again by the timer goroutine from here on.
	backoff := time.Duration(run.RetryCount) * q.backoff
	time.AfterFunc(backoff, func() {
		run.Status = jobs.JobStatusPending
		run.StartedAt = nil
		run.CompletedAt = nil
		if err := q.Publish(ctx, run); err != nil {
			log.Error().Err(err).Msg("Failed to requeue job")
			if q.store != nil {
				_ = q.store.UpdateJobStatus(context.Background(), run.JobID, jobs.JobStatusFailed, err.Error())
			}
		}
	})
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight runs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
