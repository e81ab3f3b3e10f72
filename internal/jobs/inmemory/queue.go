package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/jobs"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWorkers is used when NewQueue gets a non-positive worker count.
const DefaultWorkers = 2

// DefaultMaxRetries applies to jobs published without MaxRetries.
const DefaultMaxRetries = 3

// Queue runs week analysis jobs on a fixed pool of workers. Jobs for different
// weeks run in parallel; jobs for the same week run one after another, in the
// order workers pick them up. Jobs do not survive a restart.
type Queue struct {
	pending chan *jobs.AnalyzeWeekJob
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	store   jobs.JobStore
	workers int
	backoff time.Duration

	// weeks holds one *sync.Mutex per calendar week seen.
	weeks sync.Map
}

// NewQueue creates a queue. bufferSize jobs can wait before PublishAnalyzeWeek
// blocks. store may be nil, in which case job state is not observable.
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		pending: make(chan *jobs.AnalyzeWeekJob, bufferSize),
		done:    make(chan struct{}),
		store:   store,
		workers: workers,
		backoff: time.Second,
	}
}

// PublishAnalyzeWeek fills in the job defaults, records the job and enqueues it.
func (q *Queue) PublishAnalyzeWeek(ctx context.Context, job *jobs.AnalyzeWeekJob) error {
	if q.isClosed() {
		return jobs.ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = DefaultMaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.pending <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return jobs.ErrQueueClosed
	}
}

// Start launches the workers. The handler is called concurrently, at most once
// per week at a time.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	if q.isClosed() {
		return jobs.ErrQueueClosed
	}

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
		case <-q.done:
			return
		case job := <-q.pending:
			q.run(ctx, job, handler)
		}
	}
}

// run executes one attempt of job and decides what happens next: completion,
// a scheduled retry, or permanent failure.
func (q *Queue) run(ctx context.Context, job *jobs.AnalyzeWeekJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("calendar_week", job.CalendarWeek).
		Logger()

	unlock := q.lockWeek(job.CalendarWeek)
	defer unlock()

	started := time.Now()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &started
	job.CompletedAt = nil
	job.Result = nil
	q.save(ctx, job, log)

	err := handler(ctx, job)

	finished := time.Now()
	job.CompletedAt = &finished
	attempt := jobs.JobAttempt{
		Number:     len(job.Attempts) + 1,
		StartedAt:  started,
		FinishedAt: finished,
		Result:     job.Result,
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	job.Attempts = append(job.Attempts, attempt)

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		log.Info().Int("attempt", attempt.Number).Dur("duration", finished.Sub(started)).Msg("Job completed")
	case jobs.IsPermanent(err) || job.RetryCount >= job.MaxRetries:
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		log.Error().Err(err).Int("attempt", attempt.Number).Msg("Job failed permanently")
	default:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		q.save(ctx, job, log)
		q.scheduleRetry(ctx, job, log)
		return
	}

	q.save(ctx, job, log)
}

// scheduleRetry re-enqueues job after a linear backoff. The last attempt's result
// stays on the job until the next attempt starts. From here on the job belongs
// to the timer goroutine.
func (q *Queue) scheduleRetry(ctx context.Context, job *jobs.AnalyzeWeekJob, log zerolog.Logger) {
	delay := time.Duration(job.RetryCount) * q.backoff
	log.Warn().
		Str("error", job.Error).
		Int("retry", job.RetryCount).
		Dur("backoff", delay).
		Msg("Job failed, scheduling retry")

	time.AfterFunc(delay, func() {
		job.Status = jobs.JobStatusPending
		job.StartedAt = nil
		job.CompletedAt = nil
		if err := q.PublishAnalyzeWeek(ctx, job); err != nil {
			job.Status = jobs.JobStatusFailed
			job.Error = fmt.Sprintf("%s (not retried: %v)", job.Error, err)
			q.save(context.WithoutCancel(ctx), job, log)
			log.Warn().Err(err).Msg("Could not re-enqueue job")
		}
	})
}

func (q *Queue) lockWeek(week string) func() {
	m, _ := q.weeks.LoadOrStore(week, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (q *Queue) save(ctx context.Context, job *jobs.AnalyzeWeekJob, log zerolog.Logger) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		log.Warn().Err(err).Str("status", string(job.Status)).Msg("Could not save job state")
	}
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Stop closes the queue and waits for in-flight jobs. Jobs still waiting in the
// buffer or on a retry timer are not run.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
