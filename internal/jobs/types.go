package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeAnalyzeWeek runs the receipt analysis for one calendar week.
	JobTypeAnalyzeWeek JobType = "analyze_week"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// AnalyzeWeekJob represents an asynchronous analysis of one week bucket.
type AnalyzeWeekJob struct {
	JobID string `json:"job_id"`

	CalendarWeek string `json:"calendar_week"`

	// Force re-analyzes photos that are already in the ledger.
	Force bool `json:"force_reanalysis"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Result is filled in by the handler once the analysis ran. While a retry is
	// pending it still holds the previous attempt's result.
	Result *JobResult `json:"result,omitempty"`

	// Attempts lists every finished handler run, oldest first.
	Attempts []JobAttempt `json:"attempts,omitempty"`
}

// JobAttempt records one run of a job's handler.
type JobAttempt struct {
	Number     int        `json:"number"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Error      string     `json:"error,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
}

// JobResult is the outcome of the analysis a job ran.
type JobResult struct {
	RunID         string  `json:"run_id,omitempty"`
	AnalysisState string  `json:"analysis_status"`
	Processed     int     `json:"processed"`
	Failed        int     `json:"failed"`
	Skipped       int     `json:"skipped"`
	TotalReceipts int     `json:"total_receipts"`
	TotalFood     float64 `json:"total_food"`
	TotalNonFood  float64 `json:"total_nonfood"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *AnalyzeWeekJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *AnalyzeWeekJob) GetType() JobType {
	return JobTypeAnalyzeWeek
}

// GetStatus implements the Job interface.
func (j *AnalyzeWeekJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishAnalyzeWeek publishes a week analysis job.
	PublishAnalyzeWeek(ctx context.Context, job *AnalyzeWeekJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// A returned error is retried unless it is wrapped with Permanent.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *AnalyzeWeekJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*AnalyzeWeekJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*AnalyzeWeekJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	CalendarWeek string
	Status       JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
