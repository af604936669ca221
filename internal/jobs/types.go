package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeRecurring materializes due recurring rules.
	JobTypeRecurring JobType = "recurring"
	// JobTypeFXRefresh re-normalizes transactions to the latest FX rates.
	JobTypeFXRefresh JobType = "fx_refresh"
	// JobTypeReconcile reports account balance drift.
	JobTypeReconcile JobType = "reconcile"
	// JobTypeExport streams ledger data to the analytics warehouse.
	JobTypeExport JobType = "export"
)

// JobTypes lists every known job type.
var JobTypes = []JobType{JobTypeRecurring, JobTypeFXRefresh, JobTypeReconcile, JobTypeExport}

// ParseJobType checks s against JobTypes.
func ParseJobType(s string) (JobType, bool) {
	t := JobType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range JobTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

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

// Active reports whether a run with this status may still do work.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusRetrying
}

// JobRun is one execution of a batch job.
type JobRun struct {
	// JobID is the unique identifier for this run.
	JobID string `json:"job_id"`

	// Type selects the batch job.
	Type JobType `json:"type"`

	// Trigger records who started the run: cron, api or cli.
	Trigger string `json:"trigger,omitempty"`

	// Status is the current status of the run.
	Status JobStatus `json:"status"`

	// Cursor is where the batch resumes. A retried run continues from here.
	Cursor string `json:"cursor,omitempty"`

	// Summary is the batch result of the last attempt.
	Summary json.RawMessage `json:"summary,omitempty"`

	// CreatedAt is when the run was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the run started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the run completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the run failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this run has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Publisher defines the interface for publishing job runs to a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// Publish enqueues a job run.
	Publish(ctx context.Context, run *JobRun) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming job runs from a queue.
type Consumer interface {
	// Start begins consuming runs from the queue.
	// The handler function is called for each run received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming runs and waits for in-flight runs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a run. It records progress on run (Summary, Cursor) and
// returns an error if the run failed and should be retried.
type JobHandler func(ctx context.Context, run *JobRun) error

// JobStore defines the interface for storing and retrieving job runs.
type JobStore interface {
	// SaveJob saves or updates a run's state.
	SaveJob(ctx context.Context, run *JobRun) error

	// GetJob retrieves a run by ID.
	GetJob(ctx context.Context, jobID string) (*JobRun, error)

	// ListJobs retrieves runs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*JobRun, error)

	// UpdateJobStatus updates the status of a run.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing runs.
type JobFilter struct {
	// Type filters runs by job type.
	Type JobType

	// Status filters runs by status.
	Status JobStatus

	// ActiveOnly keeps pending, running and retrying runs.
	ActiveOnly bool

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
