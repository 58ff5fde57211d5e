// Package store declares interfaces for persisting job-run progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// JobRunStatus mirrors the job_runs status column.
type JobRunStatus string

// Job run statuses persisted in job_runs.status.
const (
	RunRunning   JobRunStatus = "running"
	RunCompleted JobRunStatus = "completed"
	RunFailed    JobRunStatus = "failed"
	RunCancelled JobRunStatus = "cancelled"
)

// JobRun models the job_runs table for API responses.
type JobRun struct {
	// ID is the primary key of job_runs (may match JobID depending on schema).
	ID uuid.UUID
	// JobID is the logical harvest identifier shared with workers.
	JobID uuid.UUID
	// Strategy names the discovery strategy that drove the run.
	Strategy string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	// Status is running/completed/failed/cancelled.
	Status JobRunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// AccountStats captures per-account aggregation for a job.
type AccountStats struct {
	// JobID is the owning harvest run.
	JobID uuid.UUID
	// Account is the publishing account label the articles belong to.
	Account string
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time
	// Stored counts articles newly persisted for the account.
	Stored int64
	// Duplicates counts articles skipped because they already existed.
	Duplicates int64
	// Failed counts articles abandoned after retries ran out.
	Failed int64
	// BytesTotal accumulates stored snapshot bytes.
	BytesTotal int64
}

// AccountDelta carries incremental per-account counters for one flush.
type AccountDelta struct {
	Stored     int64
	Duplicates int64
	Failed     int64
	Bytes      int64
}

// ProgressRepository persists incremental job progress.
type ProgressRepository interface {
	// UpsertJobStart inserts (or idempotently updates) the started_at timestamp.
	UpsertJobStart(ctx context.Context, jobID uuid.UUID, strategy string, startedAt time.Time) error
	// CompleteJob marks the run finished with the provided status and error.
	CompleteJob(ctx context.Context, jobID uuid.UUID, finishedAt time.Time, status JobRunStatus, errMsg *string) error
	// UpsertAccountStats applies stored/duplicate/failed/byte deltas per (job, account).
	UpsertAccountStats(ctx context.Context, jobID uuid.UUID, account string, delta AccountDelta, at time.Time) error

	// GetJob loads a single job run or returns ErrNotFound.
	GetJob(ctx context.Context, jobID uuid.UUID) (JobRun, error)
	// ListJobs returns job runs filtered by optional status plus limit/offset.
	ListJobs(ctx context.Context, status *JobRunStatus, limit, offset int) ([]JobRun, error)
	// ListJobAccounts returns aggregated account stats for one job.
	ListJobAccounts(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]AccountStats, error)
}
