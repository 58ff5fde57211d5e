package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mpharvester/internal/harvest"
)

// maxRecentErrors bounds the per-job failure list kept in the jobs row.
const maxRecentErrors = 10

// JobStore persists job metadata and counters in Postgres.
type JobStore struct {
	pool dbPool
}

// NewJobStore creates a Postgres-backed JobStore.
func NewJobStore(ctx context.Context, dsn string) (*JobStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job harvest.Job) error {
	paramsJSON, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	countersJSON, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := `
INSERT INTO jobs (
	id,
	status,
	parameters,
	created_at,
	updated_at,
	error_summary,
	counters,
	recent_errors
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`
	recent := job.RecentErrors
	if recent == nil {
		recent = []string{}
	}
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		paramsJSON,
		job.CreatedAt,
		job.UpdatedAt,
		job.ErrorSummary,
		countersJSON,
		recent,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `
	id,
	status,
	parameters,
	created_at,
	updated_at,
	started_at,
	finished_at,
	error_summary,
	counters,
	recent_errors`

// GetJob loads one job row or returns harvest.ErrJobNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (harvest.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.Job{}, harvest.ErrJobNotFound
		}
		return harvest.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns all jobs ordered newest first.
func (s *JobStore) ListJobs(ctx context.Context) ([]harvest.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs ORDER BY created_at DESC`, jobColumns)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []harvest.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJobStatus transitions a job unless it is already terminal. The first
// transition to running stamps started_at; terminal transitions stamp
// finished_at.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status harvest.JobStatus,
	errorSummary string,
) error {
	now := time.Now().UTC()
	query := `
UPDATE jobs
SET status = $2,
	error_summary = $3,
	updated_at = $4,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN $4 ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN $4 ELSE finished_at END
WHERE id = $1
	AND status NOT IN ('completed', 'failed', 'cancelled')`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errorSummary, now)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the job is unknown or it already reached a terminal state.
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("check job status: %w", err)
		}
		return harvest.ErrJobTerminal
	}
	return nil
}

// RecordOutcome replaces the job's counters and, when reason is non-empty,
// appends it to the bounded recent-error list.
func (s *JobStore) RecordOutcome(
	ctx context.Context,
	jobID string,
	counters harvest.JobCounters,
	reason string,
) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE jobs
SET counters = $2,
	recent_errors = CASE
		WHEN $3 = '' THEN recent_errors
		ELSE (array_append(coalesce(recent_errors, '{}'), $3))[greatest(1, cardinality(coalesce(recent_errors, '{}')) - %d):]
	END,
	updated_at = $4
WHERE id = $1`, maxRecentErrors-2)
	tag, err := s.pool.Exec(ctx, query, jobID, countersJSON, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrJobNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (harvest.Job, error) {
	var (
		job          harvest.Job
		status       string
		paramsJSON   []byte
		countersJSON []byte
		recentErrors []string
	)
	err := row.Scan(
		&job.ID,
		&status,
		&paramsJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.Started,
		&job.Finished,
		&job.ErrorSummary,
		&countersJSON,
		&recentErrors,
	)
	if err != nil {
		return harvest.Job{}, err
	}
	job.Status = harvest.JobStatus(status)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Parameters); err != nil {
			return harvest.Job{}, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
			return harvest.Job{}, fmt.Errorf("unmarshal counters: %w", err)
		}
	}
	if len(recentErrors) > 0 {
		job.RecentErrors = recentErrors
	}
	return job, nil
}
