package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mpharvester/internal/store"
)

// ProgressStore implements the store.ProgressRepository interface using Postgres.
type ProgressStore struct {
	pool dbPool
}

// NewProgressStore creates a new ProgressStore.
func NewProgressStore(ctx context.Context, dsn string) (*ProgressStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &ProgressStore{pool: pool}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(pool dbPool) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// UpsertJobStart inserts or updates a job run's start time.
func (s *ProgressStore) UpsertJobStart(ctx context.Context, jobID uuid.UUID, strategy string, startedAt time.Time) error {
	query := `
		INSERT INTO job_runs (id, job_id, strategy, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE job_runs.status <> EXCLUDED.status;
	`
	_, err := s.pool.Exec(ctx, query, jobID, jobID, strategy, startedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to upsert job start: %w", err)
	}
	return nil
}

// CompleteJob marks a run finished with a status and optional error message.
func (s *ProgressStore) CompleteJob(
	ctx context.Context,
	jobID uuid.UUID,
	finishedAt time.Time,
	status store.JobRunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE job_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	_, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// UpsertAccountStats applies article deltas for a given account within a job.
func (s *ProgressStore) UpsertAccountStats(
	ctx context.Context,
	jobID uuid.UUID,
	account string,
	delta store.AccountDelta,
	at time.Time,
) error {
	query := `UPDATE account_stats SET stored = stored + $1,
		duplicates = duplicates + $2,
		failed = failed + $3,
		bytes_total = bytes_total + $4,
		last_update = $5
		WHERE job_id = $6 AND account = $7;`

	res, err := s.pool.Exec(ctx, query, delta.Stored, delta.Duplicates, delta.Failed, delta.Bytes, at, jobID, account)
	if err != nil {
		return fmt.Errorf("failed to update account stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		query = `
			INSERT INTO account_stats (job_id, account, last_update, stored, duplicates, failed, bytes_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (job_id, account) DO NOTHING;
		`
		_, err = s.pool.Exec(
			ctx,
			query,
			jobID,
			account,
			at,
			delta.Stored,
			delta.Duplicates,
			delta.Failed,
			delta.Bytes,
		)
		if err != nil {
			return fmt.Errorf("failed to insert account stats: %w", err)
		}
	}
	return nil
}

// GetJob retrieves a single job run by its ID.
func (s *ProgressStore) GetJob(ctx context.Context, jobID uuid.UUID) (store.JobRun, error) {
	query := `
		SELECT id, job_id, strategy, started_at, finished_at, status, error_message
		FROM job_runs
		WHERE id = $1;
	`
	var run store.JobRun
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&run.ID,
		&run.JobID,
		&run.Strategy,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobRun{}, store.ErrNotFound
		}
		return store.JobRun{}, fmt.Errorf("failed to get job: %w", err)
	}
	return run, nil
}

// ListJobs retrieves a list of job runs, with optional status filtering.
func (s *ProgressStore) ListJobs(
	ctx context.Context,
	status *store.JobRunStatus,
	limit,
	offset int,
) ([]store.JobRun, error) {
	query := `
		SELECT id, job_id, strategy, started_at, finished_at, status, error_message
		FROM job_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var runs []store.JobRun
	for rows.Next() {
		var run store.JobRun
		err := rows.Scan(
			&run.ID,
			&run.JobID,
			&run.Strategy,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ListJobAccounts retrieves aggregated account statistics for a given job.
func (s *ProgressStore) ListJobAccounts(
	ctx context.Context,
	jobID uuid.UUID,
	limit,
	offset int,
) ([]store.AccountStats, error) {
	query := `
		SELECT job_id, account, last_update, stored, duplicates, failed, bytes_total
		FROM account_stats
		WHERE job_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list job accounts: %w", err)
	}
	defer rows.Close()

	var stats []store.AccountStats
	for rows.Next() {
		var stat store.AccountStats
		err := rows.Scan(
			&stat.JobID,
			&stat.Account,
			&stat.LastUpdate,
			&stat.Stored,
			&stat.Duplicates,
			&stat.Failed,
			&stat.BytesTotal,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}
