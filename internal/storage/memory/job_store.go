package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"mpharvester/internal/harvest"
)

// maxRecentErrors bounds the per-job failure list so long jobs cannot grow
// job rows without limit.
const maxRecentErrors = 10

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]harvest.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]harvest.Job),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job harvest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.Job{}, harvest.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns all jobs ordered newest first.
func (s *JobStore) ListJobs(_ context.Context) ([]harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]harvest.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateJobStatus transitions the job and records the failure summary on
// terminal errors. Transitions out of a terminal state are rejected.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status harvest.JobStatus,
	errorSummary string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return harvest.ErrJobTerminal
	}
	now := time.Now().UTC()
	job.Status = status
	job.ErrorSummary = errorSummary
	job.UpdatedAt = now
	if status == harvest.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// RecordOutcome replaces the job's counters and appends the failure reason
// to the bounded recent-error list.
func (s *JobStore) RecordOutcome(
	_ context.Context,
	jobID string,
	counters harvest.JobCounters,
	reason string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.ErrJobNotFound
	}
	job.Counters = counters
	if reason != "" {
		job.RecentErrors = append(job.RecentErrors, reason)
		if len(job.RecentErrors) > maxRecentErrors {
			job.RecentErrors = job.RecentErrors[len(job.RecentErrors)-maxRecentErrors:]
		}
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

func cloneJob(job harvest.Job) harvest.Job {
	out := job
	out.RecentErrors = append([]string(nil), job.RecentErrors...)
	if job.Started != nil {
		out.Started = pointerTime(*job.Started)
	}
	if job.Finished != nil {
		out.Finished = pointerTime(*job.Finished)
	}
	if job.Parameters.TimeFloor != nil {
		floor := *job.Parameters.TimeFloor
		out.Parameters.TimeFloor = &floor
	}
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
