package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mpharvester/internal/progress"
	"mpharvester/internal/store"
)

// StoreSink persists progress deltas via a store.ProgressRepository. It batches
// account-level counters to reduce write amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses account deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		jobID := evt.JobUUID()
		switch evt.Stage {
		case progress.StageJobStart, progress.StageJobDone, progress.StageJobError, progress.StageJobCancelled:
			if err := s.handleJobEvent(ctx, jobID, evt); err != nil {
				return err
			}
		case progress.StageStored, progress.StageDuplicate, progress.StageFailed:
			recordAccountStats(stats, jobID, evt)
		}
	}

	for key, delta := range stats {
		if err := s.repo.UpsertAccountStats(ctx, key.jobID, key.account, delta.delta, delta.at); err != nil {
			return fmt.Errorf("upsert account stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleJobEvent(ctx context.Context, jobID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageJobStart:
		if err := s.repo.UpsertJobStart(ctx, jobID, string(evt.Strategy), evt.TS); err != nil {
			return fmt.Errorf("upsert job start: %w", err)
		}
	case progress.StageJobDone:
		if err := s.repo.CompleteJob(ctx, jobID, evt.TS, store.RunCompleted, nil); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	case progress.StageJobError:
		if err := s.repo.CompleteJob(ctx, jobID, evt.TS, store.RunFailed, noteOrNil(evt)); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	case progress.StageJobCancelled:
		if err := s.repo.CompleteJob(ctx, jobID, evt.TS, store.RunCancelled, noteOrNil(evt)); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	}
	return nil
}

func noteOrNil(evt progress.Event) *string {
	if evt.Note == "" {
		return nil
	}
	return &evt.Note
}

func recordAccountStats(stats map[statsKey]*statsDelta, jobID uuid.UUID, evt progress.Event) {
	account := evt.Account
	if account == "" {
		account = "unknown"
	}
	key := statsKey{jobID: jobID, account: account}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	switch evt.Stage {
	case progress.StageStored:
		stat.delta.Stored++
		stat.delta.Bytes += evt.Bytes
	case progress.StageDuplicate:
		stat.delta.Duplicates++
	case progress.StageFailed:
		stat.delta.Failed++
	}
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	jobID   uuid.UUID
	account string
}

type statsDelta struct {
	delta store.AccountDelta
	at    time.Time
}
