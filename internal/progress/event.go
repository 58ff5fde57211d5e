// Package progress defines the event structures emitted by harvest workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mpharvester/internal/harvest"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageJobCancelled Stage = "JOB_CANCELLED"
	StageStored       Stage = "ARTICLE_STORED"
	StageDuplicate    Stage = "ARTICLE_DUPLICATE"
	StageFailed       Stage = "ARTICLE_FAILED"
	StageDetection    Stage = "DETECTION"
)

// Event captures a single milestone of harvest progress.
type Event struct {
	// JobID uniquely identifies a job run using the 16-byte UUID form.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or article milestone occurred.
	Stage Stage
	// Strategy names the discovery strategy driving the job.
	Strategy harvest.StrategyName
	// URL is the optional article URL; it should not contain credentials.
	URL string
	// Account is the publishing account the article belongs to, when known.
	Account string
	// Depth is the discovery depth of the candidate behind article events.
	Depth int
	// Mode records which fetch tier produced the page.
	Mode harvest.FetchMode
	// Bytes carries the stored snapshot size for article events.
	Bytes int64
	// Dur captures fetch latency for article events and total runtime for
	// job completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context: the failure reason on
	// ARTICLE_FAILED, the matched marker on DETECTION, the terminal status
	// on job events.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageJobCancelled:
	case StageStored, StageDuplicate, StageFailed:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageDetection:
		if e.Note == "" {
			return errors.New("detection requires the matched marker")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes out a job run.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageJobDone, StageJobError, StageJobCancelled:
		return true
	default:
		return false
	}
}

// JobUUID converts the binary job ID to uuid.UUID for repositories.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
