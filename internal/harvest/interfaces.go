package harvest

import (
	"context"
	"time"
)

// SaveOutcome is the result of persisting an article record.
type SaveOutcome int

// Save outcomes. Duplicate means the URL was already stored; the record is
// discarded and the job's duplicate counter increments.
const (
	SaveStored SaveOutcome = iota
	SaveDuplicate
)

// JobStore persists job metadata and counters.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorSummary string) error
	// RecordOutcome replaces the job's counters and, when reason is
	// non-empty, appends it to the bounded recent-error list.
	RecordOutcome(ctx context.Context, jobID string, counters JobCounters, reason string) error
}

// ArticleStore is the narrow storage contract the harvester depends on.
type ArticleStore interface {
	Save(ctx context.Context, record ArticleRecord) (SaveOutcome, error)
	Exists(ctx context.Context, url string) (bool, error)
	Close() error
}

// BlobStore archives raw page snapshots and returns a reference URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes article events to the outbound bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves one URL and returns the rendered page.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// PromotionDetector decides whether a probe result needs a rendered
// re-fetch through a browser session.
type PromotionDetector interface {
	ShouldPromote(page Page) bool
}

// SessionPool owns browser session lifecycles. Acquire blocks while the
// pool is at capacity; Release returns or retires the handle according to
// the outcome.
type SessionPool interface {
	Acquire(ctx context.Context) (*SessionHandle, error)
	Release(handle *SessionHandle, outcome SessionOutcome)
	Close()
}

// ProxyPool supplies outbound identities and tracks their health.
type ProxyPool interface {
	// Select returns a usable proxy, preferring healthy over degraded,
	// or ErrProxyExhausted when none qualifies.
	Select() (*ProxyRecord, error)
	Report(proxyID string, success bool)
	Snapshot() []ProxyRecord
}

// PacePolicy enforces the minimum inter-request spacing per network
// identity, independent of worker concurrency.
type PacePolicy interface {
	Wait(ctx context.Context, identity string) error
}

// Discoverer is one discovery strategy: Seed turns a seed URL into the
// initial frontier, Expand folds a fetched page back into new candidates
// attributed to the parent. Expand must tolerate a nil record (listing
// pages and failed extractions).
type Discoverer interface {
	Name() StrategyName
	Seed(ctx context.Context, seedURL string) ([]Candidate, error)
	Expand(ctx context.Context, parent Candidate, record *ArticleRecord, page Page) []Candidate
}

// Queue provides enqueue/dequeue semantics for submitted jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for blob keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
