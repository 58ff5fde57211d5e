// Package worker implements the harvest pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mpharvester/internal/harvest"
	"mpharvester/internal/progress"
)

// Extractor turns a fetched page into a structured article record.
type Extractor interface {
	Extract(page harvest.Page) (*harvest.ArticleRecord, error)
}

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	Topic       string
	// JobTimeout caps one job's wall-clock runtime.
	JobTimeout time.Duration
	// FetchTimeout caps one fetch attempt; zero defers to the fetcher.
	FetchTimeout time.Duration
	// CandidateWorkers is how many loops pull candidates off one job's
	// frontier. Politeness pacing still applies per network identity.
	CandidateWorkers int
	// ListingScrolls bounds scroll rounds on rendered listing pages.
	ListingScrolls int
	// DiscoverScrolls bounds scroll rounds on rendered article pages for
	// the single-article strategy, which loads related panels lazily.
	DiscoverScrolls int
	// StallThreshold is the number of consecutive expansions yielding no
	// new candidates before the job stops expanding and drains.
	StallThreshold int
	// ExhaustionWait is how long a job waits for a proxy to recover
	// before failing on exhaustion.
	ExhaustionWait time.Duration
	// Breaker settings for the per-job failure-rate circuit breaker.
	BreakerWindow     int
	BreakerMinSamples int
	BreakerThreshold  float64
}

func (c *Config) applyDefaults() {
	if c.ContentType == "" {
		c.ContentType = "text/html; charset=utf-8"
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Minute
	}
	if c.CandidateWorkers <= 0 {
		c.CandidateWorkers = 1
	}
	if c.ListingScrolls <= 0 {
		c.ListingScrolls = 10
	}
	if c.DiscoverScrolls <= 0 {
		c.DiscoverScrolls = 3
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 5
	}
	if c.ExhaustionWait <= 0 {
		c.ExhaustionWait = time.Minute
	}
}

// Deps are the collaborators a Worker drives. Probe, Jobs, Articles,
// Blobs, Hasher, Clock, Extractor, and Discoverers are required at
// runtime; the rest degrade gracefully when nil.
type Deps struct {
	Queue       harvest.Queue
	Jobs        harvest.JobStore
	Articles    harvest.ArticleStore
	Blobs       harvest.BlobStore
	Publisher   harvest.Publisher
	Hasher      harvest.Hasher
	Clock       harvest.Clock
	Probe       harvest.Fetcher
	Rendered    harvest.Fetcher
	Promoter    harvest.PromotionDetector
	Blocks      *harvest.BlockDetector
	Sessions    harvest.SessionPool
	Pace        harvest.PacePolicy
	Retry       harvest.RetryPolicy
	Pauser      harvest.Pauser
	Extractor   Extractor
	Discoverers map[harvest.StrategyName]harvest.Discoverer
	Progress    progress.Emitter
	Cancels     *CancelRegistry
}

// Worker consumes queue items and executes the harvest pipeline, one job
// at a time. Within a job, CandidateWorkers loops share the frontier so
// fetch waits overlap.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	cfg.applyDefaults()
	if deps.Blocks == nil {
		deps.Blocks = harvest.NewBlockDetector(nil, nil, nil)
	}
	if deps.Retry == nil {
		deps.Retry = harvest.NewExponentialRetryPolicy(0, 0, 0)
	}
	if deps.Pauser == nil {
		deps.Pauser = harvest.NewTimerPauser()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes or the queue
// shuts down.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, harvest.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.runJob(ctx, item)
	}
}

// jobRun is the in-memory state of one executing job, shared by its
// candidate loops. The frontier, visit set, and breaker synchronize
// themselves; mu guards the rest.
type jobRun struct {
	id        string
	eventID   [16]byte
	params    harvest.JobParameters
	frontier  *harvest.Frontier
	visited   *harvest.VisitSet
	breaker   *harvest.WindowBreaker
	discover  harvest.Discoverer
	startedAt time.Time

	mu       sync.Mutex
	counters harvest.JobCounters
	// reserved counts budget slots held by saves still in flight plus
	// articles already stored.
	reserved int
	stalls   int
	draining bool
	// failure latches the first job-terminal condition.
	failure     error
	lastFailure string
}

func (r *jobRun) budgetReached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params.MaxArticles > 0 && r.counters.ArticlesFound >= r.params.MaxArticles
}

// reserveSlot claims one budget slot ahead of a save so concurrent loops
// cannot overshoot MaxArticles. Duplicates and failed saves hand their
// slot back with releaseSlot; stores keep it via confirmStored.
func (r *jobRun) reserveSlot() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.params.MaxArticles > 0 && r.reserved >= r.params.MaxArticles {
		return false
	}
	r.reserved++
	return true
}

func (r *jobRun) releaseSlot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserved--
}

func (r *jobRun) confirmStored() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.ArticlesFound++
}

func (r *jobRun) noteDuplicate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.Duplicates++
}

func (r *jobRun) noteRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.Retries++
}

func (r *jobRun) noteCandidateFailure(note string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.ArticlesFailed++
	r.lastFailure = note
}

func (r *jobRun) setLastFailure(note string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFailure = note
}

func (r *jobRun) lastFailureNote() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFailure
}

func (r *jobRun) counterSnapshot() harvest.JobCounters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

func (r *jobRun) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		r.failure = err
	}
}

func (r *jobRun) terminalFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// noteExpansion tracks the consecutive-no-new-candidates stall rule.
func (r *jobRun) noteExpansion(added, threshold int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if added > 0 {
		r.stalls = 0
		return
	}
	r.stalls++
	if r.stalls >= threshold {
		r.draining = true
	}
}

func (r *jobRun) drainingNow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

func (w *Worker) runJob(ctx context.Context, item harvest.QueueItem) {
	log := w.logger.With(zap.String("job_id", item.JobID))

	job, err := w.deps.Jobs.GetJob(ctx, item.JobID)
	if err != nil {
		log.Error("job lookup failed", zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		log.Info("skipping terminal job", zap.String("status", string(job.Status)))
		return
	}

	run := &jobRun{
		id:        item.JobID,
		eventID:   jobEventID(item.JobID),
		params:    item.Params,
		frontier:  harvest.NewFrontier(),
		visited:   harvest.NewVisitSet(),
		breaker:   harvest.NewWindowBreaker(w.cfg.BreakerWindow, w.cfg.BreakerMinSamples, w.cfg.BreakerThreshold),
		startedAt: w.deps.Clock.Now(),
	}

	disc, ok := w.deps.Discoverers[item.Params.Strategy]
	if !ok || w.deps.Probe == nil {
		summary := fmt.Sprintf("no discoverer for strategy %q", item.Params.Strategy)
		if w.deps.Probe == nil {
			summary = "no probe fetcher configured"
		}
		w.finishJob(ctx, run, harvest.JobStatusFailed, summary, log)
		return
	}
	run.discover = disc

	if err := w.deps.Jobs.UpdateJobStatus(ctx, run.id, harvest.JobStatusRunning, ""); err != nil {
		log.Error("update job status failed", zap.Error(err))
		return
	}
	harvest.ActiveJobs.Inc()
	defer harvest.ActiveJobs.Dec()
	w.emitEvent(run, progress.Event{Stage: progress.StageJobStart, URL: run.params.SeedURL})

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	w.deps.Cancels.register(run.id, cancel)
	defer cancel()

	if err := w.seedFrontier(jobCtx, run); err != nil {
		w.deps.Cancels.unregister(run.id)
		w.finishJob(ctx, run, harvest.JobStatusFailed, err.Error(), log)
		return
	}

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.CandidateWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.candidateLoop(jobCtx, run, log)
		}()
	}
	wg.Wait()

	operatorCancelled := w.deps.Cancels.unregister(run.id)
	status, summary := w.deriveFinalStatus(run, jobCtx, operatorCancelled)
	w.finishJob(ctx, run, status, summary, log)
}

// candidateLoop pulls candidates off the shared frontier until the job
// is exhausted, closed, or cancelled. Frontier.Next blocks while sibling
// loops may still push work, so returning means the job is over.
func (w *Worker) candidateLoop(ctx context.Context, run *jobRun, log *zap.Logger) {
	for {
		cand, ok := run.frontier.Next(ctx)
		if !ok {
			return
		}
		w.processCandidate(ctx, run, cand, log)
		run.frontier.Done()
		if run.terminalFailure() != nil {
			run.frontier.Close()
		}
	}
}

func (w *Worker) seedFrontier(ctx context.Context, run *jobRun) error {
	seeds, err := run.discover.Seed(ctx, run.params.SeedURL)
	if err != nil {
		return fmt.Errorf("seed rejected: %w", err)
	}
	for _, seed := range seeds {
		if run.visited.MarkIfNew(harvest.CanonicalKey(seed.URL)) {
			run.frontier.Push(seed)
		}
	}
	return nil
}

func (w *Worker) deriveFinalStatus(run *jobRun, jobCtx context.Context, operatorCancelled bool) (harvest.JobStatus, string) {
	failure := run.terminalFailure()
	counters := run.counterSnapshot()
	switch {
	case operatorCancelled:
		return harvest.JobStatusCancelled, "cancelled by operator"
	case failure != nil:
		summary := failure.Error()
		if note := run.lastFailureNote(); errors.Is(failure, harvest.ErrCircuitOpen) && note != "" {
			summary = summary + ": " + note
		}
		return harvest.JobStatusFailed, summary
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return harvest.JobStatusFailed, "job timeout exceeded"
	case jobCtx.Err() != nil:
		return harvest.JobStatusCancelled, "aborted during shutdown"
	case counters.ArticlesFound == 0 && counters.Duplicates == 0 && counters.ArticlesFailed > 0:
		return harvest.JobStatusFailed, "no articles harvested"
	default:
		return harvest.JobStatusCompleted, ""
	}
}

// finishJob persists the terminal status even when the job context is
// already gone.
func (w *Worker) finishJob(ctx context.Context, run *jobRun, status harvest.JobStatus, summary string, log *zap.Logger) {
	counters := run.counterSnapshot()
	finalCtx := context.WithoutCancel(ctx)
	if err := w.deps.Jobs.RecordOutcome(finalCtx, run.id, counters, ""); err != nil {
		log.Error("record final counters failed", zap.Error(err))
	}
	if err := w.deps.Jobs.UpdateJobStatus(finalCtx, run.id, status, summary); err != nil {
		log.Error("final job status update failed", zap.Error(err))
	}

	harvest.JobsCompleted.WithLabelValues(string(status)).Inc()
	stage := progress.StageJobDone
	switch status {
	case harvest.JobStatusFailed:
		stage = progress.StageJobError
	case harvest.JobStatusCancelled:
		stage = progress.StageJobCancelled
	}
	w.emitEvent(run, progress.Event{
		Stage: stage,
		Dur:   w.deps.Clock.Now().Sub(run.startedAt),
		Note:  string(status) + noteSuffix(summary),
	})

	log.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("found", counters.ArticlesFound),
		zap.Int("failed", counters.ArticlesFailed),
		zap.Int("duplicates", counters.Duplicates),
		zap.Int("retries", counters.Retries),
		zap.String("summary", summary),
	)
}

func (w *Worker) emitEvent(run *jobRun, evt progress.Event) {
	if w.deps.Progress == nil {
		return
	}
	evt.JobID = run.eventID
	evt.TS = w.deps.Clock.Now().UTC()
	evt.Strategy = run.params.Strategy
	w.deps.Progress.Emit(evt)
}

// jobEventID derives the 16-byte event key from the job ID, hashing IDs
// that are not already UUIDs.
func jobEventID(jobID string) [16]byte {
	if id, err := uuid.Parse(jobID); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(jobID))
}

func noteSuffix(summary string) string {
	if summary == "" {
		return ""
	}
	return ": " + summary
}

func (w *Worker) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}
