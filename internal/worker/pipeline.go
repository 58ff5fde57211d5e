package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mpharvester/internal/harvest"
	"mpharvester/internal/progress"
)

// processCandidate runs one frontier candidate through the pipeline:
// dedup, tiered fetch with retries, extraction, persistence, publication,
// and expansion. Candidate failures never abort the job; job-terminal
// conditions latch onto the run instead.
func (w *Worker) processCandidate(ctx context.Context, run *jobRun, cand harvest.Candidate, log *zap.Logger) {
	if run.budgetReached() {
		run.frontier.Close()
		return
	}
	if run.breaker.Tripped() {
		run.fail(harvest.ErrCircuitOpen)
		return
	}

	if harvest.IsArticleURL(cand.URL) && w.deps.Articles != nil {
		canonical := harvest.CanonicalKey(cand.URL)
		exists, err := w.deps.Articles.Exists(ctx, canonical)
		if err != nil {
			log.Warn("exists check failed", zap.String("url", cand.URL), zap.Error(err))
		} else if exists {
			run.noteDuplicate()
			harvest.ArticlesHarvested.WithLabelValues("duplicate").Inc()
			w.recordOutcome(ctx, run, "", log)
			w.emitEvent(run, progress.Event{
				Stage: progress.StageDuplicate,
				URL:   canonical,
				Depth: cand.Depth,
				Note:  "already stored",
			})
			return
		}
	}

	page, rec, err := w.harvestCandidate(ctx, run, &cand)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return
		case errors.Is(err, harvest.ErrProxyExhausted) || errors.Is(err, harvest.ErrCircuitOpen):
			run.fail(err)
			return
		}
		var xe *harvest.ExtractionError
		isExtraction := errors.As(err, &xe)
		if isExtraction && page.ContentLength() > 0 {
			// Keep the snapshot reachable so the parse failure can be
			// diagnosed offline.
			xe.RawRef = w.archiveSnapshot(ctx, run, page, log)
		}
		w.candidateFailed(ctx, run, cand, page, err, log)
		// A page that fetched but would not parse can still reveal links.
		if isExtraction && page.ContentLength() > 0 {
			w.expand(ctx, run, cand, nil, page)
		}
		return
	}

	if rec == nil {
		// Listing surface: nothing to store, only links to follow.
		w.expand(ctx, run, cand, nil, page)
		return
	}
	w.persistRecord(ctx, run, cand, rec, page, log)
}

// harvestCandidate drives attempts for one candidate, retrying transient
// failures with backoff. Proxy exhaustion gets one bounded recovery wait
// before it becomes job-terminal.
func (w *Worker) harvestCandidate(ctx context.Context, run *jobRun, cand *harvest.Candidate) (harvest.Page, *harvest.ArticleRecord, error) {
	var (
		lastPage       harvest.Page
		forceRendered  bool
		waitedForProxy bool
	)
	for retries := 0; ; retries++ {
		cand.Attempts = retries + 1
		page, rec, err := w.attempt(ctx, run, *cand, forceRendered)
		if page.ContentLength() > 0 {
			lastPage = page
		}
		if err == nil {
			return page, rec, nil
		}
		if ctx.Err() != nil {
			return lastPage, nil, ctx.Err()
		}
		if errors.Is(err, harvest.ErrProxyExhausted) {
			if waitedForProxy {
				return lastPage, nil, err
			}
			waitedForProxy = true
			w.logger.Warn("proxies exhausted, waiting for recovery",
				zap.String("job_id", run.id),
				zap.Duration("wait", w.cfg.ExhaustionWait),
			)
			w.deps.Pauser.Pause(ctx, w.cfg.ExhaustionWait)
			if ctx.Err() != nil {
				return lastPage, nil, ctx.Err()
			}
			retries--
			continue
		}
		harvest.FetchErrors.WithLabelValues(errorKind(err)).Inc()
		if run.breaker.Tripped() {
			run.setLastFailure(err.Error())
			return lastPage, nil, harvest.ErrCircuitOpen
		}
		if harvest.IsDetection(err) && w.deps.Rendered != nil {
			// A soft block at the probe tier often clears behind a full
			// browser identity.
			forceRendered = true
		}
		if !w.deps.Retry.ShouldRetry(err, retries) {
			return lastPage, rec, err
		}
		run.noteRetry()
		harvest.RetriesTotal.Inc()
		w.deps.Pauser.Pause(ctx, w.deps.Retry.Backoff(retries))
		if ctx.Err() != nil {
			return lastPage, nil, ctx.Err()
		}
	}
}

// attempt performs a single fetch-classify-extract pass. Exactly one
// breaker sample is recorded per attempt: transient and detection
// failures count against the window, everything else counts for it.
func (w *Worker) attempt(ctx context.Context, run *jobRun, cand harvest.Candidate, forceRendered bool) (page harvest.Page, rec *harvest.ArticleRecord, retErr error) {
	listing := harvest.IsListingURL(cand.URL)

	var session *harvest.SessionHandle
	if w.deps.Sessions != nil {
		var err error
		session, err = w.deps.Sessions.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return harvest.Page{}, nil, ctx.Err()
			}
			return harvest.Page{}, nil, err
		}
		defer func() {
			outcome := harvest.SessionOK
			switch {
			case harvest.IsDetection(retErr):
				outcome = harvest.SessionDetected
			case retErr != nil && !harvest.IsPermanent(retErr):
				outcome = harvest.SessionFailed
			}
			w.deps.Sessions.Release(session, outcome)
		}()
	}
	defer func() {
		if errors.Is(retErr, context.Canceled) || errors.Is(retErr, context.DeadlineExceeded) {
			return
		}
		run.breaker.Record(!harvest.IsTransient(retErr))
	}()

	if w.deps.Pace != nil {
		identity := ""
		if session != nil {
			identity = session.ProxyID
		}
		if err := w.deps.Pace.Wait(ctx, identity); err != nil {
			return harvest.Page{}, nil, err
		}
	}

	mode := harvest.FetchProbe
	if (listing || forceRendered) && w.deps.Rendered != nil {
		mode = harvest.FetchRendered
	}
	page, err := w.fetchTier(ctx, run, cand, session, mode, listing)
	if err != nil {
		return harvest.Page{}, nil, err
	}
	if derr := w.classifyPage(run, cand, page); derr != nil {
		return page, nil, derr
	}

	if page.Mode == harvest.FetchProbe && w.deps.Rendered != nil &&
		w.deps.Promoter != nil && w.deps.Promoter.ShouldPromote(page) {
		rendered, rerr := w.fetchTier(ctx, run, cand, session, harvest.FetchRendered, listing)
		switch {
		case rerr != nil && ctx.Err() != nil:
			return page, nil, ctx.Err()
		case rerr != nil:
			// The probe page already passed classification; keep it.
			w.logger.Warn("rendered promotion failed",
				zap.String("job_id", run.id),
				zap.String("url", cand.URL),
				zap.Error(rerr),
			)
		default:
			if derr := w.classifyPage(run, cand, rendered); derr != nil {
				return rendered, nil, derr
			}
			page = rendered
		}
	}

	if listing {
		return page, nil, nil
	}

	rec, err = w.deps.Extractor.Extract(page)
	if err != nil && page.Mode == harvest.FetchProbe && w.deps.Rendered != nil {
		// Content hidden behind scripts at the probe tier gets one
		// rendered pass before the extraction failure sticks.
		rendered, rerr := w.fetchTier(ctx, run, cand, session, harvest.FetchRendered, listing)
		if rerr == nil {
			if derr := w.classifyPage(run, cand, rendered); derr != nil {
				return rendered, nil, derr
			}
			page = rendered
			rec, err = w.deps.Extractor.Extract(page)
		}
	}
	if err != nil {
		return page, nil, err
	}
	return page, rec, nil
}

func (w *Worker) fetchTier(ctx context.Context, run *jobRun, cand harvest.Candidate, session *harvest.SessionHandle, mode harvest.FetchMode, listing bool) (harvest.Page, error) {
	fetcher := w.deps.Probe
	if mode == harvest.FetchRendered {
		fetcher = w.deps.Rendered
	}
	req := harvest.FetchRequest{
		JobID:   run.id,
		URL:     cand.URL,
		Mode:    mode,
		Session: session,
		Timeout: w.cfg.FetchTimeout,
	}
	if mode == harvest.FetchRendered {
		switch {
		case listing:
			req.ScrollRounds = w.cfg.ListingScrolls
		case run.params.Strategy == harvest.StrategyDiscover:
			req.ScrollRounds = w.cfg.DiscoverScrolls
		}
	}
	harvest.FetchesTotal.WithLabelValues(string(mode)).Inc()
	page, err := fetcher.Fetch(ctx, req)
	if err != nil {
		return harvest.Page{}, err
	}
	harvest.FetchDuration.WithLabelValues(string(mode)).Observe(page.Duration.Seconds())
	return page, nil
}

// classifyPage turns soft-block and removal pages into their error
// classes before extraction sees them.
func (w *Worker) classifyPage(run *jobRun, cand harvest.Candidate, page harvest.Page) error {
	if marker, blocked := w.deps.Blocks.Blocked(page); blocked {
		harvest.DetectionSignals.Inc()
		w.emitEvent(run, progress.Event{
			Stage: progress.StageDetection,
			URL:   cand.URL,
			Depth: cand.Depth,
			Mode:  page.Mode,
			Note:  marker,
		})
		return &harvest.DetectionError{Marker: marker}
	}
	if w.deps.Blocks.Gone(page) {
		return harvest.Permanentf("content removed (status %d)", page.StatusCode)
	}
	return nil
}

// archiveSnapshot stores the raw page body and returns its reference, or
// empty when archival is unavailable or fails.
func (w *Worker) archiveSnapshot(ctx context.Context, run *jobRun, page harvest.Page, log *zap.Logger) string {
	if w.deps.Blobs == nil {
		return ""
	}
	hash, err := w.deps.Hasher.Hash(page.Body)
	if err != nil {
		log.Warn("hash snapshot failed", zap.Error(err))
		return ""
	}
	ref, err := w.deps.Blobs.PutObject(ctx, w.buildBlobPath(run.id, hash), w.cfg.ContentType, page.Body)
	if err != nil {
		log.Warn("archive snapshot failed", zap.String("url", page.URL), zap.Error(err))
		return ""
	}
	return ref
}

func (w *Worker) persistRecord(ctx context.Context, run *jobRun, cand harvest.Candidate, rec *harvest.ArticleRecord, page harvest.Page, log *zap.Logger) {
	if !run.reserveSlot() {
		// Concurrent saves already claimed the whole budget; this record
		// arrived too late to count.
		run.frontier.Close()
		return
	}
	hash, err := w.deps.Hasher.Hash(page.Body)
	if err != nil {
		run.releaseSlot()
		w.candidateFailed(ctx, run, cand, page, fmt.Errorf("hash body: %w", err), log)
		return
	}
	if w.deps.Blobs != nil {
		ref, err := w.deps.Blobs.PutObject(ctx, w.buildBlobPath(run.id, hash), w.cfg.ContentType, page.Body)
		if err != nil {
			run.releaseSlot()
			w.candidateFailed(ctx, run, cand, page, fmt.Errorf("archive snapshot: %w", err), log)
			return
		}
		rec.RawContentRef = ref
	}

	outcome, err := w.deps.Articles.Save(ctx, *rec)
	if err != nil {
		run.releaseSlot()
		w.candidateFailed(ctx, run, cand, page, fmt.Errorf("save article: %w", err), log)
		return
	}

	if outcome == harvest.SaveDuplicate {
		run.releaseSlot()
		run.noteDuplicate()
		harvest.ArticlesHarvested.WithLabelValues("duplicate").Inc()
		w.recordOutcome(ctx, run, "", log)
		w.emitEvent(run, progress.Event{
			Stage:   progress.StageDuplicate,
			URL:     rec.URL,
			Account: rec.AccountName,
			Depth:   cand.Depth,
			Mode:    page.Mode,
			Note:    "already stored",
		})
	} else {
		run.confirmStored()
		harvest.ArticlesHarvested.WithLabelValues("stored").Inc()
		w.recordOutcome(ctx, run, "", log)
		w.emitEvent(run, progress.Event{
			Stage:   progress.StageStored,
			URL:     rec.URL,
			Account: rec.AccountName,
			Depth:   cand.Depth,
			Mode:    page.Mode,
			Bytes:   int64(page.ContentLength()),
			Dur:     page.Duration,
		})
		w.publishRecord(ctx, run, cand, rec, hash, log)
		log.Info("article stored",
			zap.String("url", rec.URL),
			zap.String("title", rec.Title),
			zap.String("strategy", string(run.params.Strategy)),
			zap.Int("depth", cand.Depth),
		)
		if run.budgetReached() {
			run.frontier.Close()
			return
		}
	}

	w.expand(ctx, run, cand, rec, page)
}

// expand folds a processed page back into the frontier and tracks the
// consecutive-no-new-candidates stall rule.
func (w *Worker) expand(ctx context.Context, run *jobRun, parent harvest.Candidate, rec *harvest.ArticleRecord, page harvest.Page) {
	if run.drainingNow() {
		return
	}
	if rec != nil && run.params.TimeFloor != nil &&
		!rec.PublishTime.IsZero() && rec.PublishTime.Before(*run.params.TimeFloor) {
		// Older than the floor; its neighbors are older still.
		return
	}
	added := 0
	for _, child := range run.discover.Expand(ctx, parent, rec, page) {
		if run.params.MaxDepth > 0 && child.Depth > run.params.MaxDepth {
			continue
		}
		if !run.visited.MarkIfNew(harvest.CanonicalKey(child.URL)) {
			continue
		}
		run.frontier.Push(child)
		added++
	}
	run.noteExpansion(added, w.cfg.StallThreshold)
}

// articleEvent is the JSON payload published for each stored article.
type articleEvent struct {
	JobID       string                `json:"job_id"`
	Strategy    harvest.StrategyName  `json:"strategy"`
	Depth       int                   `json:"depth"`
	ContentHash string                `json:"content_hash"`
	Timestamp   string                `json:"timestamp"`
	Article     harvest.ArticleRecord `json:"article"`
}

func (w *Worker) publishRecord(ctx context.Context, run *jobRun, cand harvest.Candidate, rec *harvest.ArticleRecord, hash string, log *zap.Logger) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	evt := articleEvent{
		JobID:       run.id,
		Strategy:    run.params.Strategy,
		Depth:       cand.Depth,
		ContentHash: hash,
		Timestamp:   w.deps.Clock.Now().UTC().Format(time.RFC3339),
		Article:     *rec,
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, evt); err != nil {
		log.Warn("article publish failed", zap.String("url", rec.URL), zap.Error(err))
		return
	}
	log.Debug("article published", zap.String("url", rec.URL), zap.String("hash", hash))
}

func (w *Worker) candidateFailed(ctx context.Context, run *jobRun, cand harvest.Candidate, page harvest.Page, err error, log *zap.Logger) {
	run.noteCandidateFailure(err.Error())
	w.recordOutcome(ctx, run, fmt.Sprintf("%s: %v", cand.URL, err), log)
	w.emitEvent(run, progress.Event{
		Stage: progress.StageFailed,
		URL:   cand.URL,
		Depth: cand.Depth,
		Mode:  page.Mode,
		Note:  err.Error(),
	})
	log.Warn("candidate failed",
		zap.String("url", cand.URL),
		zap.Int("attempts", cand.Attempts),
		zap.Error(err),
	)
}

func (w *Worker) recordOutcome(ctx context.Context, run *jobRun, reason string, log *zap.Logger) {
	if err := w.deps.Jobs.RecordOutcome(ctx, run.id, run.counterSnapshot(), reason); err != nil {
		log.Warn("record outcome failed", zap.Error(err))
	}
}

func errorKind(err error) string {
	switch {
	case harvest.IsDetection(err):
		return "detection"
	case harvest.IsPermanent(err):
		return "permanent"
	default:
		return "transient"
	}
}
