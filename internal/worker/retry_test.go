package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mpharvester/internal/harvest"
)

func TestWorkerRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	r := newRig(Config{}, nil)
	// Fails twice, succeeds on the third attempt.
	r.probe.failFirstN(seedURL, 2)
	r.enqueue(t, harvest.JobParameters{MaxArticles: 5})
	r.runUntilTerminal(t)

	require.Equal(t, harvest.JobStatusCompleted, r.jobs.lastStatus())
	require.Equal(t, 3, r.probe.attempts(seedURL))
	counters := r.jobs.lastCounters()
	require.Equal(t, 1, counters.ArticlesFound)
	require.Equal(t, 2, counters.Retries)
	require.Zero(t, counters.ArticlesFailed)
}

func TestWorkerRetryExhausted(t *testing.T) {
	t.Parallel()

	r := newRig(Config{}, func(d *Deps) {
		d.Retry = harvest.NewExponentialRetryPolicy(3, time.Millisecond, 2*time.Millisecond)
	})
	r.probe.failFirstN(seedURL, 99)
	r.enqueue(t, harvest.JobParameters{MaxArticles: 5})
	r.runUntilTerminal(t)

	require.Equal(t, harvest.JobStatusFailed, r.jobs.lastStatus())
	require.Equal(t, "no articles harvested", r.jobs.lastSummary())
	// Initial attempt plus three retries.
	require.Equal(t, 4, r.probe.attempts(seedURL))
	counters := r.jobs.lastCounters()
	require.Equal(t, 3, counters.Retries)
	require.Equal(t, 1, counters.ArticlesFailed)
}

func TestWorkerPermanentFetchErrorNotRetried(t *testing.T) {
	t.Parallel()

	r := newRig(Config{}, nil)
	r.probe.errFor(seedURL, harvest.Permanentf("rejected by origin"))
	r.enqueue(t, harvest.JobParameters{MaxArticles: 5})
	r.runUntilTerminal(t)

	require.Equal(t, harvest.JobStatusFailed, r.jobs.lastStatus())
	require.Equal(t, 1, r.probe.attempts(seedURL))
	require.Zero(t, r.jobs.lastCounters().Retries)
}

func TestWorkerRetryBackoffUsesPolicy(t *testing.T) {
	t.Parallel()

	r := newRig(Config{}, func(d *Deps) {
		d.Retry = harvest.NewExponentialRetryPolicy(2, 10*time.Millisecond, 40*time.Millisecond)
	})
	r.probe.failFirstN(seedURL, 1)
	r.enqueue(t, harvest.JobParameters{MaxArticles: 5})
	r.runUntilTerminal(t)

	require.Equal(t, harvest.JobStatusCompleted, r.jobs.lastStatus())
	delays := r.pauser.all()
	require.Len(t, delays, 1)
	// Backoff for the first retry is base/2 plus jitter under base/2.
	require.GreaterOrEqual(t, delays[0], 5*time.Millisecond)
	require.Less(t, delays[0], 10*time.Millisecond)
}
