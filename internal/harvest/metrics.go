package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ArticlesHarvested counts article records persisted, by outcome.
	ArticlesHarvested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_articles_total",
		Help: "Article records persisted, labeled stored/duplicate.",
	}, []string{"outcome"})
	// FetchesTotal counts fetch attempts by tier.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_fetches_total",
		Help: "Fetch attempts, labeled by fetch mode.",
	}, []string{"mode"})
	// FetchErrors counts failed fetches by error class.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_fetch_errors_total",
		Help: "Failed fetches, labeled transient/permanent/detection.",
	}, []string{"kind"})
	// DetectionSignals counts soft-block detections.
	DetectionSignals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_detections_total",
		Help: "Soft-block or verification pages encountered.",
	})
	// RetriesTotal counts candidate retry attempts.
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_retries_total",
		Help: "Candidate fetches retried after transient failures.",
	})
	// ExtractionsTotal counts successful extractions by winning strategy.
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_extractions_total",
		Help: "Successful extractions, labeled by the strategy that produced the record.",
	}, []string{"strategy"})
	// SessionsRetired counts session retirements by cause.
	SessionsRetired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_sessions_retired_total",
		Help: "Browser sessions retired, labeled budget/detection/error.",
	}, []string{"cause"})
	// ProxyState tracks proxies per health state.
	ProxyState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvester_proxies",
		Help: "Proxies per health state.",
	}, []string{"health"})
	// JobsCompleted counts terminal jobs by status.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_jobs_total",
		Help: "Jobs reaching a terminal state, labeled by status.",
	}, []string{"status"})
	// ActiveJobs tracks jobs currently running.
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_active_jobs",
		Help: "Jobs currently running.",
	})
	// FetchDuration observes fetch latency by mode.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_fetch_duration_seconds",
		Help:    "Fetch latency, labeled by fetch mode.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
)
