// Package server assembles the harvester's dependencies and runs the
// service until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mpharvester/internal/api"
	"mpharvester/internal/clock/system"
	"mpharvester/internal/config"
	"mpharvester/internal/discover"
	"mpharvester/internal/dispatcher"
	"mpharvester/internal/extract"
	headlessfetcher "mpharvester/internal/fetcher/headless"
	probefetcher "mpharvester/internal/fetcher/probe"
	"mpharvester/internal/harvest"
	"mpharvester/internal/hash/sha256"
	"mpharvester/internal/headless/detector"
	"mpharvester/internal/id/uuid"
	"mpharvester/internal/logging"
	"mpharvester/internal/policy/ratelimit"
	"mpharvester/internal/policy/simple"
	"mpharvester/internal/progress"
	progresssinks "mpharvester/internal/progress/sinks"
	"mpharvester/internal/proxy"
	kafkapublisher "mpharvester/internal/publisher/kafka"
	memorypublisher "mpharvester/internal/publisher/memory"
	gcppublisher "mpharvester/internal/publisher/pubsub"
	queueMemory "mpharvester/internal/queue/memory"
	queuePubsub "mpharvester/internal/queue/pubsub"
	"mpharvester/internal/session"
	gcsstorage "mpharvester/internal/storage/gcs"
	localstorage "mpharvester/internal/storage/local"
	memoryStorage "mpharvester/internal/storage/memory"
	pgstore "mpharvester/internal/storage/postgres"
	redisstore "mpharvester/internal/storage/redis"
	sqlitestore "mpharvester/internal/storage/sqlite"
	"mpharvester/internal/store"
	"mpharvester/internal/worker"
)

// closeStep is one shutdown action, run in reverse build order.
type closeStep struct {
	name string
	fn   func(context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	registry    *worker.CancelRegistry
	progressHub *progress.Hub
	queue       harvest.Queue

	progressRepo store.ProgressRepository
	closeSteps   []closeStep
}

func (a *App) deferClose(name string, fn func(context.Context) error) {
	a.closeSteps = append(a.closeSteps, closeStep{name: name, fn: fn})
}

// Run starts the dispatcher and HTTP server, then blocks until a signal or
// context cancellation triggers shutdown.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
		close(dispatchDone)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before deadline")
	}

	return a.Close(shutdownCtx)
}

// Close releases infrastructure in reverse build order.
func (a *App) Close(ctx context.Context) error {
	for i := len(a.closeSteps) - 1; i >= 0; i-- {
		step := a.closeSteps[i]
		if err := step.fn(ctx); err != nil {
			a.logger.Warn("shutdown step failed", zap.String("step", step.name), zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		// Sync on a terminal fails on some platforms; nothing to do.
		_ = err
	}
	return nil
}

// Build creates the application's dependencies according to the configured
// backends.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("events", cfg.Events.Backend),
		zap.String("queue", cfg.Queue.Backend),
	)

	clock := system.New()
	idGen := uuid.NewGenerator()
	hasher := sha256.New()

	jobs, err := setupJobStore(ctx, app)
	if err != nil {
		return nil, err
	}
	articles, err := setupArticleStore(ctx, app)
	if err != nil {
		return nil, err
	}
	blobs, err := setupBlobStore(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	if err := setupQueue(ctx, app); err != nil {
		return nil, err
	}
	emitter, err := setupProgress(ctx, app)
	if err != nil {
		return nil, err
	}

	proxies, err := setupProxies(app, clock)
	if err != nil {
		return nil, err
	}
	fingerprints, err := loadFingerprints(app)
	if err != nil {
		return nil, err
	}
	sessions := session.New(logger.Named("session"), clock, idGen, proxies, session.Config{
		MaxSessions:   cfg.Session.MaxSessions,
		RequestBudget: cfg.Session.RequestBudget,
		Headless:      cfg.Headless.Enabled,
		Fingerprints:  fingerprints,
	})
	app.deferClose("session pool", func(context.Context) error {
		sessions.Close()
		return nil
	})

	probeUA := ""
	if len(fingerprints) > 0 {
		probeUA = fingerprints[0].UserAgent
	}
	probe := probefetcher.New(probefetcher.Config{
		UserAgent:    probeUA,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, clock)

	var rendered harvest.Fetcher
	if cfg.Headless.Enabled {
		rendered = headlessfetcher.NewChromedp(headlessfetcher.Config{
			NavigationTimeout: cfg.NavTimeout(),
			ScrollPause:       time.Duration(cfg.Headless.ScrollPauseMs) * time.Millisecond,
		}, clock)
		logger.Info("rendered tier enabled", zap.Duration("nav_timeout", cfg.NavTimeout()))
	} else {
		logger.Info("rendered tier disabled, probe only")
	}

	var pace harvest.PacePolicy
	if cfg.Politeness.Enabled {
		pace = ratelimit.New(ratelimit.Config{
			MinDelay:     cfg.MinDelay(),
			DefaultBurst: cfg.Politeness.Burst,
		})
		logger.Info("politeness pacing enabled", zap.Duration("min_delay", cfg.MinDelay()))
	} else {
		pace = simple.New()
		logger.Info("politeness pacing disabled")
	}

	discoverers := map[harvest.StrategyName]harvest.Discoverer{
		harvest.StrategySeries:   discover.NewSeries(logger.Named("series")),
		harvest.StrategyHistory:  discover.NewHistory(logger.Named("history")),
		harvest.StrategyDiscover: discover.NewDiscovery(logger.Named("discover")),
	}

	app.registry = worker.NewCancelRegistry()

	deps := worker.Deps{
		Queue:     app.queue,
		Jobs:      jobs,
		Articles:  articles,
		Blobs:     blobs,
		Publisher: publisher,
		Hasher:    hasher,
		Clock:     clock,
		Probe:     probe,
		Rendered:  rendered,
		Promoter:  detector.NewHeuristic(cfg.Headless.PromotionMinBytes, cfg.Headless.PromotionThreshold),
		Sessions:  sessions,
		Pace:      pace,
		Retry: harvest.NewExponentialRetryPolicy(
			cfg.Retry.MaxRetries,
			time.Duration(cfg.Retry.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.Retry.BackoffMaxMs)*time.Millisecond,
		),
		Extractor:   extract.New(logger.Named("extract"), clock),
		Discoverers: discoverers,
		Progress:    emitter,
		Cancels:     app.registry,
	}
	workerCfg := worker.Config{
		ContentType:       cfg.Storage.ContentType,
		BlobPrefix:        cfg.Storage.Prefix,
		Topic:             cfg.Events.Topic,
		JobTimeout:        cfg.JobTimeout(),
		FetchTimeout:      cfg.FetchTimeout(),
		CandidateWorkers:  cfg.Harvest.CandidateWorkers,
		ListingScrolls:    cfg.Headless.ScrollRounds,
		StallThreshold:    cfg.Harvest.StallExpansions,
		ExhaustionWait:    time.Duration(cfg.Proxy.ExhaustionWaitSeconds) * time.Second,
		BreakerWindow:     cfg.Harvest.BreakerWindow,
		BreakerMinSamples: cfg.Harvest.BreakerMinSamples,
		BreakerThreshold:  cfg.Harvest.BreakerFailureRate,
	}

	var workers []*worker.Worker
	for i := 0; i < cfg.Harvest.Concurrency; i++ {
		workers = append(workers, worker.New(
			deps,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers, logger.Named("dispatcher"))

	app.apiServer = api.NewServer(
		jobs,
		app.dispatch,
		app.registry,
		api.NewProgressHandler(app.progressRepo, logger.Named("progress_api")),
		idGen,
		clock,
		logger,
		*cfg,
	)

	return app, nil
}

// setupJobStore selects the job metadata store. The sqlite backend keeps
// job state in memory; only article rows hit the file.
func setupJobStore(ctx context.Context, app *App) (harvest.JobStore, error) {
	switch app.cfg.Database.Backend {
	case "postgres":
		jobs, err := pgstore.NewJobStore(ctx, app.cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("job store init failed: %w", err)
		}
		app.deferClose("job store", func(context.Context) error {
			jobs.Close()
			return nil
		})
		repo, err := pgstore.NewProgressStore(ctx, app.cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("progress store init failed: %w", err)
		}
		app.progressRepo = repo
		app.deferClose("progress store", func(context.Context) error {
			repo.Close()
			return nil
		})
		app.logger.Info("using postgres job store")
		return jobs, nil
	default:
		app.logger.Info("using in-memory job store")
		return memoryStorage.NewJobStore(), nil
	}
}

func setupArticleStore(ctx context.Context, app *App) (harvest.ArticleStore, error) {
	var articles harvest.ArticleStore
	switch app.cfg.Database.Backend {
	case "postgres":
		pgArticles, err := pgstore.NewArticleStore(ctx, pgstore.ArticleStoreConfig{
			DSN:             app.cfg.Database.DSN,
			MaxConns:        app.cfg.Database.MaxConns,
			MinConns:        app.cfg.Database.MinConns,
			MaxConnLifetime: time.Duration(app.cfg.Database.MaxConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("article store init failed: %w", err)
		}
		articles = pgArticles
		app.logger.Info("using postgres article store")
	case "sqlite":
		sqlArticles, err := sqlitestore.NewArticleStore(app.cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("article store init failed: %w", err)
		}
		articles = sqlArticles
		app.logger.Info("using sqlite article store", zap.String("path", app.cfg.Database.Path))
	default:
		articles = memoryStorage.NewArticleStore()
		app.logger.Info("using in-memory article store")
	}

	if app.cfg.Redis.Enabled {
		cache, err := redisstore.NewArticleCache(redisstore.Config{
			Addr:     app.cfg.Redis.Addr,
			Password: app.cfg.Redis.Password,
			DB:       app.cfg.Redis.DB,
			TTL:      time.Duration(app.cfg.Redis.TTLHours) * time.Hour,
		}, articles, app.logger.Named("seen_cache"))
		if err != nil {
			return nil, fmt.Errorf("seen cache init failed: %w", err)
		}
		articles = cache
		app.logger.Info("redis seen cache enabled", zap.String("addr", app.cfg.Redis.Addr))
	}

	// The cache's Close chains to the wrapped store, so one step covers both.
	app.deferClose("article store", func(context.Context) error {
		return articles.Close()
	})
	return articles, nil
}

func setupBlobStore(ctx context.Context, app *App) (harvest.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.deferClose("gcs client", func(context.Context) error {
			return client.Close()
		})
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS blob store", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local blob store", zap.String("base_dir", app.cfg.Storage.BaseDir))
		return blobs, nil
	default:
		app.logger.Info("using in-memory blob store")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (harvest.Publisher, error) {
	switch app.cfg.Events.Backend {
	case "pubsub":
		pub, err := gcppublisher.New(ctx, app.cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.deferClose("pubsub publisher", func(context.Context) error {
			return pub.Close()
		})
		app.logger.Info("using pubsub event publisher",
			zap.String("project", app.cfg.Events.ProjectID),
			zap.String("topic", app.cfg.Events.Topic),
		)
		return pub, nil
	case "kafka":
		pub, err := kafkapublisher.New(app.cfg.Events.Brokers)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		app.deferClose("kafka publisher", func(context.Context) error {
			return pub.Close()
		})
		app.logger.Info("using kafka event publisher",
			zap.Strings("brokers", app.cfg.Events.Brokers),
			zap.String("topic", app.cfg.Events.Topic),
		)
		return pub, nil
	default:
		app.logger.Info("using in-memory event publisher")
		return memorypublisher.New(), nil
	}
}

func setupQueue(ctx context.Context, app *App) error {
	switch app.cfg.Queue.Backend {
	case "pubsub":
		q, err := queuePubsub.NewQueue(
			ctx,
			app.cfg.Queue.ProjectID,
			app.cfg.Queue.Topic,
			app.cfg.Queue.Subscription,
			app.logger.Named("queue"),
		)
		if err != nil {
			return fmt.Errorf("pubsub queue init failed: %w", err)
		}
		app.queue = q
		app.deferClose("job queue", func(context.Context) error {
			return q.Close()
		})
		app.logger.Info("using pubsub job queue",
			zap.String("topic", app.cfg.Queue.Topic),
			zap.String("subscription", app.cfg.Queue.Subscription),
		)
	default:
		q := queueMemory.NewQueue(app.cfg.Harvest.QueueDepth)
		app.queue = q
		app.deferClose("job queue", func(context.Context) error {
			q.Close()
			return nil
		})
		app.logger.Info("using in-memory job queue", zap.Int("depth", app.cfg.Harvest.QueueDepth))
	}
	return nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if app.progressRepo != nil {
		sinkList = append(
			sinkList,
			progresssinks.NewStoreSink(app.progressRepo, app.logger.Named("progress_store")),
		)
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(
			sinkList,
			progresssinks.NewLogSink(app.logger.Named("progress_log")),
		)
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	hubCfg := progress.Config{
		BufferSize:    app.cfg.Progress.BufferSize,
		BatchSize:     app.cfg.Progress.MaxBatch,
		FlushInterval: time.Duration(app.cfg.Progress.MaxBatchMs) * time.Millisecond,
		SinkTimeout:   time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:   ctx,
		Logger:        app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.deferClose("progress hub", func(closeCtx context.Context) error {
		return app.progressHub.Close(closeCtx)
	})
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("batch_size", hubCfg.BatchSize),
		zap.Int("sinks", len(sinkList)),
	)
	return app.progressHub, nil
}

// setupProxies loads the proxy list. An empty or missing list runs direct
// with a single network identity.
func setupProxies(app *App, clock harvest.Clock) (harvest.ProxyPool, error) {
	if app.cfg.Proxy.File == "" {
		app.logger.Info("no proxy file configured, running direct")
		return nil, nil
	}
	records, err := proxy.LoadFile(app.cfg.Proxy.File)
	if err != nil {
		return nil, fmt.Errorf("proxy list load failed: %w", err)
	}
	if len(records) == 0 {
		app.logger.Info("proxy file is empty, running direct", zap.String("file", app.cfg.Proxy.File))
		return nil, nil
	}
	pool := proxy.New(app.logger.Named("proxy"), clock, proxy.Config{
		MaxFailures:  app.cfg.Proxy.MaxFailures,
		Cooldown:     time.Duration(app.cfg.Proxy.CooldownSeconds) * time.Second,
		ProbeURL:     app.cfg.Proxy.ProbeURL,
		ProbeTimeout: time.Duration(app.cfg.Proxy.ProbeTimeoutSeconds) * time.Second,
	}, records)
	app.deferClose("proxy pool", func(context.Context) error {
		pool.Close()
		return nil
	})
	app.logger.Info("proxy pool initialized", zap.Int("proxies", len(records)))
	return pool, nil
}

func loadFingerprints(app *App) ([]harvest.FingerprintProfile, error) {
	if app.cfg.Session.FingerprintsFile == "" {
		return session.DefaultFingerprints(), nil
	}
	fps, err := session.LoadFingerprints(app.cfg.Session.FingerprintsFile)
	if err != nil {
		return nil, fmt.Errorf("fingerprint load failed: %w", err)
	}
	app.logger.Info("loaded fingerprint profiles",
		zap.String("file", app.cfg.Session.FingerprintsFile),
		zap.Int("profiles", len(fps)),
	)
	return fps, nil
}
