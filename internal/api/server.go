// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mpharvester/internal/config"
	"mpharvester/internal/dispatcher"
	"mpharvester/internal/harvest"
	"mpharvester/internal/telemetry"
)

const (
	requestTimeout = 60 * time.Second
	enqueueTimeout = 5 * time.Second
)

// JobCanceller aborts a running job and reports whether one was found.
// Implemented by worker.CancelRegistry.
type JobCanceller interface {
	Cancel(jobID string) bool
}

// Server wires HTTP handlers to the job store, dispatcher, and cancel
// registry.
type Server struct {
	router   chi.Router
	jobs     harvest.JobStore
	disp     *dispatcher.Dispatcher
	cancels  JobCanceller
	progress *ProgressHandler
	idGen    harvest.IDGenerator
	clock    harvest.Clock
	logger   *zap.Logger
	cfg      config.Config
}

// NewServer constructs a Server with middleware and routes. The progress
// handler may be nil when run persistence is disabled; the stats endpoint
// then answers 503.
func NewServer(
	jobs harvest.JobStore,
	disp *dispatcher.Dispatcher,
	cancels JobCanceller,
	progress *ProgressHandler,
	idGen harvest.IDGenerator,
	clock harvest.Clock,
	logger *zap.Logger,
	cfg config.Config,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if progress == nil {
		progress = NewProgressHandler(nil, logger)
	}
	s := &Server{
		jobs:     jobs,
		disp:     disp,
		cancels:  cancels,
		progress: progress,
		idGen:    idGen,
		clock:    clock,
		logger:   logger.Named("api"),
		cfg:      cfg,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Use(timeoutMiddleware(requestTimeout))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.cancelJob)
				r.Get("/stats", s.progress.JobStats)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	SeedURL     string     `json:"seed_url"`
	Strategy    string     `json:"strategy"`
	MaxArticles *int       `json:"max_articles"`
	MaxDepth    *int       `json:"max_depth"`
	TimeFloor   *time.Time `json:"time_floor"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.logger.Error("job submission failed", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(harvest.JobStatusQueued),
	})
}

func (s *Server) toJobParameters(req submitJobRequest) (harvest.JobParameters, error) {
	seed := strings.TrimSpace(req.SeedURL)
	if seed == "" {
		return harvest.JobParameters{}, errors.New("seed_url is required")
	}
	u, err := url.Parse(seed)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return harvest.JobParameters{}, errors.New("seed_url must be an absolute http(s) URL")
	}
	strategy, ok := harvest.ParseStrategy(req.Strategy)
	if !ok {
		return harvest.JobParameters{}, fmt.Errorf("strategy must be one of %s, %s, %s",
			harvest.StrategySeries, harvest.StrategyHistory, harvest.StrategyDiscover)
	}
	maxArticles := valueOrDefault(req.MaxArticles, s.cfg.Harvest.MaxArticlesDefault)
	if maxArticles < 0 {
		return harvest.JobParameters{}, errors.New("max_articles must not be negative")
	}
	maxDepth := valueOrDefault(req.MaxDepth, s.cfg.Harvest.MaxDepthDefault)
	if maxDepth < 0 {
		return harvest.JobParameters{}, errors.New("max_depth must not be negative")
	}
	return harvest.JobParameters{
		SeedURL:     seed,
		Strategy:    strategy,
		MaxArticles: maxArticles,
		MaxDepth:    maxDepth,
		TimeFloor:   req.TimeFloor,
	}, nil
}

func (s *Server) enqueueJob(ctx context.Context, params harvest.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := harvest.Job{
		ID:         jobID,
		Status:     harvest.JobStatusQueued,
		Parameters: params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := harvest.QueueItem{
		JobID:     jobID,
		Params:    params,
		Submitted: now.Unix(),
	}
	if err := s.disp.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var status harvest.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, ok := parseJobStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		status = parsed
	}
	jobs, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if status != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if job.Status == status {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}
	if jobs == nil {
		jobs = []harvest.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, harvest.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// cancelJob stops a running job through the cancel registry; a job that is
// still queued is flipped straight to cancelled so the worker skips it at
// dequeue.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if s.cancels != nil && s.cancels.Cancel(jobID) {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": jobID,
			"status": string(harvest.JobStatusCancelled),
		})
		return
	}
	err := s.jobs.UpdateJobStatus(r.Context(), jobID, harvest.JobStatusCancelled, "cancelled by operator")
	switch {
	case errors.Is(err, harvest.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, harvest.ErrJobTerminal):
		writeError(w, http.StatusConflict, "job already finished")
	case err != nil:
		s.logger.Error("cancel job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id": jobID,
			"status": string(harvest.JobStatusCancelled),
		})
	}
}

func parseJobStatus(raw string) (harvest.JobStatus, bool) {
	switch harvest.JobStatus(strings.ToLower(raw)) {
	case harvest.JobStatusQueued, harvest.JobStatusRunning, harvest.JobStatusCompleted,
		harvest.JobStatusFailed, harvest.JobStatusCancelled:
		return harvest.JobStatus(strings.ToLower(raw)), true
	default:
		return "", false
	}
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			ww.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
