package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mpharvester/internal/store"
)

const (
	defaultAccountsLimit = 100
	maxAccountsLimit     = 1000
	progressTimeout      = 3 * time.Second
)

// ProgressHandler exposes the read-only job stats endpoint backed by the
// run/progress persistence.
type ProgressHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger. A nil repository is
// allowed; every request then answers 503.
func NewProgressHandler(repo store.ProgressRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// JobStats handles GET /v1/jobs/{job_id}/stats?limit=&offset=. It returns
// {"run": {...}, "accounts": [...]} on success, 400 for malformed IDs or
// paging parameters, 404 when no run is recorded for the job, 503 when the
// repository is not configured, or 500 for repository errors.
func (h *ProgressHandler) JobStats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultAccountsLimit, maxAccountsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no run recorded for job")
			return
		}
		h.logger.Error("load job run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job run")
		return
	}
	accounts, err := h.repo.ListJobAccounts(ctx, jobID, limit, offset)
	if err != nil {
		h.logger.Error("list job accounts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list job accounts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":      toRunDTO(run),
		"accounts": toAccountDTOs(accounts),
	})
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	jobIDStr := chi.URLParam(r, "job_id")
	if jobIDStr == "" {
		return uuid.UUID{}, errors.New("job_id is required")
	}
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid job_id")
	}
	return jobID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toRunDTO(run store.JobRun) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		JobID:      run.JobID.String(),
		Strategy:   run.Strategy,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
	}
}

func toAccountDTOs(in []store.AccountStats) []accountDTO {
	out := make([]accountDTO, 0, len(in))
	for _, a := range in {
		out = append(out, accountDTO{
			Account:    a.Account,
			LastUpdate: a.LastUpdate,
			Stored:     a.Stored,
			Duplicates: a.Duplicates,
			Failed:     a.Failed,
			BytesTotal: a.BytesTotal,
		})
	}
	return out
}

type runDTO struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	Strategy   string     `json:"strategy"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
}

type accountDTO struct {
	Account    string    `json:"account"`
	LastUpdate time.Time `json:"last_update"`
	Stored     int64     `json:"stored"`
	Duplicates int64     `json:"duplicates"`
	Failed     int64     `json:"failed"`
	BytesTotal int64     `json:"bytes_total"`
}
