package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mpharvester/internal/store"
)

type exampleProgressRepo struct {
	run      store.JobRun
	accounts []store.AccountStats
}

func (e *exampleProgressRepo) UpsertJobStart(context.Context, uuid.UUID, string, time.Time) error {
	return nil
}

func (e *exampleProgressRepo) CompleteJob(context.Context, uuid.UUID, time.Time, store.JobRunStatus, *string) error {
	return nil
}

func (e *exampleProgressRepo) UpsertAccountStats(
	context.Context,
	uuid.UUID,
	string,
	store.AccountDelta,
	time.Time,
) error {
	return nil
}

func (e *exampleProgressRepo) GetJob(context.Context, uuid.UUID) (store.JobRun, error) {
	return e.run, nil
}

func (e *exampleProgressRepo) ListJobs(context.Context, *store.JobRunStatus, int, int) ([]store.JobRun, error) {
	return []store.JobRun{e.run}, nil
}

func (e *exampleProgressRepo) ListJobAccounts(context.Context, uuid.UUID, int, int) ([]store.AccountStats, error) {
	return e.accounts, nil
}

// ExampleProgressHandler_JobStats shows how to serve the job stats endpoint.
func ExampleProgressHandler_JobStats() {
	jobID := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	repo := &exampleProgressRepo{
		run: store.JobRun{
			ID:        jobID,
			JobID:     jobID,
			Strategy:  "history",
			Status:    store.RunCompleted,
			StartedAt: time.Unix(0, 0),
		},
		accounts: []store.AccountStats{
			{JobID: jobID, Account: "quant-digest", Stored: 12},
		},
	}
	handler := NewProgressHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID.String()+"/stats", nil)
	req = withJobIDParam(req, jobID.String())
	rec := httptest.NewRecorder()
	handler.JobStats(rec, req)

	var payload struct {
		Run      map[string]any   `json:"run"`
		Accounts []map[string]any `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("run status: %s, accounts: %d\n", payload.Run["status"], len(payload.Accounts))
	// Output:
	// run status: completed, accounts: 1
}
