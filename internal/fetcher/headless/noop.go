package headless

import (
	"context"

	"mpharvester/internal/harvest"
)

// Noop stands in for the rendered tier when it is disabled. Fetches that
// reach it fail permanently: retrying cannot render the page.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with a permanent error.
func (Noop) Fetch(_ context.Context, req harvest.FetchRequest) (harvest.Page, error) {
	return harvest.Page{}, harvest.Permanentf("rendered tier disabled, cannot fetch %s", req.URL)
}
