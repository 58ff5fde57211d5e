package worker

import (
	"context"
	"sync"
)

// CancelRegistry tracks the cancel function of every running job so an
// operator cancel can reach into a worker mid-run. It distinguishes an
// operator cancel from a shutdown so the final job status comes out right.
type CancelRegistry struct {
	mu        sync.Mutex
	active    map[string]context.CancelFunc
	cancelled map[string]struct{}
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{
		active:    make(map[string]context.CancelFunc),
		cancelled: make(map[string]struct{}),
	}
}

// Cancel aborts the named job if it is currently running and reports
// whether a running job was found.
func (r *CancelRegistry) Cancel(jobID string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	cancel, ok := r.active[jobID]
	if ok {
		r.cancelled[jobID] = struct{}{}
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether the named job is registered.
func (r *CancelRegistry) Running(jobID string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[jobID]
	return ok
}

func (r *CancelRegistry) register(jobID string, cancel context.CancelFunc) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.active[jobID] = cancel
	r.mu.Unlock()
}

// unregister removes the job and reports whether an operator cancelled it
// while it ran.
func (r *CancelRegistry) unregister(jobID string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, jobID)
	_, wasCancelled := r.cancelled[jobID]
	delete(r.cancelled, jobID)
	return wasCancelled
}
