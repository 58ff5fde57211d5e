// Package simple contains a pass-through pacing policy for tests and for
// deployments that disable politeness pacing.
package simple

import "context"

// Policy waits for nothing.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait returns immediately.
func (Policy) Wait(_ context.Context, _ string) error {
	return nil
}
