// Package progress carries harvest milestones from the workers to the
// operator surfaces. Workers emit one Event per job transition and per
// article outcome; the Hub batches them off the hot path and fans them out
// to the configured sinks (structured logs, Prometheus, the run repository).
package progress
