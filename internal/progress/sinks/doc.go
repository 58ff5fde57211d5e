// Package sinks holds the progress consumers shipped with the harvester:
// structured logging of milestones, Prometheus counters and histograms, and
// the repository sink that persists per-run and per-account harvest tallies.
package sinks
