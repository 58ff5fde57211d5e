// Package harvest defines the domain types, error taxonomy, and collaborator
// interfaces shared across the harvester: jobs and candidates, article
// records, session and proxy state, retry/backoff and politeness policies,
// the failure-window circuit breaker, and soft-block detection.
package harvest
