// Package discover turns fetched pages into new crawl candidates. Each
// strategy mirrors one way readers reach further articles on the platform:
// album navigation for series, the account history listing, and the
// recommendation graph for open-ended discovery. Strategies only read the
// page they are given; fetching, deduplication across expansions, and
// depth limits belong to the orchestrator.
package discover
