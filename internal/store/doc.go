// Package store declares the persistence seams the progress pipeline writes
// through: job runs and per-account harvest tallies. Concrete repositories
// live under internal/storage; this package stays free of database drivers.
package store
