// Package scheduler runs batch evaluation of unprocessed events on a cron
// schedule. Each tick evaluates a bounded slice of the backlog against the
// current policy set.
package scheduler
