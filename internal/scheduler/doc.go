// Package scheduler triggers named background jobs (auto-backup, table
// reposts) on cron expressions, fixed intervals or randomized intervals.
//
// Jobs run on cron's goroutines with panic recovery and overlap skipping;
// each run gets its own timeout context.
package scheduler
