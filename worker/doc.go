// Package worker implements the dispatch loop that turns submitted task
// requests into executor runs and guarantees exactly one terminal result
// publication per consumed task.
//
// Per consumed message the dispatcher moves through
// received → routing → executing → publishing, and the publishing step always
// happens: unknown agent types fail immediately, executor errors become
// Failed results with sanitized messages, timeouts and shutdown become
// Cancelled results. A received task is never silently dropped. What the
// dispatcher cannot protect against is a worker process crash mid-execution;
// the pub/sub fabric keeps no queue, so such tasks are lost and the
// submitter's wait simply times out.
package worker
