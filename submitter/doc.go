// Package submitter provides the per-process facade a UI or business-logic
// layer uses to hand tasks to background workers and later learn the outcome.
//
// The Service keeps a correlation table mapping each submitted TaskID to a
// pending completion handle. A background result subscription, established
// before the task is published, resolves the handle exactly once when the
// matching terminal result arrives. WaitForResult then behaves like a
// synchronous call with a local timeout: the remote task keeps running even
// when a particular wait gives up.
package submitter
