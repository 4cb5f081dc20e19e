package core

import (
	"context"
	"encoding/json"
)

// ProgressFunc receives best-effort progress messages emitted by an executor
// while a task runs. Implementations must be cheap and non-blocking; delivery
// to remote subscribers is not guaranteed.
type ProgressFunc func(message string)

// Executor is the pluggable capability that performs a task's actual work.
// One executor is registered per agent-type tag ahead of time. Executors must
// return structured data, never free text requiring reparsing, so the result
// contract stays typed and testable.
//
// Execute must honor ctx: on cancellation or deadline it should return
// promptly with ctx.Err() (or an error wrapping it). onProgress may be called
// zero or more times during execution and must not be called after Execute
// returns.
type Executor interface {
	Execute(ctx context.Context, prompt string, onProgress ProgressFunc) (json.RawMessage, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, prompt string, onProgress ProgressFunc) (json.RawMessage, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, prompt string, onProgress ProgressFunc) (json.RawMessage, error) {
	return f(ctx, prompt, onProgress)
}
