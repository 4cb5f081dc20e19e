package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

// EchoExecutor returns a core.Executor that completes immediately with
// {"echo": <prompt>}.
func EchoExecutor() core.Executor {
	return core.ExecutorFunc(func(_ context.Context, prompt string, _ core.ProgressFunc) (json.RawMessage, error) {
		return json.Marshal(map[string]string{"echo": prompt})
	})
}

// SlowExecutor returns an executor that sleeps for d before echoing, honoring
// context cancellation.
func SlowExecutor(d time.Duration) core.Executor {
	return core.ExecutorFunc(func(ctx context.Context, prompt string, _ core.ProgressFunc) (json.RawMessage, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
			return json.Marshal(map[string]string{"echo": prompt})
		}
	})
}

// FailingExecutor returns an executor that always fails with the given message.
func FailingExecutor(msg string) core.Executor {
	return core.ExecutorFunc(func(context.Context, string, core.ProgressFunc) (json.RawMessage, error) {
		return nil, fmt.Errorf("%s", msg)
	})
}

// PanickyExecutor returns an executor that panics, for exercising the
// dispatcher's recovery path.
func PanickyExecutor() core.Executor {
	return core.ExecutorFunc(func(context.Context, string, core.ProgressFunc) (json.RawMessage, error) {
		panic("boom")
	})
}

// ProgressExecutor returns an executor that emits the given progress messages
// before completing.
func ProgressExecutor(messages ...string) core.Executor {
	return core.ExecutorFunc(func(_ context.Context, prompt string, onProgress core.ProgressFunc) (json.RawMessage, error) {
		for _, m := range messages {
			if onProgress != nil {
				onProgress(m)
			}
		}
		return json.Marshal(map[string]string{"echo": prompt})
	})
}

// LargePayloadExecutor returns an executor whose result payload is at least
// size bytes after serialization, for exercising the overflow path.
func LargePayloadExecutor(size int) core.Executor {
	return core.ExecutorFunc(func(context.Context, string, core.ProgressFunc) (json.RawMessage, error) {
		buf := make([]byte, size)
		for i := range buf {
			buf[i] = 'a' + byte(i%26)
		}
		return json.Marshal(map[string]string{"blob": string(buf)})
	})
}
