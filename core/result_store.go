package core

import (
	"context"
	"time"
)

// ResultStore is durable key/value storage for overflow result payloads.
// Implementations must be safe for concurrent Put from many workers and
// concurrent Get from many submitters. Each key is written at most once by
// contract (single terminal result per task), so last-writer-wins semantics
// are acceptable.
type ResultStore interface {
	// Put stores the payload under the task's key with a bounded TTL and
	// returns the opaque reference a subscriber can later dereference.
	Put(ctx context.Context, taskID string, payload []byte, ttl time.Duration) (string, error)

	// Get resolves a reference produced by Put. After TTL expiry, or if no
	// overflow ever occurred for the task, it returns ErrNotFound wrapped by
	// the implementation; callers treat that as a normal outcome.
	Get(ctx context.Context, ref string) ([]byte, error)
}
