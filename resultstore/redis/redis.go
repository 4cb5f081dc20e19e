// Package redis provides a Redis backed core.ResultStore. Payloads are stored
// with SET and a native TTL, so expiry is enforced server-side and overflow
// results survive submitter restarts within the TTL window.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/taskmesh/resultstore"
)

// Options configure the Redis result store.
type Options struct {
	// KeyPrefix namespaces store keys to avoid collisions with other users
	// of the same Redis database.
	KeyPrefix string
}

// Store is a core.ResultStore backed by a Redis string keyspace.
type Store struct {
	client *redis.Client
	opts   Options
}

// New creates a Store from an existing Redis client. The client's lifecycle
// remains the caller's responsibility.
func New(client *redis.Client, optFns ...func(o *Options)) *Store {
	opts := Options{KeyPrefix: "agents:store:"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{client: client, opts: opts}
}

// Put stores the payload under the task's key with the given TTL and returns
// the task ID as the dereferenceable reference.
func (s *Store) Put(ctx context.Context, taskID string, payload []byte, ttl time.Duration) (string, error) {
	if err := s.client.Set(ctx, s.opts.KeyPrefix+taskID, payload, ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set: %w", err)
	}
	return taskID, nil
}

// Get resolves a reference, mapping a Redis miss to resultstore.ErrNotFound.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.opts.KeyPrefix+ref).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, resultstore.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}
