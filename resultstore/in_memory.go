package resultstore

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a trivial in-process ResultStore implementation useful for
// tests, examples and single-process prototypes. It keeps payloads in a map
// guarded by an RWMutex, copies data on Put/Get to avoid accidental external
// mutation, and runs a background janitor that evicts expired entries.
//
// For production, prefer the Redis backend in the redis sub-package so late
// subscribers in other processes can dereference overflow payloads.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	done    chan struct{}
	once    sync.Once
}

type entry struct {
	payload  []byte
	expireAt time.Time // zero = no expiry
}

// NewInMemoryStore returns an empty in-memory result store with its janitor
// running. Call Close when done to stop the janitor goroutine.
func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{
		entries: make(map[string]entry),
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Put stores a copy of the payload under the task's key and returns the
// reference (the task ID itself, since the store is keyed by it).
func (s *InMemoryStore) Put(_ context.Context, taskID string, payload []byte, ttl time.Duration) (string, error) {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[taskID] = entry{payload: cp, expireAt: expireAt}
	s.mu.Unlock()

	return taskID, nil
}

// Get returns a copy of the stored payload or ErrNotFound. Expired entries
// are treated as absent even if the janitor has not evicted them yet.
func (s *InMemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[ref]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !e.expireAt.IsZero() && time.Now().After(e.expireAt) {
		return nil, ErrNotFound
	}

	cp := make([]byte, len(e.payload))
	copy(cp, e.payload)
	return cp, nil
}

// Close stops the janitor goroutine. The store remains usable afterwards but
// expired entries are then only filtered on Get.
func (s *InMemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *InMemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for k, e := range s.entries {
				if !e.expireAt.IsZero() && now.After(e.expireAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
