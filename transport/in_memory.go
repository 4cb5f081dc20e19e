package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// defaultSubscriberBuffer is the per-subscription channel capacity. A slow
// subscriber whose buffer fills up loses messages instead of blocking the
// publisher, matching pub/sub delivery semantics.
const defaultSubscriberBuffer = 64

// InMemoryTransport is a process-local core.Transport implementation. Topics
// are created lazily on first subscribe and publishing fans out to every
// active subscription without blocking.
type InMemoryTransport struct {
	mu     sync.RWMutex
	topics map[string]map[*memSubscription]struct{}
	closed bool
}

// NewInMemoryTransport constructs an empty in-memory transport.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{topics: make(map[string]map[*memSubscription]struct{})}
}

// Publish delivers the payload to every current subscriber of the topic. The
// payload is copied once so subscribers can never observe later mutation.
func (t *InMemoryTransport) Publish(_ context.Context, topic string, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	msg := core.Message{Topic: topic, Payload: cp}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	for sub := range t.topics[topic] {
		select {
		case sub.ch <- msg:
		default:
			// subscriber buffer full, message dropped
		}
	}
	return nil
}

// Subscribe registers a listener on the topic. The subscription is active
// before Subscribe returns.
func (t *InMemoryTransport) Subscribe(_ context.Context, topic string) (core.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	sub := &memSubscription{
		transport: t,
		topic:     topic,
		ch:        make(chan core.Message, defaultSubscriberBuffer),
	}
	if t.topics[topic] == nil {
		t.topics[topic] = make(map[*memSubscription]struct{})
	}
	t.topics[topic][sub] = struct{}{}
	return sub, nil
}

// Close terminates the transport and every outstanding subscription.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for topic, subs := range t.topics {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(t.topics, topic)
	}
	return nil
}

func (t *InMemoryTransport) remove(sub *memSubscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if subs, ok := t.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(t.topics, sub.topic)
		}
	}
}

type memSubscription struct {
	transport *InMemoryTransport
	topic     string
	ch        chan core.Message
	closeOnce sync.Once
}

// Messages returns the delivery channel.
func (s *memSubscription) Messages() <-chan core.Message { return s.ch }

// Close unregisters the subscription and closes its channel.
func (s *memSubscription) Close() error {
	s.transport.remove(s)
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}

// closeLocked closes the channel without re-locking the transport; only
// called from InMemoryTransport.Close which already holds the write lock.
func (s *memSubscription) closeLocked() {
	s.closeOnce.Do(func() { close(s.ch) })
}
