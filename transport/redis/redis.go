// Package redis provides a Redis PUBLISH/SUBSCRIBE backed core.Transport so
// submitters and workers in different processes share one notification
// fabric. Reconnect and retry behavior is delegated to the go-redis client
// configuration supplied by the caller.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/taskmesh/core"
)

// subscriberBuffer is the per-subscription channel capacity. A subscriber
// that stops draining loses messages instead of wedging the pump goroutine.
const subscriberBuffer = 64

// Transport is a core.Transport backed by Redis pub/sub channels. Topic names
// map one-to-one onto Redis channel names.
type Transport struct {
	client *redis.Client
}

// New creates a Transport from an existing Redis client. The client's
// lifecycle remains the caller's responsibility.
func New(client *redis.Client) *Transport {
	return &Transport{client: client}
}

// Publish sends the payload on the Redis channel named after the topic. Redis
// pub/sub is fire-and-forget: with no subscriber the message is dropped and
// Publish still succeeds.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe opens a Redis subscription on the topic. go-redis confirms the
// SUBSCRIBE command before the first Receive returns, so the subscription is
// established when Subscribe returns and a later publish is not missed.
func (t *Transport) Subscribe(ctx context.Context, topic string) (core.Subscription, error) {
	pubsub := t.client.Subscribe(ctx, topic)

	// Force the subscription round-trip so callers can rely on
	// publish-after-subscribe delivery.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &subscription{
		pubsub: pubsub,
		out:    make(chan core.Message, subscriberBuffer),
	}
	go sub.pump(topic)
	return sub, nil
}

type subscription struct {
	pubsub    *redis.PubSub
	out       chan core.Message
	closeOnce sync.Once
}

// Messages returns the delivery channel. It closes when the subscription is
// closed or the underlying connection terminates.
func (s *subscription) Messages() <-chan core.Message { return s.out }

// Close terminates the Redis subscription; the pump goroutine then drains out
// and closes the delivery channel.
func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.pubsub.Close() })
	return err
}

func (s *subscription) pump(topic string) {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		select {
		case s.out <- core.Message{Topic: topic, Payload: []byte(msg.Payload)}:
		default:
			// subscriber buffer full, message dropped
		}
	}
}
