package core

import "context"

// Message is one opaque payload delivered on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is a live listener on a single topic. Messages delivered while
// nobody drains the channel may be dropped; the fabric is fire-and-forget
// pub/sub, not a durable log.
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription ends, either via Close or transport shutdown.
	Messages() <-chan Message

	// Close terminates the subscription and releases its resources. Closing
	// an already closed subscription is a no-op.
	Close() error
}

// Transport is the publish/subscribe fabric connecting submitters and
// workers. Implementations must be safe for concurrent use. A publish with no
// active subscribers succeeds and the message is lost, which is the expected
// pub/sub behavior the rest of the system is designed around.
type Transport interface {
	// Publish sends a payload to every current subscriber of the topic.
	// It never blocks waiting for a consumer.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe opens a listener on the topic. The subscription is active
	// before Subscribe returns, so a publish that happens afterwards is
	// never missed.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}
