// Package broker implements core.Broker, the shared abstraction submitters
// and workers use to exchange tasks, results and progress over a pub/sub
// transport.
//
// The broker also owns the overflow pattern: a terminal result whose payload
// exceeds the configured threshold is written to the result store with a
// bounded TTL, and only a lightweight reference crosses the notification
// channel. Subscribers and the GetResult polling path dereference it
// transparently, so callers on either side never see the indirection.
package broker
