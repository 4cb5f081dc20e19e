package core

import "context"

// ResultFunc receives the single terminal result for a subscribed task.
type ResultFunc func(result TaskResult)

// Broker is the shared abstraction both the submitter facade and the worker
// dispatcher use to talk to the transport and the result store.
//
// A concrete implementation is responsible for:
//   - Fire-and-forget publication of requests on the fixed task topic
//   - Per-task result and progress subscriptions (topic derived from TaskID)
//   - Overflow indirection: large result payloads travel through the
//     ResultStore, only a lightweight reference crosses the pub/sub fabric,
//     and subscribers observe the dereferenced payload transparently
//
// Implementations SHOULD:
//   - Establish subscriptions synchronously so a publish after Subscribe*
//     returns is never missed
//   - Deliver each result callback at most once, then release the
//     subscription
//   - Surface transport unavailability synchronously from Submit and
//     PublishResult; retry policy belongs to the transport client, not here
type Broker interface {
	// Submit publishes the request on the task-submission topic. It never
	// blocks waiting for a worker to pick the task up.
	Submit(ctx context.Context, request TaskRequest) error

	// SubscribeToTasks opens the worker-side consumption stream of submitted
	// requests. Malformed messages are dropped, not surfaced.
	SubscribeToTasks(ctx context.Context) (<-chan TaskRequest, error)

	// SubscribeToResult listens on the task's result topic and invokes
	// onResult at most once with the dereferenced terminal result, then
	// unsubscribes. The listener runs until fulfilled or ctx is cancelled.
	SubscribeToResult(ctx context.Context, taskID string, onResult ResultFunc) error

	// SubscribeToProgress listens on the task's progress topic and invokes
	// onProgress for every delivered message until ctx is cancelled.
	// Delivery is best-effort; callers must not assume any message arrives.
	SubscribeToProgress(ctx context.Context, taskID string, onProgress func(TaskProgress)) error

	// PublishResult publishes a terminal result, writing oversized payloads
	// through the ResultStore first. Called only by the worker dispatcher,
	// exactly once per task.
	PublishResult(ctx context.Context, result TaskResult) error

	// PublishProgress publishes a best-effort progress update.
	PublishProgress(ctx context.Context, progress TaskProgress) error

	// GetResult polls the result store for a task's overflow payload. It
	// serves late subscribers within the TTL window; inline results that
	// were missed at publish time are not retrievable this way and nil is
	// returned.
	GetResult(ctx context.Context, taskID string) (*TaskResult, error)
}
