package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/resultstore"
)

// Options configure a Broker instance.
type Options struct {
	// OverflowThreshold is the serialized Data size in bytes above which a
	// result payload travels through the result store instead of inline.
	// Pub/sub transports have hard per-message size limits, and the store is
	// the only durable leg of the system, so the threshold also bounds what
	// a late subscriber can still retrieve.
	OverflowThreshold int

	// OverflowTTL bounds how long an overflow payload stays retrievable.
	OverflowTTL time.Duration

	// TaskBufferSize sets the channel buffer for the worker-side task
	// consumption stream.
	TaskBufferSize int

	// Logger defaults to NoOp if nil.
	Logger logging.Logger
}

// Broker implements core.Broker over a pub/sub transport and a result store.
// All methods are safe for concurrent use.
type Broker struct {
	transport core.Transport
	store     core.ResultStore

	overflowThreshold int
	overflowTTL       time.Duration
	taskBufferSize    int
	logger            logging.Logger
}

// New constructs a Broker with optional overrides.
func New(transport core.Transport, store core.ResultStore, optFns ...func(o *Options)) *Broker {
	opts := Options{
		OverflowThreshold: 64 * 1024,
		OverflowTTL:       6 * time.Hour,
		TaskBufferSize:    16,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Broker{
		transport:         transport,
		store:             store,
		overflowThreshold: opts.OverflowThreshold,
		overflowTTL:       opts.OverflowTTL,
		taskBufferSize:    opts.TaskBufferSize,
		logger:            opts.Logger,
	}
}

// Submit publishes the request on the task-submission topic. Fire-and-forget:
// it returns as soon as the transport accepts the message and never waits for
// a worker.
func (b *Broker) Submit(ctx context.Context, request core.TaskRequest) error {
	if request.TaskID == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if request.AgentType == "" {
		return fmt.Errorf("agent type must not be empty")
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal task request: %w", err)
	}
	if err := b.transport.Publish(ctx, core.TaskTopic, payload); err != nil {
		return fmt.Errorf("submit task %s: %w", request.TaskID, err)
	}

	b.logger.Debug("task submitted", "task_id", request.TaskID, "agent_type", request.AgentType)
	return nil
}

// SubscribeToTasks opens the worker-side stream of submitted requests. The
// returned channel closes when ctx is cancelled or the transport shuts down.
// Messages that fail to decode are logged and dropped.
func (b *Broker) SubscribeToTasks(ctx context.Context) (<-chan core.TaskRequest, error) {
	sub, err := b.transport.Subscribe(ctx, core.TaskTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to tasks: %w", err)
	}

	out := make(chan core.TaskRequest, b.taskBufferSize)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				var req core.TaskRequest
				if err := json.Unmarshal(msg.Payload, &req); err != nil {
					b.logger.Warn("dropping malformed task request", "error", err)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- req:
				}
			}
		}
	}()
	return out, nil
}

// SubscribeToResult listens on the task's result topic, invokes onResult at
// most once with the dereferenced terminal result and then unsubscribes. The
// subscription is established before SubscribeToResult returns, so a result
// published afterwards is never missed.
func (b *Broker) SubscribeToResult(ctx context.Context, taskID string, onResult core.ResultFunc) error {
	sub, err := b.transport.Subscribe(ctx, core.ResultTopic(taskID))
	if err != nil {
		return fmt.Errorf("subscribe to result %s: %w", taskID, err)
	}

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				var result core.TaskResult
				if err := json.Unmarshal(msg.Payload, &result); err != nil {
					b.logger.Warn("dropping malformed task result", "task_id", taskID, "error", err)
					continue
				}
				onResult(b.dereference(ctx, result))
				return
			}
		}
	}()
	return nil
}

// SubscribeToProgress listens on the task's progress topic and forwards every
// delivered message until ctx is cancelled. Best-effort: callers must not
// assume any particular message arrives.
func (b *Broker) SubscribeToProgress(ctx context.Context, taskID string, onProgress func(core.TaskProgress)) error {
	sub, err := b.transport.Subscribe(ctx, core.ProgressTopic(taskID))
	if err != nil {
		return fmt.Errorf("subscribe to progress %s: %w", taskID, err)
	}

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				var progress core.TaskProgress
				if err := json.Unmarshal(msg.Payload, &progress); err != nil {
					b.logger.Warn("dropping malformed task progress", "task_id", taskID, "error", err)
					continue
				}
				onProgress(progress)
			}
		}
	}()
	return nil
}

// PublishResult publishes a terminal result on the task's result topic. When
// the serialized Data exceeds the overflow threshold, the full result is
// written to the store first and the notification carries only the reference.
//
// Publishing a second result for the same task is a dispatcher programming
// error; the broker does not track task identity and will forward it.
func (b *Broker) PublishResult(ctx context.Context, result core.TaskResult) error {
	if !result.Status.Terminal() {
		return fmt.Errorf("refusing to publish non-terminal status %q for task %s", result.Status, result.TaskID)
	}

	notification := result
	if len(result.Data) > b.overflowThreshold {
		stored, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal overflow result %s: %w", result.TaskID, err)
		}
		ref, err := b.store.Put(ctx, result.TaskID, stored, b.overflowTTL)
		if err != nil {
			return fmt.Errorf("store overflow result %s: %w", result.TaskID, err)
		}
		notification.Data = nil
		notification.DataRef = ref
		b.logger.Debug("result payload overflowed to store",
			"task_id", result.TaskID, "bytes", len(result.Data), "ttl", b.overflowTTL)
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal task result %s: %w", result.TaskID, err)
	}
	if err := b.transport.Publish(ctx, core.ResultTopic(result.TaskID), payload); err != nil {
		return fmt.Errorf("publish result %s: %w", result.TaskID, err)
	}

	b.logger.Debug("task result published", "task_id", result.TaskID, "status", result.Status)
	return nil
}

// PublishProgress publishes a best-effort progress update.
func (b *Broker) PublishProgress(ctx context.Context, progress core.TaskProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal task progress %s: %w", progress.TaskID, err)
	}
	if err := b.transport.Publish(ctx, core.ProgressTopic(progress.TaskID), payload); err != nil {
		return fmt.Errorf("publish progress %s: %w", progress.TaskID, err)
	}
	return nil
}

// GetResult polls the result store for a task's overflow record. It returns
// (nil, nil) when nothing is stored, which covers both TTL expiry and tasks
// whose result travelled inline.
func (b *Broker) GetResult(ctx context.Context, taskID string) (*core.TaskResult, error) {
	payload, err := b.store.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, resultstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get result %s: %w", taskID, err)
	}

	var result core.TaskResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal stored result %s: %w", taskID, err)
	}
	return &result, nil
}

// dereference resolves an overflow reference back into the full result. On a
// store miss the notification is delivered as-is with the reference cleared;
// the payload is gone and pretending otherwise would hide the expiry.
func (b *Broker) dereference(ctx context.Context, result core.TaskResult) core.TaskResult {
	if result.DataRef == "" {
		return result
	}

	payload, err := b.store.Get(ctx, result.DataRef)
	if err != nil {
		b.logger.Error("failed to dereference overflow result",
			"task_id", result.TaskID, "ref", result.DataRef, "error", err)
		result.DataRef = ""
		return result
	}

	var full core.TaskResult
	if err := json.Unmarshal(payload, &full); err != nil {
		b.logger.Error("failed to decode stored overflow result",
			"task_id", result.TaskID, "error", err)
		result.DataRef = ""
		return result
	}
	full.DataRef = ""
	return full
}
