package submitter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// ErrClosed is returned by SubmitTask after the service was closed.
var ErrClosed = fmt.Errorf("task service closed")

// Options holds dependency overrides passed to New().
type Options struct {
	// Logger defaults to NoOp if nil.
	Logger logging.Logger
}

// SubmitOptions configure a single task submission.
type SubmitOptions struct {
	// OutputPath is a pass-through hint for where the caller wants a
	// persisted copy of the result written. The core never interprets it.
	OutputPath string
}

// WithOutputPath sets the pass-through output path hint on a submission.
func WithOutputPath(path string) func(o *SubmitOptions) {
	return func(o *SubmitOptions) { o.OutputPath = path }
}

// pendingEntry is one correlation-table slot: a completion handle plus the
// cancel function of its background result subscription. result is assigned
// under the service mutex before done is closed, so a waiter that observed
// the close may read it without further synchronization.
type pendingEntry struct {
	done   chan struct{}
	result *core.TaskResult
	cancel context.CancelFunc
}

// Service is the submitter-side facade over the broker. It owns the
// correlation table and exposes synchronous-feeling await semantics on top of
// the asynchronous result notifications. All methods are safe for concurrent
// use.
type Service struct {
	broker core.Broker
	logger logging.Logger

	mu        sync.RWMutex
	pending   map[string]*pendingEntry
	completed map[string]core.TaskResult
	closed    bool
}

// New constructs a Service with optional overrides.
func New(broker core.Broker, optFns ...func(o *Options)) *Service {
	opts := Options{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Service{
		broker:    broker,
		logger:    opts.Logger,
		pending:   make(map[string]*pendingEntry),
		completed: make(map[string]core.TaskResult),
	}
}

// SubmitTask generates a fresh TaskID, registers the correlation entry,
// starts the background result subscription and only then publishes the
// request, so the terminal result can never race past an unready listener.
// It returns immediately with the TaskID; the work proceeds remotely.
func (s *Service) SubmitTask(ctx context.Context, agentType, prompt string, optFns ...func(o *SubmitOptions)) (string, error) {
	subOpts := SubmitOptions{}
	for _, fn := range optFns {
		fn(&subOpts)
	}

	request := core.NewTaskRequest(agentType, prompt)
	request.OutputPath = subOpts.OutputPath

	// The subscription outlives the submit call; it is bound to the entry,
	// not to the caller's ctx.
	subCtx, cancel := context.WithCancel(context.Background())
	entry := &pendingEntry{done: make(chan struct{}), cancel: cancel}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	s.pending[request.TaskID] = entry
	s.mu.Unlock()

	if err := s.broker.SubscribeToResult(subCtx, request.TaskID, s.resolve); err != nil {
		s.discard(request.TaskID)
		return "", fmt.Errorf("subscribe before submit: %w", err)
	}

	if err := s.broker.Submit(ctx, request); err != nil {
		s.discard(request.TaskID)
		return "", fmt.Errorf("submit task: %w", err)
	}

	s.logger.Debug("task submitted", "task_id", request.TaskID, "agent_type", request.AgentType)
	return request.TaskID, nil
}

// WaitForResult blocks until the task's terminal result arrives, the local
// timeout elapses or ctx is cancelled. On timeout it returns (nil, nil); the
// remote task keeps running and a later call can still pick up the result.
// For a TaskID this service never submitted it falls back to the broker's
// overflow-store polling path before giving up.
func (s *Service) WaitForResult(ctx context.Context, taskID string, timeout time.Duration) (*core.TaskResult, error) {
	s.mu.RLock()
	if result, ok := s.completed[taskID]; ok {
		s.mu.RUnlock()
		return &result, nil
	}
	entry, ok := s.pending[taskID]
	s.mu.RUnlock()

	if !ok {
		// Not ours, or already forgotten: the overflow store is the only
		// place the result could still live.
		result, err := s.broker.GetResult(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, fmt.Errorf("unknown task %s", taskID)
		}
		s.remember(*result)
		return result, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case <-entry.done:
		return entry.result, nil
	}
}

// GetResult is the non-blocking lookup in the completed set only.
func (s *Service) GetResult(taskID string) *core.TaskResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if result, ok := s.completed[taskID]; ok {
		return &result
	}
	return nil
}

// PendingTaskIDs returns a snapshot of tasks still awaiting their result.
func (s *Service) PendingTaskIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	return ids
}

// CompletedTasks returns a snapshot of all resolved terminal results.
func (s *Service) CompletedTasks() []core.TaskResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]core.TaskResult, 0, len(s.completed))
	for _, result := range s.completed {
		results = append(results, result)
	}
	return results
}

// WatchProgress forwards the task's best-effort progress messages to fn until
// ctx is cancelled.
func (s *Service) WatchProgress(ctx context.Context, taskID string, fn func(core.TaskProgress)) error {
	return s.broker.SubscribeToProgress(ctx, taskID, fn)
}

// Close cancels all outstanding result subscriptions and resolves any
// still-pending entries as Cancelled from this caller's point of view. It
// does not cancel the remote tasks; there is no cancellation propagation to
// workers.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for taskID, entry := range s.pending {
		entry.cancel()
		result := core.NewCancelledResult(taskID)
		entry.result = &result
		s.completed[taskID] = result
		close(entry.done)
		delete(s.pending, taskID)
	}
	return nil
}

// resolve is the background subscription callback. Resolution is idempotent:
// an entry already removed (second delivery, or disposal) is ignored.
func (s *Service) resolve(result core.TaskResult) {
	s.mu.Lock()
	entry, ok := s.pending[result.TaskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, result.TaskID)
	s.completed[result.TaskID] = result
	entry.result = &result
	s.mu.Unlock()

	entry.cancel()
	close(entry.done)
	s.logger.Debug("task resolved", "task_id", result.TaskID, "status", result.Status)
}

// remember caches a result fetched through the polling path so later
// GetResult calls see it.
func (s *Service) remember(result core.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.completed[result.TaskID]; !ok {
		s.completed[result.TaskID] = result
	}
}

// discard rolls back a submission that failed before the task went out.
func (s *Service) discard(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.pending[taskID]; ok {
		entry.cancel()
		delete(s.pending, taskID)
	}
}
