package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// errExecutorPanic is the sanitized message published when an executor
// panics. The recovered value never crosses the wire.
var errExecutorPanic = errors.New("internal executor error")

// Config defines tuning parameters for the dispatcher's operational behavior.
type Config struct {
	// Concurrency limits how many tasks execute simultaneously on this
	// worker. Tasks beyond the limit wait in the transport's normal
	// delivery order. Set to 0 to use the default.
	Concurrency int

	// ExecTimeout bounds a single executor run. On expiry the task is
	// published as Cancelled.
	ExecTimeout time.Duration

	// PublishTimeout bounds the detached publish of a terminal result. The
	// publish must survive worker shutdown, so it runs on its own deadline
	// rather than the worker context.
	PublishTimeout time.Duration
}

// DefaultConfig provides conservative defaults: 4 concurrent tasks, a five
// minute execution budget and a five second publish budget.
var DefaultConfig = Config{
	Concurrency:    4,
	ExecTimeout:    5 * time.Minute,
	PublishTimeout: 5 * time.Second,
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Config contains operational parameters for the dispatcher.
	Config Config
	// Logger defaults to NoOp if nil.
	Logger logging.Logger
}

// Dispatcher consumes the task-submission topic, routes each request to the
// executor registered for its agent type and publishes exactly one terminal
// result per consumed task. Public methods are safe for concurrent use.
type Dispatcher struct {
	broker core.Broker
	config Config
	logger logging.Logger

	executors map[string]core.Executor
	mu        sync.RWMutex
}

// New constructs a Dispatcher with optional overrides.
func New(broker core.Broker, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config.Concurrency <= 0 {
		opts.Config.Concurrency = DefaultConfig.Concurrency
	}
	if opts.Config.ExecTimeout <= 0 {
		opts.Config.ExecTimeout = DefaultConfig.ExecTimeout
	}
	if opts.Config.PublishTimeout <= 0 {
		opts.Config.PublishTimeout = DefaultConfig.PublishTimeout
	}

	return &Dispatcher{
		broker:    broker,
		config:    opts.Config,
		logger:    opts.Logger,
		executors: make(map[string]core.Executor),
	}
}

// Register makes an executor available for the given agent-type tag. A later
// registration for the same tag replaces the earlier one. Complete all
// registration before calling Run.
func (d *Dispatcher) Register(agentType string, executor core.Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executors[agentType] = executor
}

// Executor retrieves a registered executor by agent type.
func (d *Dispatcher) Executor(agentType string) (core.Executor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ex, ok := d.executors[agentType]
	return ex, ok
}

// Run consumes the task-submission topic until ctx is cancelled, then waits
// for in-flight tasks to publish their terminal results. Tasks still
// executing at cancellation are published as Cancelled; Run blocks until
// those publications are done.
func (d *Dispatcher) Run(ctx context.Context) error {
	tasks, err := d.broker.SubscribeToTasks(ctx)
	if err != nil {
		return fmt.Errorf("dispatcher start: %w", err)
	}

	d.logger.Info("dispatcher running", "concurrency", d.config.Concurrency, "exec_timeout", d.config.ExecTimeout)

	sem := make(chan struct{}, d.config.Concurrency)
	var wg sync.WaitGroup

	for req := range tasks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Shutdown while waiting for a slot: the request was consumed,
			// so it still owes a terminal result.
			d.publish(core.NewCancelledResult(req.TaskID))
			continue
		}

		wg.Add(1)
		go func(req core.TaskRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			d.dispatch(ctx, req)
		}(req)
	}

	wg.Wait()
	return nil
}

// dispatch runs one consumed request through routing, execution and result
// publication. Every path ends in exactly one publish.
func (d *Dispatcher) dispatch(ctx context.Context, req core.TaskRequest) {
	start := time.Now()
	d.logger.Debug("task received", "task_id", req.TaskID, "agent_type", req.AgentType)

	executor, ok := d.Executor(req.AgentType)
	if !ok {
		d.logger.Warn("no executor registered", "task_id", req.TaskID, "agent_type", req.AgentType)
		d.publish(core.NewFailedResult(req.TaskID, fmt.Sprintf("unknown agent type: %s", req.AgentType)))
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, d.config.ExecTimeout)
	defer cancel()

	onProgress := func(message string) {
		if err := d.broker.PublishProgress(execCtx, core.NewTaskProgress(req.TaskID, message)); err != nil {
			d.logger.Debug("progress publish failed", "task_id", req.TaskID, "error", err)
		}
	}

	data, err := d.execute(execCtx, executor, req.Prompt, onProgress)

	var result core.TaskResult
	switch {
	case err == nil:
		result = core.NewCompletedResult(req.TaskID, data)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || execCtx.Err() != nil:
		result = core.NewCancelledResult(req.TaskID)
	default:
		// Only the error message travels; never the error value or a stack.
		result = core.NewFailedResult(req.TaskID, err.Error())
	}

	d.logger.Info("task dispatched",
		"task_id", req.TaskID,
		"agent_type", req.AgentType,
		"status", result.Status,
		"duration", time.Since(start))
	d.publish(result)
}

// execute invokes the executor, converting a panic into an error so a broken
// executor can never take the worker process down or skip result publication.
func (d *Dispatcher) execute(
	ctx context.Context,
	executor core.Executor,
	prompt string,
	onProgress core.ProgressFunc,
) (data json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("executor panic recovered", "panic", fmt.Sprintf("%v", r))
			err = errExecutorPanic
		}
	}()
	return executor.Execute(ctx, prompt, onProgress)
}

// publish sends the terminal result on a detached deadline so it succeeds
// even when the worker context is already cancelled (shutdown path).
func (d *Dispatcher) publish(result core.TaskResult) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.PublishTimeout)
	defer cancel()

	if err := d.broker.PublishResult(ctx, result); err != nil {
		d.logger.Error("failed to publish terminal result", "task_id", result.TaskID, "status", result.Status, "error", err)
	}
}
