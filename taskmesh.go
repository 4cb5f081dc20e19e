// Package taskmesh provides a high-level façade over the task broker, worker
// dispatcher and submitter service, enabling a foreground client to hand
// long-running agent tasks to background workers without blocking. Most
// applications interact with this package by:
//  1. Creating a TaskMesh via New() (optionally overriding the in-memory
//     transport and result store with the Redis backends)
//  2. Registering one or more executors by agent-type tag
//  3. Running a worker (RunWorker) and submitting tasks through Submitter()
//
// The façade delegates the pub/sub and correlation mechanics to the broker,
// worker and submitter packages while keeping setup ergonomics concise. All
// defaults are safe for local development and testing; multi-process
// deployments supply the Redis transport and store plus a structured logger.
package taskmesh

import (
	"context"
	"time"

	"github.com/hupe1980/taskmesh/broker"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/resultstore"
	"github.com/hupe1980/taskmesh/submitter"
	"github.com/hupe1980/taskmesh/transport"
	"github.com/hupe1980/taskmesh/worker"
)

// Options configures the TaskMesh instance.
type Options struct {
	// Transport carries task and notification messages. Defaults to the
	// in-process transport; multi-process setups use transport/redis.
	Transport core.Transport

	// ResultStore holds overflow result payloads. Defaults to the in-memory
	// store; multi-process setups use resultstore/redis.
	ResultStore core.ResultStore

	// OverflowThreshold is the inline payload limit in bytes (0 = broker default).
	OverflowThreshold int

	// OverflowTTL bounds overflow payload retention (0 = broker default).
	OverflowTTL time.Duration

	// WorkerConfig tunes dispatcher concurrency and timeouts.
	WorkerConfig worker.Config

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// TaskMesh is the high-level façade aggregating broker, dispatcher and
// submitter service over one transport and result store.
type TaskMesh struct {
	opts       Options
	broker     *broker.Broker
	dispatcher *worker.Dispatcher
	service    *submitter.Service
}

// New creates a new TaskMesh instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *TaskMesh {
	opts := Options{
		Transport:    transport.NewInMemoryTransport(),
		ResultStore:  resultstore.NewInMemoryStore(),
		WorkerConfig: worker.DefaultConfig,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	b := broker.New(opts.Transport, opts.ResultStore, func(o *broker.Options) {
		if opts.OverflowThreshold > 0 {
			o.OverflowThreshold = opts.OverflowThreshold
		}
		if opts.OverflowTTL > 0 {
			o.OverflowTTL = opts.OverflowTTL
		}
		o.Logger = opts.Logger
	})

	d := worker.New(b, func(o *worker.Options) {
		o.Config = opts.WorkerConfig
		o.Logger = opts.Logger
	})

	s := submitter.New(b, func(o *submitter.Options) {
		o.Logger = opts.Logger
	})

	return &TaskMesh{opts: opts, broker: b, dispatcher: d, service: s}
}

// RegisterExecutor adds an executor for the given agent-type tag to the
// underlying dispatcher.
func (m *TaskMesh) RegisterExecutor(agentType string, executor core.Executor) {
	m.dispatcher.Register(agentType, executor)
}

// RunWorker runs the dispatch loop until ctx is cancelled. Call it on its own
// goroutine (or process) after registering executors.
func (m *TaskMesh) RunWorker(ctx context.Context) error {
	return m.dispatcher.Run(ctx)
}

// Broker exposes the underlying broker for advanced integrations.
func (m *TaskMesh) Broker() core.Broker { return m.broker }

// Submitter exposes the task service used to submit tasks and await results.
func (m *TaskMesh) Submitter() *submitter.Service { return m.service }

// Close releases the submitter's correlation table, resolving still-pending
// entries as locally cancelled. Remote tasks are unaffected.
func (m *TaskMesh) Close() error { return m.service.Close() }
