package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/broker"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/testutil"
	"github.com/hupe1980/taskmesh/resultstore"
	"github.com/hupe1980/taskmesh/transport"
)

// recordingBroker wraps a real broker and records every published terminal
// result, so tests can assert the exactly-once publication property.
type recordingBroker struct {
	core.Broker

	mu      sync.Mutex
	results []core.TaskResult
}

func (r *recordingBroker) PublishResult(ctx context.Context, result core.TaskResult) error {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
	return r.Broker.PublishResult(ctx, result)
}

func (r *recordingBroker) published() []core.TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.TaskResult, len(r.results))
	copy(out, r.results)
	return out
}

func (r *recordingBroker) byTaskID() map[string][]core.TaskResult {
	byID := make(map[string][]core.TaskResult)
	for _, res := range r.published() {
		byID[res.TaskID] = append(byID[res.TaskID], res)
	}
	return byID
}

func newTestRig(t *testing.T) *recordingBroker {
	t.Helper()
	tr := transport.NewInMemoryTransport()
	store := resultstore.NewInMemoryStore()
	t.Cleanup(func() {
		_ = tr.Close()
		store.Close()
	})
	return &recordingBroker{Broker: broker.New(tr, store)}
}

// runDispatcher starts the dispatch loop on its own goroutine and returns a
// stop function that shuts it down and waits for completion.
func runDispatcher(t *testing.T, d *Dispatcher) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Run(ctx); err != nil {
			t.Errorf("dispatcher run: %v", err)
		}
	}()
	// Give the task subscription a moment to establish.
	time.Sleep(20 * time.Millisecond)
	return func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestDispatcher_CompletesTask(t *testing.T) {
	rb := newTestRig(t)
	d := New(rb)
	d.Register("echo", testutil.EchoExecutor())

	stop := runDispatcher(t, d)
	defer stop()

	req := testutil.NewRequest("echo").WithPrompt("hello").Build()
	require.NoError(t, rb.Submit(context.Background(), req))

	waitFor(t, 2*time.Second, func() bool { return len(rb.published()) == 1 })

	result := rb.published()[0]
	assert.Equal(t, req.TaskID, result.TaskID)
	assert.Equal(t, core.TaskCompleted, result.Status)
	assert.JSONEq(t, `{"echo":"hello"}`, string(result.Data))
	assert.Empty(t, result.Error)
}

func TestDispatcher_UnknownAgentType(t *testing.T) {
	rb := newTestRig(t)
	d := New(rb)

	stop := runDispatcher(t, d)
	defer stop()

	req := testutil.NewRequest("research").WithTaskID("abc123").WithPrompt("find X").Build()
	require.NoError(t, rb.Submit(context.Background(), req))

	waitFor(t, 2*time.Second, func() bool { return len(rb.published()) == 1 })

	result := rb.published()[0]
	assert.Equal(t, "abc123", result.TaskID)
	assert.Equal(t, core.TaskFailed, result.Status)
	assert.Equal(t, "unknown agent type: research", result.Error)
}

func TestDispatcher_ExecutorFailureSanitized(t *testing.T) {
	rb := newTestRig(t)
	d := New(rb)
	d.Register("flaky", testutil.FailingExecutor("upstream unavailable"))

	stop := runDispatcher(t, d)
	defer stop()

	require.NoError(t, rb.Submit(context.Background(), testutil.NewRequest("flaky").Build()))

	waitFor(t, 2*time.Second, func() bool { return len(rb.published()) == 1 })

	result := rb.published()[0]
	assert.Equal(t, core.TaskFailed, result.Status)
	assert.Equal(t, "upstream unavailable", result.Error)
	assert.Nil(t, result.Data)
}

func TestDispatcher_ExecutorPanicBecomesFailed(t *testing.T) {
	rb := newTestRig(t)
	d := New(rb)
	d.Register("panicky", testutil.PanickyExecutor())

	stop := runDispatcher(t, d)
	defer stop()

	require.NoError(t, rb.Submit(context.Background(), testutil.NewRequest("panicky").Build()))

	waitFor(t, 2*time.Second, func() bool { return len(rb.published()) == 1 })

	result := rb.published()[0]
	assert.Equal(t, core.TaskFailed, result.Status)
	// The panic value must never leak to the submitter.
	assert.Equal(t, "internal executor error", result.Error)
	assert.NotContains(t, result.Error, "boom")
}

func TestDispatcher_TimeoutBecomesCancelled(t *testing.T) {
	rb := newTestRig(t)
	d := New(rb, func(o *Options) {
		o.Config.ExecTimeout = 30 * time.Millisecond
	})
	d.Register("slow", testutil.SlowExecutor(5*time.Second))

	stop := runDispatcher(t, d)
	defer stop()

	require.NoError(t, rb.Submit(context.Background(), testutil.NewRequest("slow").Build()))

	waitFor(t, 2*time.Second, func() bool { return len(rb.published()) == 1 })
	assert.Equal(t, core.TaskCancelled, rb.published()[0].Status)
}

func TestDispatcher_ShutdownCancelsInFlight(t *testing.T) {
	rb := newTestRig(t)
	d := New(rb)
	d.Register("slow", testutil.SlowExecutor(10*time.Second))

	stop := runDispatcher(t, d)

	require.NoError(t, rb.Submit(context.Background(), testutil.NewRequest("slow").Build()))
	time.Sleep(100 * time.Millisecond) // let the task enter execution

	stop() // Run blocks until the Cancelled result is published

	results := rb.published()
	require.Len(t, results, 1)
	assert.Equal(t, core.TaskCancelled, results[0].Status)
}

func TestDispatcher_ExactlyOneResultPerTask(t *testing.T) {
	rb := newTestRig(t)
	d := New(rb, func(o *Options) {
		o.Config.Concurrency = 8
	})
	d.Register("echo", testutil.EchoExecutor())
	d.Register("flaky", testutil.FailingExecutor("nope"))
	d.Register("panicky", testutil.PanickyExecutor())

	stop := runDispatcher(t, d)
	defer stop()

	agentTypes := []string{"echo", "flaky", "panicky", "missing"}
	const n = 40
	ids := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		req := testutil.NewRequest(agentTypes[i%len(agentTypes)]).WithPrompt(fmt.Sprintf("p%d", i)).Build()
		ids[req.TaskID] = struct{}{}
		require.NoError(t, rb.Submit(context.Background(), req))
	}

	waitFor(t, 5*time.Second, func() bool { return len(rb.published()) == n })
	time.Sleep(100 * time.Millisecond) // catch any stray duplicate

	byID := rb.byTaskID()
	assert.Len(t, byID, n)
	for id := range ids {
		require.Len(t, byID[id], 1, "task %s must have exactly one terminal result", id)
		assert.True(t, byID[id][0].Status.Terminal())
	}
}

func TestDispatcher_ForwardsProgress(t *testing.T) {
	rb := newTestRig(t)
	d := New(rb)
	d.Register("chatty", testutil.ProgressExecutor("step 1", "step 2"))

	stop := runDispatcher(t, d)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := testutil.NewRequest("chatty").Build()

	var mu sync.Mutex
	var progress []string
	require.NoError(t, rb.SubscribeToProgress(ctx, req.TaskID, func(p core.TaskProgress) {
		mu.Lock()
		progress = append(progress, p.Message)
		mu.Unlock()
	}))

	require.NoError(t, rb.Submit(ctx, req))

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(progress) == 2
	})
}

func TestDispatcher_RegisterReplaces(t *testing.T) {
	rb := newTestRig(t)
	d := New(rb)
	d.Register("echo", testutil.FailingExecutor("old"))
	d.Register("echo", testutil.EchoExecutor())

	ex, ok := d.Executor("echo")
	require.True(t, ok)
	data, err := ex.Execute(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"x"}`, string(data))
}
