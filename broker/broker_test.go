package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/testutil"
	"github.com/hupe1980/taskmesh/resultstore"
	"github.com/hupe1980/taskmesh/transport"
)

// Interface compliance (compile-time assertion)
var _ core.Broker = (*Broker)(nil)

func newTestBroker(t *testing.T, optFns ...func(o *Options)) *Broker {
	t.Helper()
	tr := transport.NewInMemoryTransport()
	store := resultstore.NewInMemoryStore()
	t.Cleanup(func() {
		_ = tr.Close()
		store.Close()
	})
	return New(tr, store, optFns...)
}

func TestBroker_SubmitValidation(t *testing.T) {
	b := newTestBroker(t)

	err := b.Submit(context.Background(), core.TaskRequest{AgentType: "research"})
	assert.ErrorContains(t, err, "task id")

	err = b.Submit(context.Background(), core.TaskRequest{TaskID: "t1"})
	assert.ErrorContains(t, err, "agent type")
}

func TestBroker_SubmitReachesTaskSubscriber(t *testing.T) {
	b := newTestBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks, err := b.SubscribeToTasks(ctx)
	require.NoError(t, err)

	req := testutil.NewRequest("research").WithPrompt("find X").Build()
	require.NoError(t, b.Submit(ctx, req))

	select {
	case got := <-tasks:
		assert.Equal(t, req.TaskID, got.TaskID)
		assert.Equal(t, "research", got.AgentType)
		assert.Equal(t, "find X", got.Prompt)
	case <-time.After(time.Second):
		t.Fatal("expected task delivery")
	}
}

func TestBroker_ResultDeliveredToEarlierSubscriber(t *testing.T) {
	b := newTestBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan core.TaskResult, 1)
	require.NoError(t, b.SubscribeToResult(ctx, "t1", func(r core.TaskResult) { got <- r }))

	result := core.NewCompletedResult("t1", testutil.MustJSON(map[string]int{"n": 1}))
	require.NoError(t, b.PublishResult(ctx, result))

	select {
	case r := <-got:
		assert.Equal(t, "t1", r.TaskID)
		assert.Equal(t, core.TaskCompleted, r.Status)
		assert.JSONEq(t, `{"n":1}`, string(r.Data))
	case <-time.After(time.Second):
		t.Fatal("expected result delivery")
	}
}

func TestBroker_InlineResultMissedByLateSubscriber(t *testing.T) {
	b := newTestBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Publish before anyone subscribes: an inline (non-overflow) result is
	// simply lost, which is inherent to pub/sub.
	small := core.NewCompletedResult("t1", testutil.MustJSON(map[string]int{"n": 1}))
	require.NoError(t, b.PublishResult(ctx, small))

	got := make(chan core.TaskResult, 1)
	require.NoError(t, b.SubscribeToResult(ctx, "t1", func(r core.TaskResult) { got <- r }))

	select {
	case <-got:
		t.Fatal("late subscriber must not receive an inline result")
	case <-time.After(50 * time.Millisecond):
	}

	// And the polling path has nothing either.
	result, err := b.GetResult(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestBroker_OverflowRoundTrip(t *testing.T) {
	b := newTestBroker(t, func(o *Options) { o.OverflowThreshold = 128 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := testutil.MustJSON(map[string]string{"blob": strings.Repeat("x", 4096)})

	got := make(chan core.TaskResult, 1)
	require.NoError(t, b.SubscribeToResult(ctx, "t1", func(r core.TaskResult) { got <- r }))
	require.NoError(t, b.PublishResult(ctx, core.NewCompletedResult("t1", payload)))

	select {
	case r := <-got:
		// Dereference is transparent: the subscriber sees the full payload
		// byte-for-byte after JSON round-tripping, never the reference.
		assert.Empty(t, r.DataRef)
		assert.JSONEq(t, string(payload), string(r.Data))
	case <-time.After(time.Second):
		t.Fatal("expected overflow result delivery")
	}
}

func TestBroker_OverflowRetrievableByPolling(t *testing.T) {
	b := newTestBroker(t, func(o *Options) { o.OverflowThreshold = 128 })

	ctx := context.Background()
	payload := testutil.MustJSON(map[string]string{"blob": strings.Repeat("y", 2048)})
	require.NoError(t, b.PublishResult(ctx, core.NewCompletedResult("t1", payload)))

	// No subscriber was listening, but the overflow record is durable within
	// its TTL and the polling path still finds it.
	result, err := b.GetResult(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, core.TaskCompleted, result.Status)
	assert.JSONEq(t, string(payload), string(result.Data))
}

func TestBroker_RejectsNonTerminalResult(t *testing.T) {
	b := newTestBroker(t)

	err := b.PublishResult(context.Background(), core.TaskResult{TaskID: "t1", Status: core.TaskRunning})
	assert.ErrorContains(t, err, "non-terminal")
}

func TestBroker_ResultCallbackInvokedAtMostOnce(t *testing.T) {
	tr := transport.NewInMemoryTransport()
	store := resultstore.NewInMemoryStore()
	defer tr.Close()
	defer store.Close()
	b := New(tr, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, b.SubscribeToResult(ctx, "t1", func(core.TaskResult) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	// A second publication is a dispatcher bug; the subscription has already
	// been released after the first delivery and must not fire again.
	require.NoError(t, b.PublishResult(ctx, core.NewCancelledResult("t1")))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.PublishResult(ctx, core.NewCancelledResult("t1")))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestBroker_ProgressManyShot(t *testing.T) {
	b := newTestBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan core.TaskProgress, 4)
	require.NoError(t, b.SubscribeToProgress(ctx, "t1", func(p core.TaskProgress) { got <- p }))

	for _, msg := range []string{"step 1", "step 2", "step 3"} {
		require.NoError(t, b.PublishProgress(ctx, core.NewTaskProgress("t1", msg)))
	}

	var messages []string
	for i := 0; i < 3; i++ {
		select {
		case p := <-got:
			assert.Equal(t, "t1", p.TaskID)
			messages = append(messages, p.Message)
		case <-time.After(time.Second):
			t.Fatalf("expected 3 progress messages, got %d", len(messages))
		}
	}
}

func TestBroker_MalformedTaskMessageDropped(t *testing.T) {
	tr := transport.NewInMemoryTransport()
	store := resultstore.NewInMemoryStore()
	defer tr.Close()
	defer store.Close()
	b := New(tr, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks, err := b.SubscribeToTasks(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, core.TaskTopic, []byte("not json")))
	require.NoError(t, b.Submit(ctx, testutil.NewRequest("research").Build()))

	select {
	case req := <-tasks:
		// The malformed message was skipped, the valid one came through.
		assert.Equal(t, "research", req.AgentType)
	case <-time.After(time.Second):
		t.Fatal("expected the valid task to survive the malformed one")
	}
}

func TestBroker_DereferenceExpiredOverflow(t *testing.T) {
	tr := transport.NewInMemoryTransport()
	store := resultstore.NewInMemoryStore()
	defer tr.Close()
	defer store.Close()
	b := New(tr, store, func(o *Options) { o.OverflowThreshold = 1 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan core.TaskResult, 1)
	require.NoError(t, b.SubscribeToResult(ctx, "t1", func(r core.TaskResult) { got <- r }))

	// Hand-craft a notification that references a payload nobody stored,
	// simulating TTL expiry between publish and dereference.
	notification, err := json.Marshal(core.TaskResult{TaskID: "t1", Status: core.TaskCompleted, DataRef: "t1"})
	require.NoError(t, err)
	require.NoError(t, tr.Publish(ctx, core.ResultTopic("t1"), notification))

	select {
	case r := <-got:
		assert.Equal(t, core.TaskCompleted, r.Status)
		assert.Empty(t, r.DataRef)
		assert.Empty(t, r.Data)
	case <-time.After(time.Second):
		t.Fatal("expected delivery despite missing overflow payload")
	}
}
