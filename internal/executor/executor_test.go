package executor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	"github.com/caseflow-io/caseflow/internal/plan"
	"github.com/caseflow-io/caseflow/internal/requestctx"
)

// scriptedClient returns canned results per agent and records dispatch
// order and timing so tests can assert barrier behavior.
type scriptedClient struct {
	mu      sync.Mutex
	scripts map[string][]agentclient.TaskResult
	calls   map[string]int
	delays  map[string]time.Duration
	started map[string][]time.Time
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		scripts: make(map[string][]agentclient.TaskResult),
		calls:   make(map[string]int),
		delays:  make(map[string]time.Duration),
		started: make(map[string][]time.Time),
	}
}

func (c *scriptedClient) script(agentName string, results ...agentclient.TaskResult) {
	c.scripts[agentName] = results
}

func (c *scriptedClient) Invoke(ctx context.Context, agentName string, input json.RawMessage, timeout time.Duration) agentclient.TaskResult {
	c.mu.Lock()
	c.started[agentName] = append(c.started[agentName], time.Now())
	n := c.calls[agentName]
	c.calls[agentName]++
	script := c.scripts[agentName]
	delay := c.delays[agentName]
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if n < len(script) {
		return script[n]
	}
	if len(script) > 0 {
		return script[len(script)-1]
	}
	return agentclient.Succeed(json.RawMessage(`{}`))
}

func (c *scriptedClient) callCount(agentName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[agentName]
}

func (c *scriptedClient) firstStart(agentName string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.started[agentName]) == 0 {
		return time.Time{}, false
	}
	return c.started[agentName][0], true
}

func passthrough(name string) func(plan.Outputs) (json.RawMessage, error) {
	return func(out plan.Outputs) (json.RawMessage, error) {
		raw, _ := out.Get(name)
		return raw, nil
	}
}

func staticInput(raw string) func(plan.Outputs) (json.RawMessage, error) {
	return func(plan.Outputs) (json.RawMessage, error) {
		return json.RawMessage(raw), nil
	}
}

func testContext() requestctx.Context {
	return requestctx.New("", "user-1")
}

func TestRunStageBarrier(t *testing.T) {
	client := newScriptedClient()
	client.delays["slow"] = 60 * time.Millisecond
	client.script("slow", agentclient.Succeed(json.RawMessage(`{"k":"slow"}`)))
	client.script("fast", agentclient.Succeed(json.RawMessage(`{"k":"fast"}`)))
	client.script("next", agentclient.Succeed(json.RawMessage(`{}`)))

	p := &plan.Plan{Stages: []plan.Stage{
		{Name: "gather", Invocations: []plan.Invocation{
			{AgentName: "slow", BuildInput: staticInput(`{}`)},
			{AgentName: "fast", BuildInput: staticInput(`{}`)},
		}},
		{Name: "reason", Invocations: []plan.Invocation{
			{AgentName: "next", Required: true, BuildInput: staticInput(`{}`)},
		}},
	}}

	res := New(client, time.Second).Run(context.Background(), p, testContext())
	require.True(t, res.Completed)

	slowStart, ok := client.firstStart("slow")
	require.True(t, ok)
	nextStart, ok := client.firstStart("next")
	require.True(t, ok)
	assert.True(t, nextStart.Sub(slowStart) >= 60*time.Millisecond,
		"next stage must not start before the slow invocation finishes")
}

func TestRunPartialFailureContinues(t *testing.T) {
	client := newScriptedClient()
	client.script("retrieve", agentclient.Fail(agentclient.KindPermanent, "index offline"))
	client.script("recall", agentclient.Succeed(json.RawMessage(`{"incidents":[]}`)))
	client.script("respond", agentclient.Succeed(json.RawMessage(`{"response":"ok"}`)))

	var sawRetrieve, sawRecall bool
	p := &plan.Plan{Stages: []plan.Stage{
		{Name: "gather", Invocations: []plan.Invocation{
			{AgentName: "retrieve", BuildInput: staticInput(`{}`)},
			{AgentName: "recall", BuildInput: staticInput(`{}`)},
		}},
		{Name: "respond", Invocations: []plan.Invocation{
			{AgentName: "respond", Required: true, BuildInput: func(out plan.Outputs) (json.RawMessage, error) {
				_, sawRetrieve = out.Get("retrieve")
				_, sawRecall = out.Get("recall")
				return json.RawMessage(`{}`), nil
			}},
		}},
	}}

	res := New(client, time.Second).Run(context.Background(), p, testContext())
	require.True(t, res.Completed)
	require.Nil(t, res.HardFailure)
	assert.False(t, sawRetrieve, "failed invocation must have no output")
	assert.True(t, sawRecall, "surviving invocation output must be visible downstream")
	assert.True(t, res.Degraded())

	result, ok := res.StageResult("gather", "retrieve")
	require.True(t, ok)
	assert.Equal(t, agentclient.StatusFailed, result.Status)
}

func TestRunHardFailureShortCircuits(t *testing.T) {
	client := newScriptedClient()
	client.script("classify", agentclient.TimedOut("deadline exceeded"))

	p := &plan.Plan{Stages: []plan.Stage{
		{Name: "classify", Invocations: []plan.Invocation{
			{AgentName: "classify", Required: true, BuildInput: staticInput(`{}`)},
		}},
		{Name: "gather", Invocations: []plan.Invocation{
			{AgentName: "retrieve", BuildInput: staticInput(`{}`)},
		}},
		{Name: "respond", Invocations: []plan.Invocation{
			{AgentName: "respond", Required: true, BuildInput: staticInput(`{}`)},
		}},
	}}

	res := New(client, time.Second).Run(context.Background(), p, testContext())
	require.False(t, res.Completed)
	require.NotNil(t, res.HardFailure)
	assert.Equal(t, "classify", res.HardFailure.Stage)
	assert.Equal(t, "classify", res.HardFailure.AgentName)

	assert.Equal(t, 0, client.callCount("retrieve"), "later stages must not be dispatched")
	assert.Equal(t, 0, client.callCount("respond"))
	assert.Equal(t, []string{"classify"}, res.Stages())
	// Timeouts are terminal, never retried.
	assert.Equal(t, 1, client.callCount("classify"))
}

func TestRunHardFailureDiscardsStageOutputs(t *testing.T) {
	client := newScriptedClient()
	client.script("broken", agentclient.Fail(agentclient.KindPermanent, "bad schema"))
	client.script("peer", agentclient.Succeed(json.RawMessage(`{"k":"v"}`)))

	p := &plan.Plan{Stages: []plan.Stage{
		{Name: "gather", Invocations: []plan.Invocation{
			{AgentName: "broken", Required: true, BuildInput: staticInput(`{}`)},
			{AgentName: "peer", BuildInput: staticInput(`{}`)},
		}},
	}}

	res := New(client, time.Second).Run(context.Background(), p, testContext())
	require.NotNil(t, res.HardFailure)

	_, ok := res.Get("peer")
	assert.False(t, ok, "outputs of a hard-failed stage are discarded")
	// The peer's task is still on the log.
	result, ok := res.StageResult("gather", "peer")
	require.True(t, ok)
	assert.True(t, result.Succeeded())
}

func TestRunRetriesTransientOnce(t *testing.T) {
	client := newScriptedClient()
	client.script("classify",
		agentclient.Fail(agentclient.KindTransient, "connection reset"),
		agentclient.Succeed(json.RawMessage(`{"incident_type":"Payment"}`)),
	)

	p := &plan.Plan{Stages: []plan.Stage{
		{Name: "classify", Invocations: []plan.Invocation{
			{AgentName: "classify", Required: true, BuildInput: staticInput(`{}`)},
		}},
	}}

	res := New(client, time.Second).Run(context.Background(), p, testContext())
	require.True(t, res.Completed)
	assert.Equal(t, 2, client.callCount("classify"))

	tasks := res.Tasks()
	require.Len(t, tasks, 2)
	assert.Empty(t, tasks[0].RetryOf)
	assert.Equal(t, tasks[0].TaskID, tasks[1].RetryOf)
	assert.Equal(t, agentclient.StatusFailed, tasks[0].Status)
	assert.Equal(t, agentclient.StatusSucceeded, tasks[1].Status)
}

func TestRunRetriesTransientOnlyOnce(t *testing.T) {
	client := newScriptedClient()
	client.script("recall",
		agentclient.Fail(agentclient.KindTransient, "connection reset"),
		agentclient.Fail(agentclient.KindTransient, "connection reset"),
	)

	p := &plan.Plan{Stages: []plan.Stage{
		{Name: "gather", Invocations: []plan.Invocation{
			{AgentName: "recall", BuildInput: staticInput(`{}`)},
		}},
	}}

	res := New(client, time.Second).Run(context.Background(), p, testContext())
	require.True(t, res.Completed, "optional failure must not abort the run")
	assert.Equal(t, 2, client.callCount("recall"))
}

func TestRunBuilderErrorIsPermanentFailure(t *testing.T) {
	client := newScriptedClient()
	p := &plan.Plan{Stages: []plan.Stage{
		{Name: "respond", Invocations: []plan.Invocation{
			{AgentName: "respond", Required: true, BuildInput: func(plan.Outputs) (json.RawMessage, error) {
				return nil, assert.AnError
			}},
		}},
	}}

	res := New(client, time.Second).Run(context.Background(), p, testContext())
	require.NotNil(t, res.HardFailure)
	assert.Equal(t, agentclient.KindPermanent, res.HardFailure.Result.Kind)
	assert.Equal(t, 0, client.callCount("respond"), "a failed builder must not dispatch")
}

func TestDispatchAsyncSeesInjectedOutputs(t *testing.T) {
	client := newScriptedClient()
	var got json.RawMessage
	var mu sync.Mutex
	client.scripts["memory_writer"] = []agentclient.TaskResult{agentclient.Succeed(json.RawMessage(`{}`))}

	p := &plan.Plan{
		AsyncTasks: []plan.Invocation{
			{AgentName: "memory_writer", BuildInput: func(out plan.Outputs) (json.RawMessage, error) {
				raw, ok := out.Get("incident_record")
				require.True(t, ok)
				mu.Lock()
				got = raw
				mu.Unlock()
				return raw, nil
			}},
		},
	}

	res := newResults()
	res.Put("incident_record", json.RawMessage(`{"incident_id":"inc_1"}`))

	ctx := requestctx.Set(context.Background(), testContext())
	done := New(client, time.Second).DispatchAsync(ctx, p, res)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async tasks did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"incident_id":"inc_1"}`, string(got))
	assert.Equal(t, 1, client.callCount("memory_writer"))
}

func TestDispatchAsyncSurvivesRequestCancellation(t *testing.T) {
	client := newScriptedClient()
	client.delays["execution_recorder"] = 30 * time.Millisecond
	client.script("execution_recorder", agentclient.Succeed(json.RawMessage(`{}`)))

	p := &plan.Plan{
		AsyncTasks: []plan.Invocation{
			{AgentName: "execution_recorder", BuildInput: staticInput(`{}`)},
		},
	}

	ctx, cancel := context.WithCancel(requestctx.Set(context.Background(), testContext()))
	done := New(client, time.Second).DispatchAsync(ctx, p, newResults())
	cancel() // request is over; async work keeps going

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async tasks did not finish after cancellation")
	}
	assert.Equal(t, 1, client.callCount("execution_recorder"))
}
