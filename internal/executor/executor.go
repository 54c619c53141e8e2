package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	cfotel "github.com/caseflow-io/caseflow/internal/otel"
	"github.com/caseflow-io/caseflow/internal/plan"
	"github.com/caseflow-io/caseflow/internal/requestctx"
)

var tracer = cfotel.Tracer("internal/executor")

// asyncTimeout bounds fire-and-forget tasks only so a stuck agent cannot
// leak a goroutine forever. It is not part of the stage deadline model.
const asyncTimeout = 10 * time.Minute

// Executor runs a plan stage by stage: all invocations within a stage are
// dispatched concurrently, and the next stage starts only when every one of
// them has reached a terminal state.
type Executor struct {
	client  agentclient.Client
	timeout time.Duration
}

func New(client agentclient.Client, timeout time.Duration) *Executor {
	return &Executor{client: client, timeout: timeout}
}

// Run executes the plan's synchronous stages. It always returns a Results,
// never an error: per-agent failures are data, recorded in the results. On
// a hard failure the run stops, later stages are never dispatched, and
// Results.HardFailure names the invocation that caused it.
func (e *Executor) Run(ctx context.Context, p *plan.Plan, rc requestctx.Context) *Results {
	ctx = requestctx.Set(ctx, rc)
	ctx, span := tracer.Start(ctx, "executor.run", oteltrace.WithAttributes(
		attribute.String("session_id", rc.SessionID),
		attribute.Int("stage_count", len(p.Stages)),
	))
	defer span.End()

	res := newResults()
	start := time.Now()

	for _, stage := range p.Stages {
		hardFailure := e.runStage(ctx, stage, rc, res)
		if hardFailure != nil {
			res.HardFailure = hardFailure
			span.SetAttributes(
				attribute.String("failed_stage", hardFailure.Stage),
				attribute.String("failed_agent", hardFailure.AgentName),
			)
			log.Warn().
				Str("session_id", rc.SessionID).
				Str("stage", hardFailure.Stage).
				Str("agent_name", hardFailure.AgentName).
				Str("status", string(hardFailure.Result.Status)).
				Str("failure_kind", string(hardFailure.Result.Kind)).
				Msg("plan_run_aborted")
			recordStageFailure(ctx, hardFailure.Stage)
			return res
		}
	}

	res.Completed = true
	log.Info().
		Str("session_id", rc.SessionID).
		Strs("stages", res.Stages()).
		Int("task_count", len(res.Tasks())).
		Dur("elapsed", time.Since(start)).
		Msg("plan_run_completed")
	return res
}

// runStage dispatches every invocation concurrently, waits for the barrier,
// then decides whether the stage hard-failed. Outputs of a hard-failed stage
// are discarded; its tasks are still recorded for the execution log.
func (e *Executor) runStage(ctx context.Context, stage plan.Stage, rc requestctx.Context, res *Results) *StageFailure {
	ctx, span := tracer.Start(ctx, "executor.stage", oteltrace.WithAttributes(
		attribute.String("stage", stage.Name),
		attribute.Int("invocation_count", len(stage.Invocations)),
	))
	defer span.End()

	type outcome struct {
		result agentclient.TaskResult
		tasks  []agentclient.Task
	}
	outcomes := make([]outcome, len(stage.Invocations))

	// Inputs are built serially against the outputs of prior stages, before
	// anything in this stage is dispatched. A builder error is a terminal
	// permanent failure for that invocation, not a dispatch.
	inputs := make([]json.RawMessage, len(stage.Invocations))
	for i, inv := range stage.Invocations {
		input, err := inv.BuildInput(res)
		if err != nil {
			outcomes[i] = outcome{result: agentclient.Fail(agentclient.KindPermanent, "building input: "+err.Error())}
			continue
		}
		inputs[i] = input
	}

	var g errgroup.Group
	for i, inv := range stage.Invocations {
		if outcomes[i].result.Status != "" {
			continue
		}
		i, inv := i, inv
		g.Go(func() error {
			result, tasks := e.invoke(ctx, stage.Name, inv.AgentName, inputs[i], rc)
			outcomes[i] = outcome{result: result, tasks: tasks}
			return nil
		})
	}
	_ = g.Wait() // barrier: goroutines never return errors

	stageResults := make(map[string]agentclient.TaskResult, len(stage.Invocations))
	var tasks []agentclient.Task
	var failure *StageFailure
	for i, inv := range stage.Invocations {
		stageResults[inv.AgentName] = outcomes[i].result
		tasks = append(tasks, outcomes[i].tasks...)
		if inv.Required && !outcomes[i].result.Succeeded() && failure == nil {
			failure = &StageFailure{Stage: stage.Name, AgentName: inv.AgentName, Result: outcomes[i].result}
		}
		if !outcomes[i].result.Succeeded() {
			log.Warn().
				Str("session_id", rc.SessionID).
				Str("stage", stage.Name).
				Str("agent_name", inv.AgentName).
				Str("status", string(outcomes[i].result.Status)).
				Str("failure_kind", string(outcomes[i].result.Kind)).
				Bool("required", inv.Required).
				Msg("invocation_failed")
		}
	}
	res.recordStage(stage.Name, stageResults, tasks, failure == nil)
	return failure
}

// invoke runs one agent call, retrying exactly once when the failure is
// transient. The retry is a fresh task linked via RetryOf; both tasks are
// returned for the execution log.
func (e *Executor) invoke(ctx context.Context, stageName, agentName string, input json.RawMessage, rc requestctx.Context) (agentclient.TaskResult, []agentclient.Task) {
	task := agentclient.NewTask(agentName, input)
	task.Begin()
	result := e.client.Invoke(ctx, agentName, input, e.timeout)
	task.Complete(result)
	tasks := []agentclient.Task{*task}
	recordInvocation(ctx, agentName, result)

	if !result.Retryable() {
		return result, tasks
	}
	log.Debug().
		Str("session_id", rc.SessionID).
		Str("stage", stageName).
		Str("agent_name", agentName).
		Str("task_id", task.TaskID).
		Msg("invocation_retrying")
	retry := agentclient.NewTask(agentName, input)
	retry.RetryOf = task.TaskID
	retry.Begin()
	result = e.client.Invoke(ctx, agentName, input, e.timeout)
	retry.Complete(result)
	recordInvocation(ctx, agentName, result)
	return result, append(tasks, *retry)
}

// DispatchAsync fires the plan's async tasks after the response has been
// finalized. They run detached from the request's cancellation, their
// failures are logged and dropped, and nothing waits on them on the request
// path. The returned channel closes when all of them have finished, which
// matters only to tests and graceful shutdown.
func (e *Executor) DispatchAsync(ctx context.Context, p *plan.Plan, res *Results) <-chan struct{} {
	rc, _ := requestctx.From(ctx)
	detached := requestctx.Set(context.WithoutCancel(ctx), rc)

	done := make(chan struct{})
	var g errgroup.Group
	for _, inv := range p.AsyncTasks {
		inv := inv
		g.Go(func() error {
			input, err := inv.BuildInput(res)
			if err != nil {
				log.Error().
					Str("session_id", rc.SessionID).
					Str("agent_name", inv.AgentName).
					Err(err).
					Msg("async_task_input_failed")
				return nil
			}
			result := e.client.Invoke(detached, inv.AgentName, input, asyncTimeout)
			if !result.Succeeded() {
				log.Error().
					Str("session_id", rc.SessionID).
					Str("agent_name", inv.AgentName).
					Str("status", string(result.Status)).
					Str("failure_kind", string(result.Kind)).
					Str("message", result.Message).
					Msg("async_task_failed")
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(done)
	}()
	return done
}
