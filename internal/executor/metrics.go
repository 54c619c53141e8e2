package executor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/caseflow-io/caseflow/internal/agentclient"
)

var meter = otel.Meter("github.com/caseflow-io/caseflow/internal/executor")

var (
	invocationsTotal  metric.Int64Counter
	invocationsFailed metric.Int64Counter
	stageFailures     metric.Int64Counter
)

func init() {
	var err error
	invocationsTotal, err = meter.Int64Counter("executor.invocations.total",
		metric.WithDescription("Total agent invocations dispatched"))
	if err != nil {
		invocationsTotal, _ = meter.Int64Counter("executor.invocations.total.fallback")
	}

	invocationsFailed, err = meter.Int64Counter("executor.invocations.failed",
		metric.WithDescription("Agent invocations that reached a non-success terminal state"))
	if err != nil {
		invocationsFailed, _ = meter.Int64Counter("executor.invocations.failed.fallback")
	}

	stageFailures, err = meter.Int64Counter("executor.stage.failures",
		metric.WithDescription("Stages aborted by a required invocation failing"))
	if err != nil {
		stageFailures, _ = meter.Int64Counter("executor.stage.failures.fallback")
	}
}

func recordInvocation(ctx context.Context, agentName string, result agentclient.TaskResult) {
	attrs := metric.WithAttributes(
		attribute.String("agent_name", agentName),
		attribute.String("status", string(result.Status)),
	)
	invocationsTotal.Add(ctx, 1, attrs)
	if !result.Succeeded() {
		invocationsFailed.Add(ctx, 1, attrs)
	}
}

func recordStageFailure(ctx context.Context, stage string) {
	stageFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
