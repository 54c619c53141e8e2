package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/caseflow-io/caseflow/internal/orchestrator")

var (
	requestsTotal    metric.Int64Counter
	escalationsTotal metric.Int64Counter
	casesFiled       metric.Int64Counter
)

func init() {
	var err error
	requestsTotal, err = meter.Int64Counter("orchestrator.requests.total",
		metric.WithDescription("Support requests carried end to end"))
	if err != nil {
		requestsTotal, _ = meter.Int64Counter("orchestrator.requests.total.fallback")
	}

	escalationsTotal, err = meter.Int64Counter("orchestrator.escalations.total",
		metric.WithDescription("Requests the gate handed to a human"))
	if err != nil {
		escalationsTotal, _ = meter.Int64Counter("orchestrator.escalations.total.fallback")
	}

	casesFiled, err = meter.Int64Counter("orchestrator.cases.filed",
		metric.WithDescription("Cases filed for escalated requests"))
	if err != nil {
		casesFiled, _ = meter.Int64Counter("orchestrator.cases.filed.fallback")
	}
}

func recordRequest(ctx context.Context) {
	requestsTotal.Add(ctx, 1)
}

func recordEscalation(ctx context.Context, reason string) {
	escalationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func recordCaseFiled(ctx context.Context) {
	casesFiled.Add(ctx, 1)
}
