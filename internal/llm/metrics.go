package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/caseflow-io/caseflow/internal/llm")

var (
	callsTotal  metric.Int64Counter
	tokensTotal metric.Int64Counter
)

func init() {
	var err error
	callsTotal, err = meter.Int64Counter("llm.calls.total",
		metric.WithDescription("Completion calls by provider and outcome"))
	if err != nil {
		callsTotal, _ = meter.Int64Counter("llm.calls.total.fallback")
	}

	tokensTotal, err = meter.Int64Counter("llm.tokens.total",
		metric.WithDescription("Tokens consumed by direction"))
	if err != nil {
		tokensTotal, _ = meter.Int64Counter("llm.tokens.total.fallback")
	}
}

func recordCall(ctx context.Context, provider string, ok bool) {
	callsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("ok", ok),
	))
}

func recordTokens(ctx context.Context, input, output int) {
	tokensTotal.Add(ctx, int64(input), metric.WithAttributes(attribute.String("direction", "input")))
	tokensTotal.Add(ctx, int64(output), metric.WithAttributes(attribute.String("direction", "output")))
}
