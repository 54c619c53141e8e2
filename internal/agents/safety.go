package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	"github.com/caseflow-io/caseflow/internal/guardrails"
	"github.com/caseflow-io/caseflow/internal/plan"
)

// SafetyChecker runs the output guardrails over the synthesized response.
// A blocked response is still a successful invocation: the verdict travels
// in the payload so the gate, not the executor, decides what happens.
func SafetyChecker() agentclient.Func {
	opts := guardrails.DefaultOutputOptions()
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		_, span := tracer.Start(ctx, "agents.safety")
		defer span.End()

		var in plan.SafetyInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding safety input: %w", err)
		}

		result := guardrails.CheckOutput(in.Response, opts)
		span.SetAttributes(
			attribute.Bool("passed", result.Passed),
			attribute.StringSlice("findings", result.Findings),
		)
		return json.Marshal(plan.SafetyOutput{
			Passed:   result.Passed,
			Redacted: result.Redacted,
			Findings: result.Findings,
		})
	}
}
