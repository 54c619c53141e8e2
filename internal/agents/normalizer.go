package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"html"

	"github.com/microcosm-cc/bluemonday"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	"github.com/caseflow-io/caseflow/internal/guardrails"
	"github.com/caseflow-io/caseflow/internal/plan"
)

// Normalizer strips markup, control bytes, and excess whitespace from raw
// request text and rejects injection attempts. Rejections are permanent
// failures: retrying the same text cannot help.
func Normalizer() agentclient.Func {
	policy := bluemonday.StrictPolicy()
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		_, span := tracer.Start(ctx, "agents.normalize")
		defer span.End()

		var in plan.NormalizeInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding normalize input: %w", err)
		}

		// Strip HTML first so markup cannot smuggle text past the
		// guardrail checks; Sanitize entity-escapes the remainder.
		stripped := html.UnescapeString(policy.Sanitize(in.Text))

		result := guardrails.ValidateInput(stripped, guardrails.DefaultMaxLength)
		if !result.OK {
			return nil, fmt.Errorf("%s: %s", result.Code, result.Message)
		}
		return json.Marshal(plan.NormalizeOutput{
			Text:   result.Sanitized,
			UserID: in.UserID,
		})
	}
}
