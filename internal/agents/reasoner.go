package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	"github.com/caseflow-io/caseflow/internal/llm"
	"github.com/caseflow-io/caseflow/internal/plan"
)

const reasonerPrompt = `You are a support analysis agent. You receive a classified support
request together with knowledge-base excerpts and similar past incidents.
Produce a short analysis: the likely root cause, whether the gathered
evidence covers the request, and the recommended resolution path. Be
concrete and do not invent facts absent from the evidence.`

// Reasoner synthesizes an analysis from the classification and gathered
// evidence. Evidence slices may be empty when a gather branch degraded;
// the analysis then says so instead of failing.
func Reasoner(provider llm.Provider, model string) agentclient.Func {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "agents.reason")
		defer span.End()

		var in plan.ReasonInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding reason input: %w", err)
		}
		span.SetAttributes(
			attribute.Int("chunk_count", len(in.Chunks)),
			attribute.Int("incident_count", len(in.Incidents)),
		)

		if provider == nil {
			return json.Marshal(plan.ReasonOutput{Analysis: heuristicAnalysis(&in)})
		}

		resp, err := provider.Generate(ctx, &llm.Request{
			Model: model,
			Messages: []llm.Message{
				{Role: "system", Content: reasonerPrompt},
				{Role: "user", Content: renderReasonContext(&in)},
			},
			Temperature: 0.2,
			MaxTokens:   512,
		})
		if err != nil {
			return nil, agentclient.MarkTransient(fmt.Errorf("reasoner model call: %w", err))
		}
		analysis := strings.TrimSpace(resp.Content)
		if analysis == "" {
			analysis = heuristicAnalysis(&in)
		}
		return json.Marshal(plan.ReasonOutput{Analysis: analysis})
	}
}

func renderReasonContext(in *plan.ReasonInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", in.Text)
	if c := in.Classification; c != nil {
		fmt.Fprintf(&b, "Classification: %s / %s / SLA risk %s\n", c.IncidentType, c.Urgency, c.SLARisk)
	}
	if len(in.Chunks) > 0 {
		b.WriteString("\nKnowledge base:\n")
		for i, ch := range in.Chunks {
			fmt.Fprintf(&b, "[%d] (%s, score %.2f) %s\n", i+1, ch.SourceID, ch.RelevanceScore, ch.Content)
		}
	}
	if len(in.Incidents) > 0 {
		b.WriteString("\nSimilar past incidents:\n")
		for _, inc := range in.Incidents {
			fmt.Fprintf(&b, "- %s (%s): %s -> %s\n", inc.IncidentID, inc.Outcome, inc.QueryText, inc.Resolution)
		}
	}
	return b.String()
}

func heuristicAnalysis(in *plan.ReasonInput) string {
	var b strings.Builder
	if c := in.Classification; c != nil {
		fmt.Fprintf(&b, "Classified as %s at urgency %s. ", c.IncidentType, c.Urgency)
	}
	switch {
	case len(in.Chunks) == 0 && len(in.Incidents) == 0:
		b.WriteString("No supporting evidence was gathered; the request needs human review.")
	case len(in.Chunks) > 0 && len(in.Incidents) > 0:
		fmt.Fprintf(&b, "%d knowledge-base excerpts and %d similar past incidents apply; follow the documented resolution path.",
			len(in.Chunks), len(in.Incidents))
	case len(in.Chunks) > 0:
		fmt.Fprintf(&b, "%d knowledge-base excerpts apply; no similar past incidents on record.", len(in.Chunks))
	default:
		fmt.Fprintf(&b, "%d similar past incidents apply; no knowledge-base coverage.", len(in.Incidents))
	}
	return b.String()
}
