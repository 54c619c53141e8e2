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

const synthesizerPrompt = `You are a support response agent. Using the analysis and evidence
below, draft the reply sent to the requester. Then judge your own work.

Respond with JSON only:
{"response": "the reply text", "confidence": 0.0-1.0, "reasoning": "one sentence"}

Confidence reflects how completely the evidence covers the request:
above 0.9 only when the resolution is fully documented, below 0.5 when
you are guessing. Never state facts the evidence does not support.`

type synthesizerReply struct {
	Response   string  `json:"response"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Synthesizer drafts the user-facing response and scores it. Grounding and
// the evidence refs are computed here, not trusted from the model: the
// gate's grounding signal reflects what the pipeline actually gathered.
func Synthesizer(provider llm.Provider, model string) agentclient.Func {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "agents.respond")
		defer span.End()

		var in plan.RespondInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding respond input: %w", err)
		}

		out := plan.RespondOutput{
			Grounded:     len(in.Chunks) > 0 || len(in.Incidents) > 0,
			EvidenceRefs: evidenceRefs(&in),
		}

		if provider == nil {
			out.Response, out.Confidence = heuristicResponse(&in)
			span.SetAttributes(attribute.Float64("confidence", out.Confidence))
			return json.Marshal(out)
		}

		resp, err := provider.Generate(ctx, &llm.Request{
			Model: model,
			Messages: []llm.Message{
				{Role: "system", Content: synthesizerPrompt},
				{Role: "user", Content: renderRespondContext(&in)},
			},
			Temperature: 0.3,
			MaxTokens:   1024,
			JSONMode:    true,
		})
		if err != nil {
			return nil, agentclient.MarkTransient(fmt.Errorf("synthesizer model call: %w", err))
		}

		var reply synthesizerReply
		if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &reply); err != nil || reply.Response == "" {
			span.SetAttributes(attribute.Bool("synthesizer_fallback", true))
			out.Response, out.Confidence = heuristicResponse(&in)
		} else {
			out.Response = reply.Response
			out.Confidence = clamp01(reply.Confidence)
		}
		span.SetAttributes(
			attribute.Float64("confidence", out.Confidence),
			attribute.Bool("grounded", out.Grounded),
		)
		return json.Marshal(out)
	}
}

func evidenceRefs(in *plan.RespondInput) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, ch := range in.Chunks {
		if ch.SourceID != "" && !seen[ch.SourceID] {
			seen[ch.SourceID] = true
			refs = append(refs, ch.SourceID)
		}
	}
	for _, inc := range in.Incidents {
		if !seen[inc.IncidentID] {
			seen[inc.IncidentID] = true
			refs = append(refs, inc.IncidentID)
		}
	}
	return refs
}

func renderRespondContext(in *plan.RespondInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", in.Text)
	if c := in.Classification; c != nil {
		fmt.Fprintf(&b, "Classification: %s / %s\n", c.IncidentType, c.Urgency)
	}
	if in.Analysis != "" {
		fmt.Fprintf(&b, "\nAnalysis:\n%s\n", in.Analysis)
	}
	if len(in.Chunks) > 0 {
		b.WriteString("\nEvidence:\n")
		for _, ch := range in.Chunks {
			fmt.Fprintf(&b, "- (%s) %s\n", ch.SourceID, ch.Content)
		}
	}
	if len(in.Incidents) > 0 {
		b.WriteString("\nPast resolutions:\n")
		for _, inc := range in.Incidents {
			fmt.Fprintf(&b, "- %s: %s\n", inc.IncidentID, inc.Resolution)
		}
	}
	return b.String()
}

// heuristicResponse keeps confidence low enough that ungrounded answers
// reach the gate below the default threshold.
func heuristicResponse(in *plan.RespondInput) (string, float64) {
	if len(in.Chunks) > 0 {
		return fmt.Sprintf("Based on our documentation (%s): %s", in.Chunks[0].SourceID, in.Chunks[0].Content), 0.75
	}
	if len(in.Incidents) > 0 && in.Incidents[0].Resolution != "" {
		return fmt.Sprintf("A similar issue was previously resolved: %s", in.Incidents[0].Resolution), 0.7
	}
	return "We could not find documented guidance for this request.", 0.3
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
