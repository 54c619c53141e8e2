package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func passing() Evidence {
	return Evidence{
		SafetyPassed:      true,
		Confidence:        0.9,
		Grounded:          true,
		RequiresGrounding: true,
	}
}

func TestDecideAutoRespondWhenAllChecksPass(t *testing.T) {
	d := Decide(passing(), 0.7)
	assert.Equal(t, OutcomeAutoRespond, d.Outcome)
	assert.Empty(t, d.Reason)
	assert.False(t, d.Escalated())
	assert.Equal(t, 0.9, d.Confidence)
}

func TestDecideTable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Evidence)
		reason string
	}{
		{"pipeline failure", func(ev *Evidence) { ev.PipelineFailed = true }, ReasonPipelineFailure},
		{"policy denied", func(ev *Evidence) { ev.PolicyDenied = true }, ReasonPolicyDenied},
		{"safety violation", func(ev *Evidence) { ev.SafetyPassed = false }, ReasonSafetyViolation},
		{"low confidence", func(ev *Evidence) { ev.Confidence = 0.5 }, ReasonLowConfidence},
		{"no grounding", func(ev *Evidence) { ev.Grounded = false }, ReasonNoGrounding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := passing()
			tt.mutate(&ev)
			d := Decide(ev, 0.7)
			assert.Equal(t, OutcomeEscalate, d.Outcome)
			assert.Equal(t, tt.reason, d.Reason)
			assert.True(t, d.Escalated())
		})
	}
}

func TestDecidePrecedenceOrder(t *testing.T) {
	// All checks fail at once; the reported reason follows precedence as
	// conditions are peeled off one by one.
	ev := Evidence{
		PipelineFailed:    true,
		PolicyDenied:      true,
		SafetyPassed:      false,
		Confidence:        0.1,
		Grounded:          false,
		RequiresGrounding: true,
	}

	assert.Equal(t, ReasonPipelineFailure, Decide(ev, 0.7).Reason)
	ev.PipelineFailed = false
	assert.Equal(t, ReasonPolicyDenied, Decide(ev, 0.7).Reason)
	ev.PolicyDenied = false
	assert.Equal(t, ReasonSafetyViolation, Decide(ev, 0.7).Reason)
	ev.SafetyPassed = true
	assert.Equal(t, ReasonLowConfidence, Decide(ev, 0.7).Reason)
	ev.Confidence = 0.9
	assert.Equal(t, ReasonNoGrounding, Decide(ev, 0.7).Reason)
	ev.Grounded = true
	assert.Equal(t, OutcomeAutoRespond, Decide(ev, 0.7).Outcome)
}

func TestDecideConfidenceBoundary(t *testing.T) {
	ev := passing()
	ev.Confidence = 0.7
	assert.Equal(t, OutcomeAutoRespond, Decide(ev, 0.7).Outcome,
		"confidence equal to the threshold passes")

	ev.Confidence = 0.69999
	assert.Equal(t, ReasonLowConfidence, Decide(ev, 0.7).Reason)
}

func TestDecideGroundingOnlyWhenRequired(t *testing.T) {
	ev := passing()
	ev.Grounded = false
	ev.RequiresGrounding = false
	assert.Equal(t, OutcomeAutoRespond, Decide(ev, 0.7).Outcome,
		"ungrounded answers pass for categories that do not require grounding")
}

func TestDecideIsDeterministic(t *testing.T) {
	ev := passing()
	ev.Confidence = 0.3
	first := Decide(ev, 0.7)
	second := Decide(ev, 0.7)
	assert.Equal(t, first.Outcome, second.Outcome)
	assert.Equal(t, first.Reason, second.Reason)
}
