// Package escalation decides, from the evidence a plan run produced,
// whether a request is answered automatically or handed to a human. The
// decision is a pure function of its inputs so the same evidence always
// yields the same outcome.
package escalation

import "time"

// Outcome of the gate.
const (
	OutcomeAutoRespond = "auto_respond"
	OutcomeEscalate    = "escalate"
)

// Escalation reasons, in the order the gate checks them. The first
// matching condition wins; a request failing several checks reports only
// the highest-precedence reason.
const (
	ReasonPipelineFailure = "pipeline_failure"
	ReasonPolicyDenied    = "policy_denied"
	ReasonSafetyViolation = "safety_violation"
	ReasonLowConfidence   = "low_confidence"
	ReasonNoGrounding     = "no_grounding"
)

// Evidence is everything the gate inspects. SafetyPassed must be false
// when the safety check never produced a verdict; absence of a verdict is
// a violation, not a pass.
type Evidence struct {
	PipelineFailed    bool
	PolicyDenied      bool
	SafetyPassed      bool
	Confidence        float64
	Grounded          bool
	RequiresGrounding bool
	EvidenceRefs      []string
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	Confidence   float64   `json:"confidence"`
	EvidenceRefs []string  `json:"evidence_refs,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// Escalated reports whether the decision hands the request to a human.
func (d Decision) Escalated() bool { return d.Outcome == OutcomeEscalate }

// Decide evaluates the decision table. Checks run in precedence order:
// pipeline failure, policy denial, safety violation, confidence below
// threshold, missing grounding where the category requires it. Only when
// every check passes does the request auto-respond.
func Decide(ev Evidence, threshold float64) Decision {
	d := Decision{
		Confidence:   ev.Confidence,
		EvidenceRefs: ev.EvidenceRefs,
		DecidedAt:    time.Now().UTC(),
	}

	switch {
	case ev.PipelineFailed:
		d.Outcome = OutcomeEscalate
		d.Reason = ReasonPipelineFailure
	case ev.PolicyDenied:
		d.Outcome = OutcomeEscalate
		d.Reason = ReasonPolicyDenied
	case !ev.SafetyPassed:
		d.Outcome = OutcomeEscalate
		d.Reason = ReasonSafetyViolation
	case ev.Confidence < threshold:
		d.Outcome = OutcomeEscalate
		d.Reason = ReasonLowConfidence
	case ev.RequiresGrounding && !ev.Grounded:
		d.Outcome = OutcomeEscalate
		d.Reason = ReasonNoGrounding
	default:
		d.Outcome = OutcomeAutoRespond
	}
	return d
}
