package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
)

// defaultAdmission admits everything. Operators override it via the
// routing policy's admission field, e.g. to block named users or cap
// request length for unauthenticated sessions.
const defaultAdmission = `package caseflow.admission

deny contains msg if {
	false
	msg := "unreachable"
}
`

const admissionQuery = "data.caseflow.admission.deny"

// AdmissionDecision is the outcome of the pre-planning admission check.
// A denied request is never planned; the orchestrator routes it straight
// to the escalation path.
type AdmissionDecision struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

// AdmissionEngine evaluates the routing policy's admission rule with
// embedded OPA. The rego module is compiled once at construction.
type AdmissionEngine struct {
	prepared rego.PreparedEvalQuery
}

// NewAdmission compiles the admission rule from the routing policy,
// falling back to the allow-all default when the policy has none.
func NewAdmission(ctx context.Context, r *Routing) (*AdmissionEngine, error) {
	ctx, span := tracer.Start(ctx, "policy.admission.new")
	defer span.End()

	module := r.Admission
	if module == "" {
		module = defaultAdmission
	}

	prepared, err := rego.New(
		rego.Query(admissionQuery),
		rego.Module("admission.rego", module),
		rego.Store(inmem.New()),
		rego.SetRegoVersion(ast.RegoV1),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compiling admission rule: %w", err)
	}
	return &AdmissionEngine{prepared: prepared}, nil
}

// Evaluate runs the admission rule against one request. Any deny message
// produced by the rule blocks the request.
func (e *AdmissionEngine) Evaluate(ctx context.Context, input map[string]interface{}) (*AdmissionDecision, error) {
	ctx, span := tracer.Start(ctx, "policy.admission.evaluate")
	defer span.End()

	results, err := e.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating admission rule: %w", err)
	}

	decision := &AdmissionDecision{Allowed: true}
	for _, result := range results {
		for _, expr := range result.Expressions {
			msgs, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, m := range msgs {
				if s, ok := m.(string); ok {
					decision.Reasons = append(decision.Reasons, s)
				}
			}
		}
	}
	decision.Allowed = len(decision.Reasons) == 0

	span.SetAttributes(
		attribute.Bool("admission.allowed", decision.Allowed),
		attribute.Int("admission.reasons", len(decision.Reasons)),
	)
	return decision, nil
}
