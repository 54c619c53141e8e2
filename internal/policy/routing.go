// Package policy defines the routing policy table the Execution Planner
// evaluates, plus the OPA admission rule checked before planning. The
// planner is a rule evaluator, not a free-form planner: given the same
// normalized request and the same policy table it always emits the same plan.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	cfotel "github.com/caseflow-io/caseflow/internal/otel"
)

var tracer = cfotel.Tracer("github.com/caseflow-io/caseflow/internal/policy")

// Incident categories, carried over from the intent classification contract.
const (
	CategoryPayment   = "Payment"
	CategoryAPI       = "API"
	CategoryDashboard = "Dashboard"
	CategoryAuth      = "Auth"
	CategoryNetwork   = "Network"
	CategoryOther     = "Other"
)

// CategoryRule controls planning for one incident category. Omitting a
// stage is an optimization, never a correctness requirement — the zero
// value keeps every stage.
type CategoryRule struct {
	SkipGather       bool `yaml:"skip_gather" json:"skip_gather"`
	SkipReason       bool `yaml:"skip_reason" json:"skip_reason"`
	RequireGrounding bool `yaml:"require_grounding" json:"require_grounding"`
}

// Retention controls the cron-driven pruning of the durable memory tiers.
// The working tier is deliberately absent: its expiry is evaluated lazily
// at read time, not by a sweep.
type Retention struct {
	EpisodicDays       int `yaml:"episodic_days" json:"episodic_days"`
	SemanticUnusedDays int `yaml:"semantic_unused_days" json:"semantic_unused_days"`
}

// Routing is the policy table consumed by the planner and the escalation
// gate. Loaded from YAML and schema-validated; a zero-config install runs
// on DefaultRouting.
type Routing struct {
	Version             string                  `yaml:"version" json:"version"`
	ConfidenceThreshold float64                 `yaml:"confidence_threshold" json:"confidence_threshold"`
	AgentTimeoutMS      int                     `yaml:"agent_timeout_ms" json:"agent_timeout_ms"`
	Categories          map[string]CategoryRule `yaml:"categories" json:"categories"`
	Retention           Retention               `yaml:"retention" json:"retention"`
	Admission           string                  `yaml:"admission" json:"admission"`
}

// DefaultRouting returns the safe default policy: every stage included for
// every category, 0.7 confidence threshold, grounding required for the
// knowledge-heavy categories.
func DefaultRouting() *Routing {
	return &Routing{
		Version:             "default",
		ConfidenceThreshold: 0.7,
		Categories: map[string]CategoryRule{
			CategoryPayment:   {RequireGrounding: true},
			CategoryAPI:       {RequireGrounding: true},
			CategoryDashboard: {},
			CategoryAuth:      {},
			CategoryNetwork:   {RequireGrounding: true},
			CategoryOther:     {},
		},
		Retention: Retention{EpisodicDays: 365, SemanticUnusedDays: 90},
	}
}

// Load reads, schema-validates, and defaults a routing policy file.
func Load(path string) (*Routing, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routing policy %s: %w", path, err)
	}
	return Parse(content)
}

// Parse validates and decodes routing policy YAML.
func Parse(content []byte) (*Routing, error) {
	if err := validateSchema(content); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var r Routing
	if err := yaml.Unmarshal(content, &r); err != nil {
		return nil, fmt.Errorf("parsing routing policy: %w", err)
	}
	r.applyDefaults()
	return &r, nil
}

func (r *Routing) applyDefaults() {
	if r.ConfidenceThreshold == 0 {
		r.ConfidenceThreshold = 0.7
	}
	if r.Categories == nil {
		r.Categories = DefaultRouting().Categories
	}
	if r.Retention.EpisodicDays == 0 {
		r.Retention.EpisodicDays = 365
	}
	if r.Retention.SemanticUnusedDays == 0 {
		r.Retention.SemanticUnusedDays = 90
	}
}

// Rule returns the category rule, falling back to the zero rule (all
// stages, no grounding requirement) for unknown categories.
func (r *Routing) Rule(category string) CategoryRule {
	if rule, ok := r.Categories[category]; ok {
		return rule
	}
	return CategoryRule{}
}

// AgentTimeout returns the per-invocation deadline from policy, or
// fallback when the policy does not set one.
func (r *Routing) AgentTimeout(fallback time.Duration) time.Duration {
	if r.AgentTimeoutMS > 0 {
		return time.Duration(r.AgentTimeoutMS) * time.Millisecond
	}
	return fallback
}
