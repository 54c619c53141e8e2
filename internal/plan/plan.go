// Package plan defines the execution-plan model and the deterministic
// planner that assembles plans from a fixed catalogue of stage templates.
//
// A plan is a flat ordered list of stages, each stage a set of agent
// invocations dispatched concurrently. Stage N's input builders may consume
// only the outputs of stages < N, which makes the plan acyclic by
// construction — no cycle detection, no dependency graph.
package plan

import (
	"encoding/json"
	"fmt"
)

// Agent names used across the pipeline. These are the exact names the
// agent invocation boundary is addressed with.
const (
	AgentNormalize   = "normalizer"
	AgentClassify    = "intent_classifier"
	AgentRetrieve    = "knowledge_retriever"
	AgentRecall      = "memory_recaller"
	AgentReason      = "reasoner"
	AgentRespond     = "response_synthesizer"
	AgentSafety      = "safety_checker"
	AgentMemoryWrite = "memory_writer"
	AgentRecordExec  = "execution_recorder"
)

// Stage names from the fixed catalogue.
const (
	StageNormalize = "normalize"
	StageClassify  = "classify"
	StageGather    = "gather"
	StageReason    = "reason"
	StageRespond   = "respond"
	StageSafety    = "safety"
)

// Pseudo-output names the orchestrator injects into the result set after
// the gate decides, so async input builders can consume them like any
// other stage output.
const (
	OutputIncidentRecord = "incident_record"
	OutputExecutionLog   = "execution_log"
)

// Outputs is the read view async and later-stage input builders get over
// prior results. Absent outputs (failed or skipped invocations) return
// ok=false — an explicit absence, never a crash.
type Outputs interface {
	Get(agentName string) (json.RawMessage, bool)
}

// Invocation is one agent call within a stage. Required invocations turn a
// stage failure into a hard failure that short-circuits the rest of the
// synchronous plan.
type Invocation struct {
	AgentName  string
	Required   bool
	BuildInput func(prior Outputs) (json.RawMessage, error)
}

// Stage is a set of invocations executed concurrently as one
// synchronization unit. Members have no ordering guarantee among each
// other.
type Stage struct {
	Name        string
	Invocations []Invocation
}

// Plan is an ordered list of stages plus the asynchronous invocations
// dispatched after the synchronous stages complete and the user-visible
// response is finalized.
type Plan struct {
	Stages     []Stage
	AsyncTasks []Invocation
}

// Validate checks structural invariants: non-empty stages with unique
// names, and every invocation carrying an agent name and input builder.
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Stages))
	for _, st := range p.Stages {
		if st.Name == "" {
			return fmt.Errorf("stage with empty name")
		}
		if seen[st.Name] {
			return fmt.Errorf("duplicate stage %q", st.Name)
		}
		seen[st.Name] = true
		if len(st.Invocations) == 0 {
			return fmt.Errorf("stage %q has no invocations", st.Name)
		}
		for _, inv := range st.Invocations {
			if inv.AgentName == "" {
				return fmt.Errorf("stage %q has an invocation with no agent name", st.Name)
			}
			if inv.BuildInput == nil {
				return fmt.Errorf("stage %q invocation %s has no input builder", st.Name, inv.AgentName)
			}
		}
	}
	for _, inv := range p.AsyncTasks {
		if inv.AgentName == "" || inv.BuildInput == nil {
			return fmt.Errorf("async task missing agent name or input builder")
		}
	}
	return nil
}

// StageNames returns the ordered stage names, for logging and tests.
func (p *Plan) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i, st := range p.Stages {
		names[i] = st.Name
	}
	return names
}
