package plan

import (
	"encoding/json"
	"fmt"

	"github.com/caseflow-io/caseflow/internal/policy"
)

// NormalizedRequest is what the planner sees after stage 1: sanitized text
// plus any category hint already available, typically the session's cached
// classification from its previous request. The hint selects the category
// rule; classification proper still runs as the plan's first stage.
type NormalizedRequest struct {
	Text      string
	UserID    string
	SessionID string
	Category  string
}

// Planner assembles execution plans from the fixed stage catalogue and the
// routing policy table. Same request, same policy, same plan.
type Planner struct {
	routing *policy.Routing
	topK    int
}

// NewPlanner creates a planner over the given routing policy. topK bounds
// the gather stage's retrieval fan-out.
func NewPlanner(routing *policy.Routing, topK int) *Planner {
	if topK <= 0 {
		topK = 5
	}
	return &Planner{routing: routing, topK: topK}
}

// Normalization returns the stage-1 plan run before planning proper: a
// single required normalize invocation.
func Normalization(text, userID string) *Plan {
	input, _ := json.Marshal(NormalizeInput{Text: text, UserID: userID})
	return &Plan{
		Stages: []Stage{{
			Name: StageNormalize,
			Invocations: []Invocation{{
				AgentName:  AgentNormalize,
				Required:   true,
				BuildInput: func(Outputs) (json.RawMessage, error) { return input, nil },
			}},
		}},
	}
}

// Plan builds the synchronous stages and async tasks for a normalized
// request. The category rule may omit gather or reason; the default policy
// includes every stage — omission is an optimization, not a correctness
// requirement.
func (p *Planner) Plan(req NormalizedRequest) (*Plan, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("planning: normalized request has no text")
	}
	rule := p.routing.Rule(req.Category)

	stages := []Stage{p.classifyStage(req)}
	if !rule.SkipGather {
		stages = append(stages, p.gatherStage(req))
	}
	if !rule.SkipReason {
		stages = append(stages, p.reasonStage(req))
	}
	stages = append(stages, p.respondStage(req), p.safetyStage())

	out := &Plan{
		Stages: stages,
		AsyncTasks: []Invocation{
			{AgentName: AgentMemoryWrite, BuildInput: passthrough(OutputIncidentRecord)},
			{AgentName: AgentRecordExec, BuildInput: passthrough(OutputExecutionLog)},
		},
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	return out, nil
}

func (p *Planner) classifyStage(req NormalizedRequest) Stage {
	input, _ := json.Marshal(ClassifyInput{Text: req.Text})
	return Stage{
		Name: StageClassify,
		Invocations: []Invocation{{
			AgentName:  AgentClassify,
			Required:   true,
			BuildInput: func(Outputs) (json.RawMessage, error) { return input, nil },
		}},
	}
}

// gatherStage emits retrieval and memory recall together in one stage —
// the designed concurrency point: the two most latency-heavy, independent
// reads.
func (p *Planner) gatherStage(req NormalizedRequest) Stage {
	retrieveInput, _ := json.Marshal(RetrieveInput{Query: req.Text, TopK: p.topK})
	recallInput, _ := json.Marshal(RecallInput{Query: req.Text, UserID: req.UserID, Limit: p.topK})
	return Stage{
		Name: StageGather,
		Invocations: []Invocation{
			{
				AgentName:  AgentRetrieve,
				BuildInput: func(Outputs) (json.RawMessage, error) { return retrieveInput, nil },
			},
			{
				AgentName:  AgentRecall,
				BuildInput: func(Outputs) (json.RawMessage, error) { return recallInput, nil },
			},
		},
	}
}

func (p *Planner) reasonStage(req NormalizedRequest) Stage {
	return Stage{
		Name: StageReason,
		Invocations: []Invocation{{
			AgentName: AgentReason,
			BuildInput: func(prior Outputs) (json.RawMessage, error) {
				in := ReasonInput{Text: req.Text}
				in.Classification = decodeClassification(prior)
				in.Chunks = decodeChunks(prior)
				in.Incidents = decodeIncidents(prior)
				return json.Marshal(in)
			},
		}},
	}
}

func (p *Planner) respondStage(req NormalizedRequest) Stage {
	return Stage{
		Name: StageRespond,
		Invocations: []Invocation{{
			AgentName: AgentRespond,
			Required:  true,
			BuildInput: func(prior Outputs) (json.RawMessage, error) {
				in := RespondInput{Text: req.Text}
				in.Classification = decodeClassification(prior)
				in.Chunks = decodeChunks(prior)
				in.Incidents = decodeIncidents(prior)
				if raw, ok := prior.Get(AgentReason); ok {
					var r ReasonOutput
					if err := json.Unmarshal(raw, &r); err == nil {
						in.Analysis = r.Analysis
					}
				}
				return json.Marshal(in)
			},
		}},
	}
}

// safetyStage vets the synthesized response. It is not marked required:
// when the check itself fails the evidence assembly treats the verdict as
// fail-closed rather than aborting the run.
func (p *Planner) safetyStage() Stage {
	return Stage{
		Name: StageSafety,
		Invocations: []Invocation{{
			AgentName: AgentSafety,
			BuildInput: func(prior Outputs) (json.RawMessage, error) {
				raw, ok := prior.Get(AgentRespond)
				if !ok {
					return nil, fmt.Errorf("no synthesized response to check")
				}
				var r RespondOutput
				if err := json.Unmarshal(raw, &r); err != nil {
					return nil, fmt.Errorf("decoding synthesized response: %w", err)
				}
				return json.Marshal(SafetyInput{Response: r.Response})
			},
		}},
	}
}

// passthrough forwards an orchestrator-injected pseudo-output as the async
// task's input. Absence is an error so the executor logs and skips.
func passthrough(name string) func(Outputs) (json.RawMessage, error) {
	return func(prior Outputs) (json.RawMessage, error) {
		raw, ok := prior.Get(name)
		if !ok {
			return nil, fmt.Errorf("no %s output present", name)
		}
		return raw, nil
	}
}

func decodeClassification(prior Outputs) *Classification {
	raw, ok := prior.Get(AgentClassify)
	if !ok {
		return nil
	}
	var c Classification
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	return &c
}

func decodeChunks(prior Outputs) []RetrievedChunk {
	raw, ok := prior.Get(AgentRetrieve)
	if !ok {
		return nil
	}
	var r RetrieveOutput
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	return r.Chunks
}

func decodeIncidents(prior Outputs) []RecalledIncident {
	raw, ok := prior.Get(AgentRecall)
	if !ok {
		return nil
	}
	var r RecallOutput
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	return r.Incidents
}
