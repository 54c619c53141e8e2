package executor

import (
	"encoding/json"
	"sync"

	"github.com/caseflow-io/caseflow/internal/agentclient"
)

// StageFailure records the required invocation that turned a stage into a
// hard failure.
type StageFailure struct {
	Stage     string
	AgentName string
	Result    agentclient.TaskResult
}

// Results aggregates, per stage, the terminal TaskResults keyed by agent
// name, plus the merged output map later stages and async builders read.
// A missing output is an explicit absence (ok=false), never a crash.
type Results struct {
	mu       sync.Mutex
	outputs  map[string]json.RawMessage
	byStage  map[string]map[string]agentclient.TaskResult
	tasks    []agentclient.Task
	stageSeq []string

	Completed   bool
	HardFailure *StageFailure
}

func newResults() *Results {
	return &Results{
		outputs: make(map[string]json.RawMessage),
		byStage: make(map[string]map[string]agentclient.TaskResult),
	}
}

// Get returns the merged output for an agent. Implements plan.Outputs.
func (r *Results) Get(agentName string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.outputs[agentName]
	return raw, ok
}

// Put injects a pseudo-output (e.g. the gate decision) so async input
// builders can consume it like any stage output. Used by the orchestrator
// after the response is finalized.
func (r *Results) Put(name string, output json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = output
}

// StageResult returns the terminal result of one invocation within a stage.
func (r *Results) StageResult(stage, agentName string) (agentclient.TaskResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stageResults, ok := r.byStage[stage]
	if !ok {
		return agentclient.TaskResult{}, false
	}
	result, ok := stageResults[agentName]
	return result, ok
}

// Stages returns the names of stages that ran, in order.
func (r *Results) Stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.stageSeq))
	copy(out, r.stageSeq)
	return out
}

// Tasks returns every task dispatched during the run, retries included.
func (r *Results) Tasks() []agentclient.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agentclient.Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// Degraded reports whether any invocation in any stage failed or timed out
// without causing a hard failure.
func (r *Results) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stage := range r.byStage {
		for _, result := range stage {
			if !result.Succeeded() {
				return true
			}
		}
	}
	return false
}

func (r *Results) recordStage(name string, stageResults map[string]agentclient.TaskResult, tasks []agentclient.Task, merge bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageSeq = append(r.stageSeq, name)
	r.byStage[name] = stageResults
	r.tasks = append(r.tasks, tasks...)
	if !merge {
		return
	}
	for agentName, result := range stageResults {
		if result.Succeeded() {
			r.outputs[agentName] = result.Output
		}
	}
}
