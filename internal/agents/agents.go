// Package agents holds the built-in pipeline agents. Each is an
// agentclient.Func so standalone deployments run them in-process through
// the registry, and any of them can be swapped for a remote worker
// speaking the same payload contract.
package agents

import (
	"time"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	"github.com/caseflow-io/caseflow/internal/llm"
	"github.com/caseflow-io/caseflow/internal/memory"
	"github.com/caseflow-io/caseflow/internal/obslog"
	cfotel "github.com/caseflow-io/caseflow/internal/otel"
	"github.com/caseflow-io/caseflow/internal/plan"
	"github.com/caseflow-io/caseflow/internal/retrieval"
)

var tracer = cfotel.Tracer("github.com/caseflow-io/caseflow/internal/agents")

// Deps carries everything the built-in agents touch. Provider may be nil:
// the model-backed agents then fall back to their deterministic heuristics,
// which keeps air-gapped deployments and tests functional.
type Deps struct {
	Provider   llm.Provider
	Model      string
	Memory     *memory.Store
	Retriever  retrieval.Retriever
	ExecLog    *obslog.Log
	WorkingTTL time.Duration
}

// RegisterAll binds every built-in agent into the registry.
func RegisterAll(registry *agentclient.Registry, deps Deps) {
	registry.Register(plan.AgentNormalize, Normalizer())
	registry.Register(plan.AgentClassify, Classifier(deps.Provider, deps.Model))
	registry.Register(plan.AgentRetrieve, KnowledgeRetriever(deps.Retriever, deps.Memory))
	registry.Register(plan.AgentRecall, MemoryRecaller(deps.Memory))
	registry.Register(plan.AgentReason, Reasoner(deps.Provider, deps.Model))
	registry.Register(plan.AgentRespond, Synthesizer(deps.Provider, deps.Model))
	registry.Register(plan.AgentSafety, SafetyChecker())
	registry.Register(plan.AgentMemoryWrite, MemoryWriter(deps.Memory, deps.WorkingTTL))
	registry.Register(plan.AgentRecordExec, ExecutionRecorder(deps.ExecLog))
}
