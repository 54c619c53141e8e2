package plan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow-io/caseflow/internal/policy"
)

type fakeOutputs map[string]json.RawMessage

func (f fakeOutputs) Get(name string) (json.RawMessage, bool) {
	raw, ok := f[name]
	return raw, ok
}

func TestPlanner_DefaultIncludesAllStages(t *testing.T) {
	p := NewPlanner(policy.DefaultRouting(), 5)
	out, err := p.Plan(NormalizedRequest{Text: "my refund is missing", UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, []string{StageClassify, StageGather, StageReason, StageRespond, StageSafety}, out.StageNames())
	require.Len(t, out.AsyncTasks, 2)
	assert.Equal(t, AgentMemoryWrite, out.AsyncTasks[0].AgentName)
	assert.Equal(t, AgentRecordExec, out.AsyncTasks[1].AgentName)
}

func TestPlanner_Deterministic(t *testing.T) {
	p := NewPlanner(policy.DefaultRouting(), 5)
	req := NormalizedRequest{Text: "api returns 500", Category: policy.CategoryAPI}

	first, err := p.Plan(req)
	require.NoError(t, err)
	second, err := p.Plan(req)
	require.NoError(t, err)
	assert.Equal(t, first.StageNames(), second.StageNames())
}

func TestPlanner_CategoryOmitsGather(t *testing.T) {
	routing := policy.DefaultRouting()
	routing.Categories[policy.CategoryAuth] = policy.CategoryRule{SkipGather: true, SkipReason: true}

	p := NewPlanner(routing, 5)
	out, err := p.Plan(NormalizedRequest{Text: "reset my password", Category: policy.CategoryAuth})
	require.NoError(t, err)

	assert.Equal(t, []string{StageClassify, StageRespond, StageSafety}, out.StageNames())
}

func TestPlanner_RequiredMarkers(t *testing.T) {
	p := NewPlanner(policy.DefaultRouting(), 5)
	out, err := p.Plan(NormalizedRequest{Text: "hello"})
	require.NoError(t, err)

	required := map[string]bool{}
	for _, st := range out.Stages {
		for _, inv := range st.Invocations {
			required[inv.AgentName] = inv.Required
		}
	}
	assert.True(t, required[AgentClassify], "classification is required")
	assert.True(t, required[AgentRespond], "synthesis is required")
	assert.False(t, required[AgentRetrieve], "retrieval may degrade")
	assert.False(t, required[AgentRecall], "recall may degrade")
	assert.False(t, required[AgentSafety], "safety check degrades fail-closed")
}

func TestPlanner_EmptyTextRejected(t *testing.T) {
	p := NewPlanner(policy.DefaultRouting(), 5)
	_, err := p.Plan(NormalizedRequest{})
	assert.Error(t, err)
}

func TestRespondBuilder_ConsumesPriorStages(t *testing.T) {
	p := NewPlanner(policy.DefaultRouting(), 3)
	out, err := p.Plan(NormalizedRequest{Text: "refund policy?"})
	require.NoError(t, err)

	classification, _ := json.Marshal(Classification{IncidentType: "Payment", Urgency: "P2"})
	retrieve, _ := json.Marshal(RetrieveOutput{Chunks: []RetrievedChunk{{Content: "refunds within 30 days", SourceID: "kb-1", RelevanceScore: 0.92}}})
	analysis, _ := json.Marshal(ReasonOutput{Analysis: "user wants refund policy"})
	prior := fakeOutputs{
		AgentClassify: classification,
		AgentRetrieve: retrieve,
		AgentReason:   analysis,
	}

	respond := out.Stages[3]
	require.Equal(t, StageRespond, respond.Name)
	raw, err := respond.Invocations[0].BuildInput(prior)
	require.NoError(t, err)

	var in RespondInput
	require.NoError(t, json.Unmarshal(raw, &in))
	assert.Equal(t, "refund policy?", in.Text)
	require.NotNil(t, in.Classification)
	assert.Equal(t, "Payment", in.Classification.IncidentType)
	require.Len(t, in.Chunks, 1)
	assert.Equal(t, "kb-1", in.Chunks[0].SourceID)
	assert.Equal(t, "user wants refund policy", in.Analysis)
	assert.Empty(t, in.Incidents, "absent recall output is an explicit absence")
}

func TestSafetyBuilder_RequiresRespondOutput(t *testing.T) {
	p := NewPlanner(policy.DefaultRouting(), 3)
	out, err := p.Plan(NormalizedRequest{Text: "hi"})
	require.NoError(t, err)

	safety := out.Stages[len(out.Stages)-1]
	require.Equal(t, StageSafety, safety.Name)

	_, err = safety.Invocations[0].BuildInput(fakeOutputs{})
	assert.Error(t, err, "no synthesized response to check")

	respond, _ := json.Marshal(RespondOutput{Response: "Refunds are processed within 30 days."})
	raw, err := safety.Invocations[0].BuildInput(fakeOutputs{AgentRespond: respond})
	require.NoError(t, err)
	var in SafetyInput
	require.NoError(t, json.Unmarshal(raw, &in))
	assert.Contains(t, in.Response, "30 days")
}

func TestNormalization_Plan(t *testing.T) {
	out := Normalization("  Hello <b>there</b>  ", "u1")
	require.Len(t, out.Stages, 1)
	assert.Equal(t, StageNormalize, out.Stages[0].Name)
	assert.True(t, out.Stages[0].Invocations[0].Required)
	require.NoError(t, out.Validate())
}

func TestValidate_CatchesStructuralDefects(t *testing.T) {
	bad := &Plan{Stages: []Stage{{Name: "a", Invocations: []Invocation{{AgentName: "x", BuildInput: func(Outputs) (json.RawMessage, error) { return nil, nil }}}}, {Name: "a", Invocations: []Invocation{{AgentName: "y", BuildInput: func(Outputs) (json.RawMessage, error) { return nil, nil }}}}}}
	assert.Error(t, bad.Validate(), "duplicate stage names")

	empty := &Plan{Stages: []Stage{{Name: "a"}}}
	assert.Error(t, empty.Validate())
}
