// Package orchestrator is the host that carries one support request from
// intake to a terminal outcome: admission, normalization, planning, plan
// execution, the escalation gate, case filing, and the async memory and
// observability writes.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/caseflow-io/caseflow/internal/escalation"
	"github.com/caseflow-io/caseflow/internal/executor"
	"github.com/caseflow-io/caseflow/internal/memory"
	cfotel "github.com/caseflow-io/caseflow/internal/otel"
	"github.com/caseflow-io/caseflow/internal/plan"
	"github.com/caseflow-io/caseflow/internal/policy"
	"github.com/caseflow-io/caseflow/internal/requestctx"
	"github.com/caseflow-io/caseflow/internal/ticket"
)

var tracer = cfotel.Tracer("internal/orchestrator")

// escalationAck is the user-visible reply for escalated requests. The
// synthesized response is never shown once the gate escalates.
const escalationAck = "Your request has been escalated and is being handled by a support specialist."

// blockedReply is shown when the pipeline could not produce a safe answer.
const blockedReply = "We were unable to process your request automatically. A support specialist will follow up."

// Request is one inbound support request.
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Text      string `json:"text"`
}

// Response is the terminal outcome handed back to the caller. AsyncDone is
// closed when the fire-and-forget writes for this request have finished;
// callers that do not care may ignore it.
type Response struct {
	SessionID  string  `json:"session_id"`
	TraceID    string  `json:"trace_id"`
	Outcome    string  `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
	Reply      string  `json:"reply"`
	Confidence float64 `json:"confidence"`
	CaseID     string  `json:"case_id,omitempty"`
	Degraded   bool    `json:"degraded,omitempty"`

	AsyncDone <-chan struct{} `json:"-"`
}

// SessionReader reads back session-scoped working memory.
type SessionReader interface {
	ReadWorking(ctx context.Context, sessionID, key string) (json.RawMessage, error)
}

// Orchestrator wires the engine together. It holds no per-request state;
// every request gets its own context and plan.
type Orchestrator struct {
	routing   *policy.Routing
	admission *policy.AdmissionEngine
	planner   *plan.Planner
	exec      *executor.Executor
	cases     ticket.Creator
	sessions  SessionReader
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithSessionMemory lets the planner see the session's cached category
// from the previous request, so category rules that omit stages apply to
// follow-up requests.
func WithSessionMemory(r SessionReader) Option {
	return func(o *Orchestrator) { o.sessions = r }
}

// New assembles an orchestrator. cases may be nil when no case store is
// configured; escalations are then logged but not filed.
func New(routing *policy.Routing, admission *policy.AdmissionEngine, planner *plan.Planner, exec *executor.Executor, cases ticket.Creator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		routing:   routing,
		admission: admission,
		planner:   planner,
		exec:      exec,
		cases:     cases,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle carries one request end to end. The returned Response is always
// terminal; errors are reserved for requests that could not even be
// contextualized, not for pipeline degradation.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("request has no text")
	}

	rc := requestctx.New(req.SessionID, req.UserID)
	ctx = requestctx.Set(ctx, rc)
	ctx, span := tracer.Start(ctx, "orchestrator.handle", oteltrace.WithAttributes(
		attribute.String("session_id", rc.SessionID),
		attribute.String("trace_id", rc.TraceID),
	))
	defer span.End()
	start := time.Now()
	recordRequest(ctx)

	// Admission runs before anything is planned. Evaluation errors fail
	// closed: a rule we cannot evaluate admits nobody.
	denied, denyReasons := o.checkAdmission(ctx, rc, req)
	if denied {
		return o.finishDenied(ctx, rc, req, denyReasons), nil
	}

	// Stage 1 runs as its own single-stage plan so the planner sees
	// sanitized text. A normalize failure means the text was rejected or
	// the agent is down; either way nothing downstream may run.
	preRes := o.exec.Run(ctx, plan.Normalization(req.Text, req.UserID), rc)
	norm, ok := normalizedFrom(preRes)
	if !ok {
		return o.finishFailed(ctx, rc, req, preRes), nil
	}

	p, err := o.planner.Plan(plan.NormalizedRequest{
		Text:      norm.Text,
		UserID:    norm.UserID,
		SessionID: rc.SessionID,
		Category:  o.categoryHint(ctx, rc.SessionID),
	})
	if err != nil {
		return nil, fmt.Errorf("planning request: %w", err)
	}

	res := o.exec.Run(ctx, p, rc)

	classification := decodeClassification(res)
	ev := o.assembleEvidence(res, classification)
	decision := escalation.Decide(ev, o.routing.ConfidenceThreshold)

	resp := &Response{
		SessionID:  rc.SessionID,
		TraceID:    rc.TraceID,
		Outcome:    decision.Outcome,
		Reason:     decision.Reason,
		Confidence: decision.Confidence,
		Degraded:   res.Degraded(),
	}

	if decision.Escalated() {
		resp.CaseID = o.fileCase(ctx, rc, norm.Text, decision.Reason, classification)
		resp.Reply = escalationAck
		recordEscalation(ctx, decision.Reason)
	} else {
		resp.Reply = safeReply(res)
	}

	o.injectAsyncInputs(res, preRes, rc, norm.Text, resp.Reply, decision, classification)
	resp.AsyncDone = o.exec.DispatchAsync(ctx, p, res)

	log.Info().
		Str("session_id", rc.SessionID).
		Str("trace_id", rc.TraceID).
		Str("outcome", decision.Outcome).
		Str("reason", decision.Reason).
		Float64("confidence", decision.Confidence).
		Bool("degraded", resp.Degraded).
		Dur("elapsed", time.Since(start)).
		Msg("request_handled")
	return resp, nil
}

func (o *Orchestrator) checkAdmission(ctx context.Context, rc requestctx.Context, req Request) (denied bool, reasons []string) {
	if o.admission == nil {
		return false, nil
	}
	decision, err := o.admission.Evaluate(ctx, map[string]interface{}{
		"session_id":  rc.SessionID,
		"user_id":     rc.UserID,
		"text":        req.Text,
		"text_length": len(req.Text),
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", rc.SessionID).Msg("admission_evaluation_failed")
		return true, []string{"admission rule could not be evaluated"}
	}
	if !decision.Allowed {
		return true, decision.Reasons
	}
	return false, nil
}

// finishDenied terminates an inadmissible request: no plan runs, the gate
// sees only the denial, and the incident is still filed for the record.
func (o *Orchestrator) finishDenied(ctx context.Context, rc requestctx.Context, req Request, reasons []string) *Response {
	decision := escalation.Decide(escalation.Evidence{PolicyDenied: true}, o.routing.ConfidenceThreshold)
	recordEscalation(ctx, decision.Reason)

	caseID := o.fileCase(ctx, rc, req.Text, decision.Reason, nil)
	log.Warn().
		Str("session_id", rc.SessionID).
		Strs("deny_reasons", reasons).
		Str("case_id", caseID).
		Msg("request_denied")

	return o.finishOutOfBand(ctx, rc, req.Text, decision, caseID, nil)
}

// finishFailed terminates a request whose normalization hard-failed.
func (o *Orchestrator) finishFailed(ctx context.Context, rc requestctx.Context, req Request, preRes *executor.Results) *Response {
	decision := escalation.Decide(escalation.Evidence{PipelineFailed: true}, o.routing.ConfidenceThreshold)
	recordEscalation(ctx, decision.Reason)

	caseID := o.fileCase(ctx, rc, req.Text, decision.Reason, nil)
	resp := o.finishOutOfBand(ctx, rc, req.Text, decision, caseID, preRes)
	resp.Degraded = true
	return resp
}

// finishOutOfBand runs the async tasks for a request that never executed
// the main plan, so denied and failed requests still land in episodic
// memory and the execution log.
func (o *Orchestrator) finishOutOfBand(ctx context.Context, rc requestctx.Context, text string, decision escalation.Decision, caseID string, preRes *executor.Results) *Response {
	res := o.exec.Run(ctx, &plan.Plan{}, rc)
	o.injectAsyncInputs(res, preRes, rc, text, blockedReply, decision, nil)
	done := o.exec.DispatchAsync(ctx, asyncOnlyPlan(), res)

	return &Response{
		SessionID: rc.SessionID,
		TraceID:   rc.TraceID,
		Outcome:   decision.Outcome,
		Reason:    decision.Reason,
		Reply:     blockedReply,
		CaseID:    caseID,
		AsyncDone: done,
	}
}

// categoryHint returns the category cached by the session's previous
// request, empty when nothing usable is stored. Only stage omission keys
// off the hint; the classifier still runs and its output drives the gate.
func (o *Orchestrator) categoryHint(ctx context.Context, sessionID string) string {
	if o.sessions == nil {
		return ""
	}
	raw, err := o.sessions.ReadWorking(ctx, sessionID, memory.WorkingKeyLastIncident)
	if err != nil {
		return ""
	}
	var last memory.LastIncident
	if err := json.Unmarshal(raw, &last); err != nil {
		return ""
	}
	return last.Category
}

// assembleEvidence reduces the run's outputs to what the gate inspects.
// Absent verdicts are failures: no safety output means not passed.
func (o *Orchestrator) assembleEvidence(res *executor.Results, classification *plan.Classification) escalation.Evidence {
	ev := escalation.Evidence{
		PipelineFailed: res.HardFailure != nil,
	}
	if classification != nil {
		ev.RequiresGrounding = o.routing.Rule(classification.IncidentType).RequireGrounding
	}
	if raw, ok := res.Get(plan.AgentRespond); ok {
		var r plan.RespondOutput
		if err := json.Unmarshal(raw, &r); err == nil {
			ev.Confidence = r.Confidence
			ev.Grounded = r.Grounded
			ev.EvidenceRefs = r.EvidenceRefs
		}
	}
	if raw, ok := res.Get(plan.AgentSafety); ok {
		var s plan.SafetyOutput
		if err := json.Unmarshal(raw, &s); err == nil {
			ev.SafetyPassed = s.Passed
		}
	}
	return ev
}

// fileCase files exactly one case for an escalated request. Filing errors
// degrade to a log line; the user still gets the escalation ack.
func (o *Orchestrator) fileCase(ctx context.Context, rc requestctx.Context, text, reason string, classification *plan.Classification) string {
	if o.cases == nil {
		return ""
	}
	c := &ticket.Case{
		SessionID: rc.SessionID,
		TraceID:   rc.TraceID,
		UserID:    rc.UserID,
		QueryText: text,
		Reason:    reason,
	}
	if classification != nil {
		c.Priority = classification.Urgency
	}
	if err := o.cases.Create(ctx, c); err != nil {
		log.Error().Err(err).Str("session_id", rc.SessionID).Msg("case_filing_failed")
		return ""
	}
	log.Info().
		Str("case_id", c.CaseID).
		Str("session_id", rc.SessionID).
		Str("reason", reason).
		Str("priority", c.Priority).
		Msg("case_filed")
	recordCaseFiled(ctx)
	return c.CaseID
}

// injectAsyncInputs builds the incident record and execution log payloads
// and places them where the async input builders look. preRes carries the
// normalization pre-plan tasks; nil when that plan never ran.
func (o *Orchestrator) injectAsyncInputs(res, preRes *executor.Results, rc requestctx.Context, text, reply string, decision escalation.Decision, classification *plan.Classification) {
	incident := plan.MemoryWriteInput{
		IncidentID: "inc_" + uuid.New().String()[:12],
		SessionID:  rc.SessionID,
		UserID:     rc.UserID,
		QueryText:  text,
		Resolution: reply,
		Outcome:    incidentOutcome(decision),
	}
	if classification != nil {
		incident.Category = classification.IncidentType
		incident.Tags = append(incident.Tags, classification.IncidentType, classification.Urgency)
	}
	if decision.Reason != "" {
		incident.Tags = append(incident.Tags, decision.Reason)
	}
	if raw, err := json.Marshal(incident); err == nil {
		res.Put(plan.OutputIncidentRecord, raw)
	}

	var records []plan.ExecutionRecord
	if preRes != nil {
		records = appendTaskRecords(records, preRes)
	}
	records = appendTaskRecords(records, res)
	execLog := plan.RecordExecutionsInput{
		SessionID: rc.SessionID,
		TraceID:   rc.TraceID,
		Records:   records,
	}
	if raw, err := json.Marshal(execLog); err == nil {
		res.Put(plan.OutputExecutionLog, raw)
	}
}

// incidentOutcome maps the gate decision to the episodic outcome. A
// pipeline failure has no known resolution path yet, so it stays pending
// rather than escalated.
func incidentOutcome(decision escalation.Decision) string {
	switch {
	case !decision.Escalated():
		return memory.OutcomeResolved
	case decision.Reason == escalation.ReasonPipelineFailure:
		return memory.OutcomePending
	default:
		return memory.OutcomeEscalated
	}
}

func appendTaskRecords(records []plan.ExecutionRecord, res *executor.Results) []plan.ExecutionRecord {
	for _, task := range res.Tasks() {
		records = append(records, plan.ExecutionRecord{
			AgentName:  task.AgentName,
			TaskID:     task.TaskID,
			DurationMS: task.Duration.Milliseconds(),
			Outcome:    string(task.Status),
		})
	}
	return records
}

// safeReply returns the vetted response text for an auto-responded
// request: always the safety checker's redacted form, never the raw
// synthesizer output.
func safeReply(res *executor.Results) string {
	if raw, ok := res.Get(plan.AgentSafety); ok {
		var s plan.SafetyOutput
		if err := json.Unmarshal(raw, &s); err == nil && s.Passed {
			return s.Redacted
		}
	}
	return blockedReply
}

func decodeClassification(res *executor.Results) *plan.Classification {
	raw, ok := res.Get(plan.AgentClassify)
	if !ok {
		return nil
	}
	var c plan.Classification
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	return &c
}

func normalizedFrom(res *executor.Results) (plan.NormalizeOutput, bool) {
	var norm plan.NormalizeOutput
	raw, ok := res.Get(plan.AgentNormalize)
	if !ok {
		return norm, false
	}
	if err := json.Unmarshal(raw, &norm); err != nil || norm.Text == "" {
		return norm, false
	}
	return norm, true
}

func asyncOnlyPlan() *plan.Plan {
	return &plan.Plan{AsyncTasks: []plan.Invocation{
		{AgentName: plan.AgentMemoryWrite, BuildInput: consumeOutput(plan.OutputIncidentRecord)},
		{AgentName: plan.AgentRecordExec, BuildInput: consumeOutput(plan.OutputExecutionLog)},
	}}
}

func consumeOutput(name string) func(plan.Outputs) (json.RawMessage, error) {
	return func(prior plan.Outputs) (json.RawMessage, error) {
		raw, ok := prior.Get(name)
		if !ok {
			return nil, fmt.Errorf("no %s output present", name)
		}
		return raw, nil
	}
}
