package plan

// Wire payloads for the pipeline agents. The engine treats every payload as
// opaque JSON at the invocation boundary; these types document the contract
// each built-in agent (and any remote replacement) speaks.

// NormalizeInput is the stage-1 payload: the raw inbound request text.
type NormalizeInput struct {
	Text   string `json:"text"`
	UserID string `json:"user_id,omitempty"`
}

// NormalizeOutput is the normalized request the planner consumes.
type NormalizeOutput struct {
	Text   string `json:"text"`
	UserID string `json:"user_id,omitempty"`
}

// ClassifyInput asks the intent classifier for a classification.
type ClassifyInput struct {
	Text string `json:"text"`
}

// Classification is the structured result of intent classification.
type Classification struct {
	IncidentType string `json:"incident_type"`
	Urgency      string `json:"urgency"`
	SLARisk      string `json:"sla_risk"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// RetrieveInput asks the knowledge retriever for ranked chunks.
type RetrieveInput struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// RetrievedChunk is one ranked knowledge-base hit.
type RetrievedChunk struct {
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
	SourceID       string  `json:"source_id"`
}

// RetrieveOutput is the knowledge retriever's reply.
type RetrieveOutput struct {
	Chunks []RetrievedChunk `json:"chunks"`
}

// RecallInput asks the memory recaller for similar past incidents.
type RecallInput struct {
	Query  string `json:"query"`
	UserID string `json:"user_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// RecalledIncident is one episodic-memory hit.
type RecalledIncident struct {
	IncidentID string   `json:"incident_id"`
	QueryText  string   `json:"query_text"`
	Resolution string   `json:"resolution"`
	Outcome    string   `json:"outcome"`
	Tags       []string `json:"tags,omitempty"`
}

// RecallOutput is the memory recaller's reply.
type RecallOutput struct {
	Incidents []RecalledIncident `json:"incidents"`
}

// ReasonInput hands the reasoner everything the gather stage produced.
// Absent gather outputs arrive as empty slices, never as an error.
type ReasonInput struct {
	Text           string             `json:"text"`
	Classification *Classification    `json:"classification,omitempty"`
	Chunks         []RetrievedChunk   `json:"chunks,omitempty"`
	Incidents      []RecalledIncident `json:"incidents,omitempty"`
}

// ReasonOutput is the reasoner's analysis.
type ReasonOutput struct {
	Analysis string `json:"analysis"`
}

// RespondInput asks the synthesizer for the user-facing response.
type RespondInput struct {
	Text           string             `json:"text"`
	Classification *Classification    `json:"classification,omitempty"`
	Analysis       string             `json:"analysis,omitempty"`
	Chunks         []RetrievedChunk   `json:"chunks,omitempty"`
	Incidents      []RecalledIncident `json:"incidents,omitempty"`
}

// RespondOutput carries the synthesized response plus the confidence and
// grounding signals the escalation gate consumes.
type RespondOutput struct {
	Response     string   `json:"response"`
	Confidence   float64  `json:"confidence"`
	Grounded     bool     `json:"grounded"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
}

// SafetyInput asks the safety checker to vet a synthesized response.
type SafetyInput struct {
	Response string `json:"response"`
}

// SafetyOutput reports the safety verdict and the redacted text to use
// when the verdict passed with modifications.
type SafetyOutput struct {
	Passed   bool     `json:"passed"`
	Redacted string   `json:"redacted"`
	Findings []string `json:"findings,omitempty"`
}

// MemoryWriteInput is the async episodic + working memory write performed
// after the gate reaches a terminal decision.
type MemoryWriteInput struct {
	IncidentID string   `json:"incident_id"`
	SessionID  string   `json:"session_id"`
	UserID     string   `json:"user_id,omitempty"`
	QueryText  string   `json:"query_text"`
	Resolution string   `json:"resolution"`
	Outcome    string   `json:"outcome"`
	Category   string   `json:"category,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// ExecutionRecord is one per-task observability record.
type ExecutionRecord struct {
	AgentName  string `json:"agent_name"`
	TaskID     string `json:"task_id"`
	DurationMS int64  `json:"duration_ms"`
	Outcome    string `json:"outcome"`
}

// RecordExecutionsInput is the async observability write.
type RecordExecutionsInput struct {
	SessionID string            `json:"session_id"`
	TraceID   string            `json:"trace_id"`
	Records   []ExecutionRecord `json:"records"`
}
