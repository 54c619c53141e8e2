// Package agentclient turns "call a named remote capability" into a
// bounded-time, well-typed outcome. The client owns exactly that concern:
// it knows nothing about plans or stages, never retries, and mutates no
// state beyond the Task it is handed. Retry policy belongs to the caller,
// because only the caller knows whether a retry is meaningful for a stage.
package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Task. A task is terminal once its
// status leaves StatusRunning; it is never reused — a retry creates a new
// Task referencing the original via RetryOf.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// FailureKind classifies a failed invocation for retry and observability
// decisions.
type FailureKind string

const (
	// KindTransient marks failures plausibly worth one re-dispatch
	// (connection refused, remote overload, 5xx).
	KindTransient FailureKind = "transient_call_failure"
	// KindPermanent marks failures a retry cannot fix (unknown agent,
	// 4xx, malformed input).
	KindPermanent FailureKind = "permanent_call_failure"
	// KindInvalidResponse marks a reply that arrived but could not be
	// decoded against the agent wire contract.
	KindInvalidResponse FailureKind = "invalid_response"
)

// TaskResult is the discriminated outcome of one invocation: success with
// an opaque output, failure with a kind and message, or timeout. Timeout is
// treated like failure for aggregation but carries a distinct status for
// observability.
type TaskResult struct {
	Status  Status          `json:"status"`
	Output  json.RawMessage `json:"output,omitempty"`
	Kind    FailureKind     `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Succeed builds a success result.
func Succeed(output json.RawMessage) TaskResult {
	return TaskResult{Status: StatusSucceeded, Output: output}
}

// Fail builds a failure result.
func Fail(kind FailureKind, message string) TaskResult {
	return TaskResult{Status: StatusFailed, Kind: kind, Message: message}
}

// TimedOut builds a timeout result.
func TimedOut(message string) TaskResult {
	return TaskResult{Status: StatusTimedOut, Message: message}
}

// Succeeded reports whether the invocation produced an output.
func (r TaskResult) Succeeded() bool { return r.Status == StatusSucceeded }

// Retryable reports whether the caller may re-dispatch once. Timeouts are
// never retried so total latency stays bounded.
func (r TaskResult) Retryable() bool {
	return r.Status == StatusFailed && r.Kind == KindTransient
}

// Task is one quantum of work handed to an agent. The executor creates it
// immediately before dispatch; only the client handling that dispatch
// mutates it; it is terminal once status leaves running.
type Task struct {
	TaskID      string          `json:"task_id"`
	AgentName   string          `json:"agent_name"`
	Input       json.RawMessage `json:"input"`
	Status      Status          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryOf     string          `json:"retry_of,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration"`
}

// NewTask creates a pending task for one dispatch.
func NewTask(agentName string, input json.RawMessage) *Task {
	return &Task{
		TaskID:    "task_" + uuid.New().String()[:12],
		AgentName: agentName,
		Input:     input,
		Status:    StatusPending,
	}
}

// Begin marks the task running and stamps the start time.
func (t *Task) Begin() {
	t.Status = StatusRunning
	t.StartedAt = time.Now().UTC()
}

// Complete folds a terminal result into the task and stamps duration.
func (t *Task) Complete(r TaskResult) {
	t.Status = r.Status
	t.Output = r.Output
	t.Error = r.Message
	t.CompletedAt = time.Now().UTC()
	if !t.StartedAt.IsZero() {
		t.Duration = t.CompletedAt.Sub(t.StartedAt)
	}
}

// Client invokes a named remote capability with a task payload. Timeout is
// mandatory and caller-supplied — there are no infinite waits. Completion is
// signaled, not polled: Invoke returns only a terminal result.
type Client interface {
	Invoke(ctx context.Context, agentName string, input json.RawMessage, timeout time.Duration) TaskResult
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so IsTransient reports true. Agent handlers use
// it to signal that a caller-side retry may succeed.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked
// transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
