package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	cfotel "github.com/caseflow-io/caseflow/internal/otel"
	"github.com/caseflow-io/caseflow/internal/requestctx"
)

var tracer = cfotel.Tracer("github.com/caseflow-io/caseflow/internal/agentclient")

// wireRequest is the only interface the engine requires of every remote
// agent, regardless of what the agent internally does.
type wireRequest struct {
	AgentName string          `json:"agent_name"`
	TaskInput json.RawMessage `json:"task_input"`
	Context   wireContext     `json:"context"`
}

type wireContext struct {
	SessionID string `json:"session_id"`
	TraceID   string `json:"trace_id"`
}

type wireResponse struct {
	Status Status          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  *wireError      `json:"error"`
}

type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// HTTPClient invokes remote agents over JSON POST. Each agent name maps to
// a base URL; the request/response shape is the agent invocation boundary
// and must stay bit-exact for interoperability.
type HTTPClient struct {
	endpoints map[string]string
	client    *http.Client
	authToken string
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPDoer overrides the underlying http.Client (tests, custom transports).
func WithHTTPDoer(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.client = c }
}

// WithAuthToken sets a bearer token sent on every invocation.
func WithAuthToken(token string) HTTPOption {
	return func(h *HTTPClient) { h.authToken = token }
}

// NewHTTPClient creates a client for the given agent-name → base-URL map.
func NewHTTPClient(endpoints map[string]string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		endpoints: endpoints,
		client:    &http.Client{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Invoke posts the task to the named agent and maps the reply onto a
// terminal TaskResult. Exceeding the deadline yields Timeout; transport
// errors and 5xx replies are transient; 4xx replies are permanent.
func (h *HTTPClient) Invoke(ctx context.Context, agentName string, input json.RawMessage, timeout time.Duration) TaskResult {
	ctx, span := tracer.Start(ctx, "agentclient.invoke",
		trace.WithAttributes(
			attribute.String("agent_id", agentName),
			attribute.Int64("timeout_ms", timeout.Milliseconds()),
		))
	defer span.End()

	endpoint, ok := h.endpoints[agentName]
	if !ok {
		return Fail(KindPermanent, fmt.Sprintf("no endpoint configured for agent %q", agentName))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wctx wireContext
	if rc, ok := requestctx.From(ctx); ok {
		wctx = wireContext{SessionID: rc.SessionID, TraceID: rc.TraceID}
	}
	body, err := json.Marshal(wireRequest{AgentName: agentName, TaskInput: input, Context: wctx})
	if err != nil {
		return Fail(KindPermanent, fmt.Sprintf("encoding task: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Fail(KindPermanent, fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if h.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.authToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return TimedOut(fmt.Sprintf("agent %s exceeded %s deadline", agentName, timeout))
		}
		if errors.Is(err, context.Canceled) {
			return Fail(KindPermanent, fmt.Sprintf("agent %s invocation cancelled", agentName))
		}
		return Fail(KindTransient, fmt.Sprintf("calling agent %s: %v", agentName, err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 500:
		return Fail(KindTransient, fmt.Sprintf("agent %s returned %d", agentName, resp.StatusCode))
	case resp.StatusCode >= 400:
		return Fail(KindPermanent, fmt.Sprintf("agent %s returned %d", agentName, resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return TimedOut(fmt.Sprintf("agent %s exceeded %s deadline", agentName, timeout))
		}
		return Fail(KindTransient, fmt.Sprintf("reading agent %s reply: %v", agentName, err))
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return Fail(KindInvalidResponse, fmt.Sprintf("decoding agent %s reply: %v", agentName, err))
	}

	switch wr.Status {
	case StatusSucceeded:
		return Succeed(wr.Output)
	case StatusTimedOut:
		return TimedOut(wireMessage(wr.Error))
	case StatusFailed:
		kind := KindPermanent
		if wr.Error != nil && FailureKind(wr.Error.Kind) == KindTransient {
			kind = KindTransient
		}
		return Fail(kind, wireMessage(wr.Error))
	default:
		return Fail(KindInvalidResponse, fmt.Sprintf("agent %s replied with status %q", agentName, wr.Status))
	}
}

func wireMessage(e *wireError) string {
	if e == nil {
		return "agent reported failure"
	}
	return e.Message
}
