// Package llm abstracts the completion backends the pipeline agents call:
// OpenAI-compatible APIs for hosted deployments and Ollama for local ones.
package llm

import (
	"context"
	"errors"
	"time"

	cfotel "github.com/caseflow-io/caseflow/internal/otel"
)

var tracer = cfotel.Tracer("github.com/caseflow-io/caseflow/internal/llm")

// TimeoutLLMCall bounds every completion call.
const TimeoutLLMCall = 60 * time.Second

// ErrProviderNotAvailable is returned when no provider is configured for
// the requested backend.
var ErrProviderNotAvailable = errors.New("provider not available")

// Provider is a completion backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request is one completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSONMode asks the backend for a JSON-object response where supported.
	JSONMode bool
}

// Message is one chat message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response is one completion response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
