package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Func is an in-process agent handler. Returning an error wrapped with
// MarkTransient yields a transient failure; any other error is permanent.
type Func func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Registry is a Client backed by in-process handlers. It serves standalone
// mode (all agents local) and tests; the invocation contract is identical
// to the HTTP client: terminal result or timeout, nothing else.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Func)}
}

// Register binds an agent name to a handler, replacing any previous binding.
func (r *Registry) Register(agentName string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[agentName] = fn
}

// Names returns the registered agent names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Invoke runs the named handler under the caller's deadline. The handler
// keeps running if the deadline fires (its context is cancelled, results
// discarded) — the caller never blocks past the timeout.
func (r *Registry) Invoke(ctx context.Context, agentName string, input json.RawMessage, timeout time.Duration) TaskResult {
	ctx, span := tracer.Start(ctx, "agentclient.invoke_local",
		trace.WithAttributes(attribute.String("agent_id", agentName)))
	defer span.End()

	r.mu.RLock()
	fn, ok := r.handlers[agentName]
	r.mu.RUnlock()
	if !ok {
		return Fail(KindPermanent, fmt.Sprintf("no handler registered for agent %q", agentName))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := fn(ctx, input)
		done <- outcome{output: out, err: err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.Canceled {
			return Fail(KindPermanent, fmt.Sprintf("agent %s invocation cancelled", agentName))
		}
		return TimedOut(fmt.Sprintf("agent %s exceeded %s deadline", agentName, timeout))
	case o := <-done:
		if o.err != nil {
			if IsTransient(o.err) {
				return Fail(KindTransient, o.err.Error())
			}
			return Fail(KindPermanent, o.err.Error())
		}
		return Succeed(o.output)
	}
}
