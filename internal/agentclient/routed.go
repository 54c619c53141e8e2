package agentclient

import (
	"context"
	"encoding/json"
	"time"
)

// Routed dispatches an invocation to a per-agent remote endpoint when one
// is configured and to the local client otherwise. This is how a mostly
// in-process deployment swaps a single agent for a remote worker.
type Routed struct {
	endpoints map[string]string
	remote    Client
	local     Client
}

// NewRouted builds a routed client. endpoints maps agent name to base URL;
// agents absent from the map are handled by local.
func NewRouted(endpoints map[string]string, local Client, opts ...HTTPOption) *Routed {
	return &Routed{
		endpoints: endpoints,
		remote:    NewHTTPClient(endpoints, opts...),
		local:     local,
	}
}

// Invoke routes to the remote endpoint when one is configured for the
// agent, otherwise to the local client.
func (r *Routed) Invoke(ctx context.Context, agentName string, input json.RawMessage, timeout time.Duration) TaskResult {
	if _, ok := r.endpoints[agentName]; ok {
		return r.remote.Invoke(ctx, agentName, input, timeout)
	}
	return r.local.Invoke(ctx, agentName, input, timeout)
}
