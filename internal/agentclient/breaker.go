package agentclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// CircuitState represents the per-agent circuit breaker state.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal: invocations flow through
	CircuitOpen                         // Tripped: invocations fail immediately
	CircuitHalfOpen                     // Probe: one invocation allowed to test recovery
)

// Breaker wraps a Client with a per-agent circuit breaker. Repeated
// transient failures and timeouts within the window trip the circuit;
// permanent failures do not, because a malformed input says nothing about
// the agent's health. An open circuit fails invocations immediately with a
// transient result, so a stage degrades instead of spending its deadline
// on a known-dead agent.
type Breaker struct {
	inner     Client
	mu        sync.Mutex
	agents    map[string]*agentCircuit
	threshold int
	window    time.Duration
	cooldown  time.Duration
}

type agentCircuit struct {
	failures      []time.Time
	state         CircuitState
	openedAt      time.Time
	probeInFlight bool
}

// NewBreaker wraps inner. threshold failures within window trip the
// circuit; after cooldown one probe is allowed through. Zero values take
// the defaults (5 failures / 60s window / 30s cooldown).
func NewBreaker(inner Client, threshold int, window, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		inner:     inner,
		agents:    make(map[string]*agentCircuit),
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
	}
}

// Invoke consults the circuit before dispatching. Open circuits answer
// with a transient failure without calling the agent.
func (b *Breaker) Invoke(ctx context.Context, agentName string, input json.RawMessage, timeout time.Duration) TaskResult {
	if !b.allow(agentName) {
		return Fail(KindTransient, "circuit open: agent "+agentName+" is failing repeatedly")
	}

	result := b.inner.Invoke(ctx, agentName, input, timeout)
	b.record(agentName, result)
	return result
}

// State returns the current circuit state for an agent.
func (b *Breaker) State(agentName string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.agents[agentName]
	if !ok {
		return CircuitClosed
	}
	return c.state
}

func (b *Breaker) allow(agentName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.agents[agentName]
	if !ok {
		return true
	}
	switch c.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(c.openedAt) >= b.cooldown {
			c.state = CircuitHalfOpen
			c.probeInFlight = true
			return true
		}
		return false
	case CircuitHalfOpen:
		if c.probeInFlight {
			return false
		}
		c.probeInFlight = true
		return true
	}
	return true
}

func (b *Breaker) record(agentName string, result TaskResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.agents[agentName]
	if !ok {
		c = &agentCircuit{}
		b.agents[agentName] = c
	}

	if result.Succeeded() {
		c.failures = nil
		c.state = CircuitClosed
		c.probeInFlight = false
		return
	}

	// Permanent failures and invalid responses are the caller's problem,
	// not evidence of an unhealthy agent.
	if result.Status == StatusFailed && result.Kind != KindTransient {
		if c.state == CircuitHalfOpen {
			c.probeInFlight = false
		}
		return
	}

	now := time.Now()
	if c.state == CircuitHalfOpen {
		// A failed probe re-opens the circuit for another cooldown.
		c.state = CircuitOpen
		c.openedAt = now
		c.probeInFlight = false
		return
	}

	c.failures = append(c.failures, now)
	cutoff := now.Add(-b.window)
	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failures = kept

	if len(c.failures) >= b.threshold {
		c.state = CircuitOpen
		c.openedAt = now
		c.failures = nil
	}
}
