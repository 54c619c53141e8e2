// Package requestctx carries the immutable identity of one end-to-end
// request. It is created once by the orchestrator and propagated by value;
// no component reads ambient session state.
package requestctx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context identifies one request. SessionID groups multiple requests (one
// conversation); TraceID is unique per request; UserID is optional.
type Context struct {
	SessionID string
	TraceID   string
	UserID    string
	CreatedAt time.Time
}

// New builds a request context. A fresh trace id is always assigned; the
// session id is generated when empty so a bare request still forms a session.
func New(sessionID, userID string) Context {
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:12]
	}
	return Context{
		SessionID: sessionID,
		TraceID:   "trace_" + uuid.New().String()[:12],
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
}

type contextKey struct{}

var requestKey = &contextKey{}

// Set stores the request context in ctx for transport boundaries
// (HTTP middleware, agent wire calls).
func Set(ctx context.Context, rc Context) context.Context {
	return context.WithValue(ctx, requestKey, rc)
}

// From returns the request context from ctx. ok is false when none is set.
func From(ctx context.Context) (Context, bool) {
	rc, ok := ctx.Value(requestKey).(Context)
	return rc, ok
}
