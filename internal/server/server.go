// Package server exposes the orchestration engine over HTTP: request
// intake, case lookups, and the execution log.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/caseflow-io/caseflow/internal/memory"
	"github.com/caseflow-io/caseflow/internal/obslog"
	"github.com/caseflow-io/caseflow/internal/orchestrator"
	cfotel "github.com/caseflow-io/caseflow/internal/otel"
	"github.com/caseflow-io/caseflow/internal/ticket"
)

const defaultTimeout = 60 * time.Second

// RequestHandler is the narrow surface the intake endpoint needs; the
// orchestrator satisfies it, tests stub it.
type RequestHandler interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// Server holds the HTTP API's dependencies.
type Server struct {
	router      *chi.Mux
	handler     RequestHandler
	cases       *ticket.Store
	execLog     *obslog.Log
	memoryStore *memory.Store
	apiKeys     map[string]string
	limiter     *rate.Limiter
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithMemoryStore enables the session-state endpoint.
func WithMemoryStore(m *memory.Store) Option {
	return func(s *Server) { s.memoryStore = m }
}

// WithRateLimit caps inbound request throughput across all callers.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewServer builds a Server. apiKeys maps key -> caller name; an empty map
// disables authentication (local development only).
func NewServer(handler RequestHandler, cases *ticket.Store, execLog *obslog.Log, apiKeys map[string]string, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		handler:   handler,
		cases:     cases,
		execLog:   execLog,
		apiKeys:   apiKeys,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler. Intake is registered without
// the short-route timeout: a slow model call may legitimately take longer
// than a case lookup ever should.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cfotel.Middleware())

	// Unauthenticated
	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.limiter))

		r.Post("/v1/requests", s.handleRequest)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Get("/v1/cases", s.handleCasesList)
			r.Get("/v1/cases/{id}", s.handleCaseGet)
			r.Patch("/v1/cases/{id}/status", s.handleCaseStatus)

			r.Get("/v1/executions", s.handleExecutionsList)

			if s.memoryStore != nil {
				r.Get("/v1/sessions/{id}/state", s.handleSessionState)
			}
		})
	})

	return r
}
