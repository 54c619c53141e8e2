package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow-io/caseflow/internal/escalation"
	"github.com/caseflow-io/caseflow/internal/obslog"
	"github.com/caseflow-io/caseflow/internal/orchestrator"
	"github.com/caseflow-io/caseflow/internal/ticket"
)

type stubHandler struct {
	resp *orchestrator.Response
	err  error
	last orchestrator.Request
}

func (s *stubHandler) Handle(_ context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	s.last = req
	return s.resp, s.err
}

func newTestServer(t *testing.T, handler RequestHandler, apiKeys map[string]string, opts ...Option) (*httptest.Server, *ticket.Store, *obslog.Log) {
	t.Helper()
	dir := t.TempDir()

	cases, err := ticket.NewStore(filepath.Join(dir, "cases.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cases.Close() })

	execLog, err := obslog.NewLog(filepath.Join(dir, "executions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { execLog.Close() })

	srv := httptest.NewServer(NewServer(handler, cases, execLog, apiKeys, opts...).Routes())
	t.Cleanup(srv.Close)
	return srv, cases, execLog
}

func TestHealthNoAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubHandler{}, map[string]string{"k1": "ops"})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIntake(t *testing.T) {
	handler := &stubHandler{resp: &orchestrator.Response{
		SessionID: "sess_1",
		TraceID:   "trace_1",
		Outcome:   escalation.OutcomeAutoRespond,
		Reply:     "All set.",
	}}
	srv, _, _ := newTestServer(t, handler, nil)

	body, _ := json.Marshal(orchestrator.Request{UserID: "u1", Text: "help"})
	resp, err := http.Post(srv.URL+"/v1/requests", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out orchestrator.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "All set.", out.Reply)
	assert.Equal(t, "help", handler.last.Text)
}

func TestRequestIntakeRejectsEmptyText(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubHandler{}, nil)

	resp, err := http.Post(srv.URL+"/v1/requests", "application/json", bytes.NewReader([]byte(`{"user_id":"u1"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubHandler{}, map[string]string{"secret-key": "ops"})

	body := bytes.NewReader([]byte(`{"text":"hi"}`))
	resp, err := http.Post(srv.URL+"/v1/requests", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/cases", nil)
	req.Header.Set("X-Caseflow-Key", "secret-key")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)

	req.Header.Set("X-Caseflow-Key", "wrong-key")
	denied, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	denied.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, denied.StatusCode)
}

func TestBearerTokenAccepted(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubHandler{}, map[string]string{"secret-key": "ops"})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/cases", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	srv, cases, _ := newTestServer(t, &stubHandler{}, nil)
	ctx := context.Background()

	c := &ticket.Case{SessionID: "sess_1", QueryText: "broken", Reason: escalation.ReasonLowConfidence}
	require.NoError(t, cases.Create(ctx, c))

	resp, err := http.Get(srv.URL + "/v1/cases/" + c.CaseID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got ticket.Case
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, ticket.StatusOpen, got.Status)

	patch, _ := http.NewRequest(http.MethodPatch, srv.URL+"/v1/cases/"+c.CaseID+"/status",
		bytes.NewReader([]byte(`{"status":"in_progress"}`)))
	patched, err := http.DefaultClient.Do(patch)
	require.NoError(t, err)
	defer patched.Body.Close()
	require.Equal(t, http.StatusOK, patched.StatusCode)

	var updated ticket.Case
	require.NoError(t, json.NewDecoder(patched.Body).Decode(&updated))
	assert.Equal(t, ticket.StatusInProgress, updated.Status)
}

func TestCaseNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubHandler{}, nil)

	resp, err := http.Get(srv.URL + "/v1/cases/case_missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCasesListFiltersByStatus(t *testing.T) {
	srv, cases, _ := newTestServer(t, &stubHandler{}, nil)
	ctx := context.Background()

	open := &ticket.Case{SessionID: "s1", QueryText: "a", Reason: "low_confidence"}
	require.NoError(t, cases.Create(ctx, open))
	resolved := &ticket.Case{SessionID: "s2", QueryText: "b", Reason: "no_grounding"}
	require.NoError(t, cases.Create(ctx, resolved))
	require.NoError(t, cases.UpdateStatus(ctx, resolved.CaseID, ticket.StatusResolved))

	resp, err := http.Get(srv.URL + "/v1/cases?status=resolved")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Cases []ticket.Case `json:"cases"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, resolved.CaseID, out.Cases[0].CaseID)
}

func TestExecutionsList(t *testing.T) {
	srv, _, execLog := newTestServer(t, &stubHandler{}, nil)
	ctx := context.Background()

	require.NoError(t, execLog.Record(ctx, []obslog.Record{
		{SessionID: "s1", TraceID: "t1", AgentName: "normalizer", TaskID: "task_1", Outcome: "succeeded"},
	}))

	resp, err := http.Get(srv.URL + "/v1/executions?session_id=s1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Executions []obslog.Record `json:"executions"`
		Count      int             `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.Count)
}

func TestRateLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubHandler{}, nil, WithRateLimit(1, 1))

	first, err := http.Get(srv.URL + "/v1/cases")
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(srv.URL + "/v1/cases")
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "1", second.Header.Get("Retry-After"))
}
