package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/caseflow-io/caseflow/internal/orchestrator"
	"github.com/caseflow-io/caseflow/internal/ticket"
)

const maxRequestBody = 1 << 20 // 1 MiB

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]string{
			"case_store":    "ok",
			"execution_log": "ok",
		}
		if s.memoryStore == nil {
			components["memory_store"] = "disabled"
		} else {
			components["memory_store"] = "ok"
		}
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "text is required")
		return
	}

	resp, err := s.handler.Handle(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("request_handling_failed")
		writeError(w, http.StatusInternalServerError, "internal", "request could not be processed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCasesList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 50)

	cases, err := s.cases.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cases": cases, "count": len(cases)})
}

func (s *Server) handleCaseGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.cases.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ticket.ErrCaseNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "case not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCaseStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "status is required")
		return
	}

	caseID := chi.URLParam(r, "id")
	if err := s.cases.UpdateStatus(r.Context(), caseID, body.Status); err != nil {
		if errors.Is(err, ticket.ErrCaseNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "case not found")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	c, err := s.cases.Get(r.Context(), caseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleExecutionsList(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	limit := queryInt(r, "limit", 100)

	records, err := s.execLog.List(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"executions": records, "count": len(records)})
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	state, err := s.memoryStore.SessionState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": state})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
