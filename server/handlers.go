package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dkoval/scriptbox/coordinator"
	"github.com/dkoval/scriptbox/sandbox"
)

// bodySlack is how much envelope overhead the request body may carry on top
// of the code size budget before the server refuses to read further.
const bodySlack = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type executeRequest struct {
	Code           string         `json:"code"`
	Context        map[string]any `json:"context,omitempty"`
	TimeoutSec     int            `json:"timeout_seconds,omitempty"`
	MaxOutputBytes int            `json:"max_output_bytes,omitempty"`
}

type validateRequest struct {
	Code string `json:"code"`
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.Sandbox.MaxCodeBytes+bodySlack))
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			// Over the size bound: rejected before the validator ever sees it.
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds size limit")
			return false
		}
		writeError(w, http.StatusUnprocessableEntity, "malformed request body")
		return false
	}
	return true
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if !s.coord.Ready() {
		writeError(w, http.StatusServiceUnavailable, "sandbox subsystem unavailable")
		return
	}

	outcome := s.coord.Execute(r.Context(), sandbox.ExecutionRequest{
		Code:           req.Code,
		Context:        req.Context,
		TimeoutSec:     req.TimeoutSec,
		MaxOutputBytes: req.MaxOutputBytes,
	})

	switch {
	case outcome.Validation != nil:
		writeJSON(w, http.StatusBadRequest, outcome.Validation)
	case outcome.State == coordinator.StateRejected && isBusy(outcome.Result):
		writeError(w, http.StatusTooManyRequests, "too many concurrent executions")
	case outcome.State == coordinator.StateInternalError:
		// Full detail is in the server log; callers get a generic message.
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, outcome.Result)
	}
}

func isBusy(result sandbox.ExecutionResult) bool {
	return result.Error != nil && result.Error.Kind == sandbox.ErrKindBusy
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Validate(req.Code))
}

type healthResponse struct {
	Status             string `json:"status"`
	SandboxInitialized bool   `json:"sandbox_initialized"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "healthy", SandboxInitialized: true}
	if !s.coord.Ready() {
		// Degraded, not healthy: orchestration must be able to tell.
		resp = healthResponse{Status: "degraded", SandboxInitialized: false}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Metrics())
}
