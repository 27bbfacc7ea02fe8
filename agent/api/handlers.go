package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
)

// maxRequestBody caps POST /v1/run bodies.
const maxRequestBody = 1 << 20

// SessionRunner serves one message in a stored session.
type SessionRunner interface {
	HandleMessage(ctx context.Context, sessionID string, text string) (contractx.RunResult, error)
}

type Handler struct {
	runner       SessionRunner
	logger       zerolog.Logger
	newSessionID func() string
}

type runRequest struct {
	SessionID      string `json:"session_id,omitempty"`
	Input          string `json:"input"`
	IncludeHistory bool   `json:"include_history,omitempty"`
}

type runResponse struct {
	contractx.RunResult
	Error string `json:"error,omitempty"`
}

func defaultSessionID() string {
	return uuid.NewString()
}

// Run handles POST /v1/run. A request without session_id starts a new session
// whose id comes back in the response.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = h.newSessionID()
	}

	res, err := h.runner.HandleMessage(r.Context(), sessionID, req.Input)
	if !req.IncludeHistory {
		res.History = nil
	}
	if err == nil {
		respondJSON(w, http.StatusOK, runResponse{RunResult: res})
		return
	}

	status := statusFor(err)
	if res.RunID == "" {
		respondError(w, status, err.Error())
		return
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error().Str("run_id", res.RunID).Str("session_id", sessionID).Err(err).Msg("run request failed")
	}
	respondJSON(w, status, runResponse{RunResult: res, Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, contractx.ErrInvalidInput), errors.Is(err, statex.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, contractx.ErrIterationBoundExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, contractx.ErrCompletion):
		return http.StatusBadGateway
	case errors.Is(err, contractx.ErrCancelled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
