package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/DocFinder/internal/flow"
	"github.com/BTreeMap/DocFinder/internal/models"
)

// User-facing failure texts. Upstream detail is only logged.
const (
	msgUnavailable = "Sorry, I'm having trouble connecting to the service. Please try again later."
	msgInternal    = "I encountered an error processing your request. Please try again."
)

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	requestID := RequestID(r.Context())
	slog.Debug("Server.chatHandler: processing chat request", "method", r.Method, "requestID", requestID)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.chatHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatRequest
	body := http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err, "patientID", req.PatientID)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	resp, err := s.controller.Advance(r.Context(), req)
	if err != nil {
		status, msg := advanceError(err)
		slog.Error("Server.chatHandler: advance failed", "error", err, "patientID", req.PatientID, "status", status, "requestID", requestID)
		writeError(w, status, msg)
		return
	}
	slog.Info("Server.chatHandler: conversation advanced", "patientID", req.PatientID,
		"recommendations", resp.Recommendations != nil, "duration", time.Since(start))
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// advanceError maps a controller error to a status code and user text.
func advanceError(err error) (int, string) {
	switch {
	case errors.Is(err, flow.ErrCompletionUnavailable), errors.Is(err, flow.ErrConversationUnavailable):
		return http.StatusServiceUnavailable, msgUnavailable
	case errors.Is(err, models.ErrMissingPatientID), errors.Is(err, models.ErrEmptyMessage), errors.Is(err, models.ErrMessageTooLong):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

type healthResult struct {
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	result := healthResult{Checks: make(map[string]string, len(s.checks))}
	healthy := true
	for _, c := range s.checks {
		if err := c.check(ctx); err != nil {
			slog.Warn("Server.healthHandler: dependency unhealthy", "dependency", c.name, "error", err)
			result.Checks[c.name] = "unavailable"
			healthy = false
			continue
		}
		result.Checks[c.name] = "ok"
	}
	if !healthy {
		resp := models.Error("one or more dependencies are unavailable")
		resp.Result = result
		writeJSONResponse(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}
