package api

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
)

type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status            string   `json:"status"`
	Version           string   `json:"version"`
	Timestamp         string   `json:"timestamp"`
	RealtimeConnected bool     `json:"realtimeConnected"`
	Topics            []string `json:"topics"`
	Degraded          bool     `json:"degraded"`
	BackendBreaker    string   `json:"backendBreaker,omitempty"`
}

// healthCheckHandler reports the daemon as healthy while it serves; a lost
// realtime connection shows up as degraded
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   "0.1.0",
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if s.deps.Realtime != nil {
		health.RealtimeConnected = s.deps.Realtime.Connected()
		health.Topics = s.deps.Realtime.Topics()
	}

	if s.deps.Tracker != nil {
		health.Degraded = s.deps.Tracker.Degraded()
	}

	if s.deps.Breaker != nil {
		if state, ok := s.deps.Breaker.BreakerMetrics()["state"].(string); ok {
			health.BackendBreaker = state
		}
	}

	if health.Degraded {
		health.Status = "degraded"
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: health})
}

// decodeJSON decodes the request body into dst, answering 400 on failure
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}

	return true
}

// respondWithAppError maps err onto its HTTP status
func (s *Server) respondWithAppError(w http.ResponseWriter, err error) {
	code := apperrors.StatusCode(err)

	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}

	s.respondWithError(w, code, err.Error())
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
