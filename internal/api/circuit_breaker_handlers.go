package api

import (
	"net/http"
)

// getCircuitBreakerStatusHandler returns the state of the backend circuit breaker
func (s *Server) getCircuitBreakerStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.deps.Breaker.BreakerMetrics()})
}

// resetCircuitBreakerHandler closes the backend circuit breaker
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	s.deps.Breaker.ResetBreaker()

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Circuit breaker reset successfully",
		},
	})
}
