package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/metrics"
)

// statusCodeWriter is a wrapper around http.ResponseWriter that captures the status code
type statusCodeWriter struct {
	http.ResponseWriter
	statusCode int
}

func newStatusCodeWriter(w http.ResponseWriter) *statusCodeWriter {
	return &statusCodeWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code and passes it to the wrapped ResponseWriter
func (scw *statusCodeWriter) WriteHeader(code int) {
	scw.statusCode = code
	scw.ResponseWriter.WriteHeader(code)
}

// Instrument logs every request and records it in m under its route template.
// It must run inside the router so the matched route is known.
func Instrument(m *metrics.Metrics, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := newStatusCodeWriter(w)

			next.ServeHTTP(sw, r)

			elapsed := time.Since(start)
			route := routeTemplate(r)

			m.ObserveRequest(route, strconv.Itoa(sw.statusCode), float64(elapsed.Microseconds())/1000)

			log.Info("Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.statusCode,
				"duration", elapsed)
		})
	}
}
