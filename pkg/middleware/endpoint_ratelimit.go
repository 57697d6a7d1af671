package middleware

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/ratelimit"
)

// EndpointRateLimiterMiddleware limits selected routes independently of the
// global limit. Routes without a configured limit pass through.
type EndpointRateLimiterMiddleware struct {
	limiters map[string]*ratelimit.TokenBucket
	mu       sync.RWMutex
	logger   logger.Logger
}

// NewEndpointRateLimiterMiddleware creates a new EndpointRateLimiterMiddleware
func NewEndpointRateLimiterMiddleware(logger logger.Logger) *EndpointRateLimiterMiddleware {
	return &EndpointRateLimiterMiddleware{
		limiters: make(map[string]*ratelimit.TokenBucket),
		logger:   logger,
	}
}

// SetLimit limits method on the route template path, e.g. "POST", "/api/v1/cart/checkout"
func (m *EndpointRateLimiterMiddleware) SetLimit(method, path string, maxTokens, refillRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.limiters[method+":"+path] = ratelimit.NewTokenBucket(maxTokens, refillRate)
}

func (m *EndpointRateLimiterMiddleware) getLimiter(endpoint string) (*ratelimit.TokenBucket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limiter, exists := m.limiters[endpoint]
	return limiter, exists
}

// Middleware returns a middleware function for per-endpoint rate limiting
func (m *EndpointRateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + ":" + routeTemplate(r)

		limiter, ok := m.getLimiter(endpoint)
		if ok && !limiter.Allow() {
			m.logger.Warn("Endpoint rate limit exceeded", "endpoint", endpoint)
			tooManyRequests(w, limiter.RetryAfter(), "Endpoint rate limit exceeded. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetAllLimits returns all configured endpoint limits
func (m *EndpointRateLimiterMiddleware) GetAllLimits() map[string]map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]map[string]float64, len(m.limiters))
	for endpoint, limiter := range m.limiters {
		result[endpoint] = map[string]float64{
			"max_tokens":  limiter.MaxTokens(),
			"refill_rate": limiter.RefillRate(),
			"available":   limiter.Available(),
		}
	}

	return result
}

// routeTemplate is the matched mux route template, or the raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
