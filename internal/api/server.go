package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/vaidashi/stationery-orders/internal/cart"
	"github.com/vaidashi/stationery-orders/internal/config"
	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/internal/notifications"
	"github.com/vaidashi/stationery-orders/internal/storage"
	"github.com/vaidashi/stationery-orders/internal/tracker"
	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/metrics"
	"github.com/vaidashi/stationery-orders/pkg/middleware"
)

// OrderActions are the order workflow calls forwarded to the backend
type OrderActions interface {
	ExportOrder(ctx context.Context, orderID string) ([]byte, error)
	SubmitSigned(ctx context.Context, orderID, filename string, document io.Reader) (*models.Order, error)
	ApproveOrder(ctx context.Context, orderID, comment string) (*models.Order, error)
	RejectOrder(ctx context.Context, orderID, comment string) (*models.Order, error)
}

// BreakerControl exposes the backend circuit breaker
type BreakerControl interface {
	BreakerMetrics() map[string]interface{}
	ResetBreaker()
}

// RealtimeStatus reports the push connection state
type RealtimeStatus interface {
	Connected() bool
	Topics() []string
}

// Dependencies are the components the API serves
type Dependencies struct {
	Cart        *cart.Cart
	Tracker     *tracker.Tracker
	Gate        *tracker.Gate
	Feed        *notifications.Feed
	Preferences *storage.Preferences
	Orders      OrderActions
	Breaker     BreakerControl
	Realtime    RealtimeStatus
	Metrics     *metrics.Metrics
}

// Server is the local control API
type Server struct {
	config              *config.Config
	logger              logger.Logger
	router              *mux.Router
	httpServer          *http.Server
	deps                Dependencies
	rateLimiter         *middleware.RateLimiterMiddleware
	endpointRateLimiter *middleware.EndpointRateLimiterMiddleware
}

// NewServer creates a new API server with the given configuration and logger.
func NewServer(cfg *config.Config, deps Dependencies, logger logger.Logger) *Server {
	r := mux.NewRouter()

	endpointLimiter := middleware.NewEndpointRateLimiterMiddleware(logger)
	// checkout and review hit the backend with side effects; one per second is plenty
	endpointLimiter.SetLimit(http.MethodPost, "/api/v1/cart/checkout", 1, 1)
	endpointLimiter.SetLimit(http.MethodPost, "/api/v1/order/approve", 1, 1)
	endpointLimiter.SetLimit(http.MethodPost, "/api/v1/order/reject", 1, 1)

	server := &Server{
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:              logger.With("component", "api"),
		config:              cfg,
		deps:                deps,
		rateLimiter:         middleware.NewRateLimiterMiddleware(middleware.DefaultRateLimiterConfig(), logger),
		endpointRateLimiter: endpointLimiter,
	}

	server.setupRoutes()
	return server
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Instrument(s.deps.Metrics, s.logger))
	s.router.Use(s.rateLimiter.Middleware)
	s.router.Use(s.endpointRateLimiter.Middleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	api.HandleFunc("/cart", s.getCartHandler).Methods(http.MethodGet)
	api.HandleFunc("/cart", s.clearCartHandler).Methods(http.MethodDelete)
	api.HandleFunc("/cart/items", s.addCartItemHandler).Methods(http.MethodPost)
	api.HandleFunc("/cart/items/{id}", s.updateCartItemHandler).Methods(http.MethodPut)
	api.HandleFunc("/cart/items/{id}", s.removeCartItemHandler).Methods(http.MethodDelete)
	api.HandleFunc("/cart/checkout", s.checkoutHandler).Methods(http.MethodPost)

	api.HandleFunc("/order", s.getOrderHandler).Methods(http.MethodGet)
	api.HandleFunc("/order/refresh", s.refreshOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/order/export", s.exportOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/order/signed", s.uploadSignedHandler).Methods(http.MethodPost)
	api.HandleFunc("/order/approve", s.reviewOrderHandler(true)).Methods(http.MethodPost)
	api.HandleFunc("/order/reject", s.reviewOrderHandler(false)).Methods(http.MethodPost)

	api.HandleFunc("/order-window", s.getOrderWindowHandler).Methods(http.MethodGet)
	api.HandleFunc("/order-window/toggle", s.toggleOrderWindowHandler).Methods(http.MethodPost)

	api.HandleFunc("/notifications", s.getNotificationsHandler).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read-all", s.markAllReadHandler).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}/read", s.markReadHandler).Methods(http.MethodPost)

	api.HandleFunc("/preferences", s.getPreferencesHandler).Methods(http.MethodGet)
	api.HandleFunc("/preferences/language", s.setLanguageHandler).Methods(http.MethodPut)
	api.HandleFunc("/preferences/searches", s.addSearchHandler).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/circuit-breaker", s.getCircuitBreakerStatusHandler).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breaker/reset", s.resetCircuitBreakerHandler).Methods(http.MethodPost)
	admin.HandleFunc("/rate-limits", s.getRateLimitsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/rate-limits", s.setEndpointRateLimitHandler).Methods(http.MethodPut)

	s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
}
