package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vaidashi/stationery-orders/internal/api"
	"github.com/vaidashi/stationery-orders/internal/cart"
	"github.com/vaidashi/stationery-orders/internal/clients"
	"github.com/vaidashi/stationery-orders/internal/config"
	"github.com/vaidashi/stationery-orders/internal/notifications"
	"github.com/vaidashi/stationery-orders/internal/realtime"
	"github.com/vaidashi/stationery-orders/internal/storage"
	"github.com/vaidashi/stationery-orders/internal/tracker"
	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/metrics"
)

// startupTimeout bounds the initial backend loads
const startupTimeout = 15 * time.Second

// App is the wired client daemon
type App struct {
	cfg    *config.Config
	logger logger.Logger

	store    storage.Store
	realtime *realtime.Manager
	tracker  *tracker.Tracker
	gate     *tracker.Gate
	feed     *notifications.Feed
	server   *api.Server
}

// NewTransport picks the push transport configured for cfg
func NewTransport(cfg *config.Config, log logger.Logger) (realtime.Transport, error) {
	switch cfg.Realtime.Driver {
	case "websocket":
		return realtime.NewWebSocketTransport(cfg.Realtime.WebSocketURL, cfg.AuthToken), nil
	case "kafka":
		return &realtime.KafkaTransport{
			Brokers:     cfg.Realtime.KafkaBrokers,
			KafkaTopic:  cfg.Realtime.KafkaTopic,
			GroupPrefix: cfg.Realtime.ConsumerGroup,
			Logger:      log,
		}, nil
	default:
		return nil, fmt.Errorf("unknown realtime driver %q", cfg.Realtime.Driver)
	}
}

// New builds every component and loads the initial state. Backend failures
// during the initial loads are logged; the components recover on their own
// once pushes or polls succeed.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	transport, err := NewTransport(cfg, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	m := metrics.New()
	backend := clients.NewBackendClient(cfg.BackendURL, cfg.AuthToken, log)
	manager := realtime.NewManager(transport, realtime.ManagerConfig{}, log, m)

	a := &App{
		cfg:      cfg,
		logger:   log,
		store:    store,
		realtime: manager,
		tracker: tracker.New(backend, tracker.Config{
			DepartmentID: cfg.DepartmentID,
			Admin:        cfg.IsAdmin,
			PollInterval: cfg.PollInterval,
		}, log, m),
		gate: tracker.NewGate(backend, log),
		feed: notifications.NewFeed(backend, log, m),
	}

	c := cart.New(store, cfg.MinQuantity, log)
	if err := c.Load(ctx); err != nil {
		log.Warn("Stored cart could not be read, starting empty", "error", err)
	}

	if err := a.attach(); err != nil {
		a.Close()
		return nil, err
	}

	a.loadInitial(ctx)

	a.server = api.NewServer(cfg, api.Dependencies{
		Cart:        c,
		Tracker:     a.tracker,
		Gate:        a.gate,
		Feed:        a.feed,
		Preferences: storage.NewPreferences(store),
		Orders:      backend,
		Breaker:     backend,
		Realtime:    manager,
		Metrics:     m,
	}, log)

	return a, nil
}

func (a *App) attach() error {
	if err := a.gate.Attach(a.realtime); err != nil {
		return fmt.Errorf("subscribe order window: %w", err)
	}

	if err := a.tracker.Attach(a.realtime); err != nil {
		return fmt.Errorf("subscribe orders: %w", err)
	}

	if a.cfg.UserID == "" {
		a.logger.Warn("USER_ID not set, notifications will not be pushed")
		return nil
	}

	if err := a.feed.Attach(a.realtime, a.cfg.UserID); err != nil {
		return fmt.Errorf("subscribe notifications: %w", err)
	}

	return nil
}

func (a *App) loadInitial(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if _, err := a.gate.Load(ctx); err != nil {
		a.logger.Warn("Order window unavailable, ordering stays closed", "error", err)
	}

	if err := a.tracker.LoadInitial(ctx, tracker.Ref{DepartmentID: a.cfg.DepartmentID}); err != nil {
		a.logger.Warn("Latest order unavailable", "error", err)
	}

	if err := a.feed.Fetch(ctx); err != nil {
		a.logger.Warn("Notifications unavailable", "error", err)
	}
}

// Run serves the local API until Shutdown
func (a *App) Run() error {
	a.logger.Info(fmt.Sprintf("Server is starting on port %d", a.cfg.Port))

	if err := a.server.Start(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown stops the API server and then closes every component
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.Close()
	return err
}

// Close releases subscriptions before the connection they share and the
// store last
func (a *App) Close() {
	a.feed.Close()
	a.gate.Close()
	a.tracker.Close()

	if err := a.realtime.Close(); err != nil {
		a.logger.Warn("Failed to close realtime connection", "error", err)
	}

	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close storage", "error", err)
	}
}
