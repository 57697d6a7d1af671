package tracker

import (
	"context"
	"sync"

	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/internal/realtime"
	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
	"github.com/vaidashi/stationery-orders/pkg/logger"
)

// WindowSource is the backend surface the gate needs
type WindowSource interface {
	GetOrderWindow(ctx context.Context) (*models.OrderWindow, error)
	ToggleOrderWindow(ctx context.Context) (*models.OrderWindow, error)
	CreateOrder(ctx context.Context, req models.NewOrderRequest, idempotencyKey string) (*models.Order, error)
}

// Gate mirrors the order window and refuses to create orders while it is
// closed. A push changes the flag at once; responses of requests started
// before the push never overwrite it.
type Gate struct {
	source WindowSource
	logger logger.Logger

	mu      sync.Mutex
	window  models.OrderWindow
	loaded  bool
	version uint64
	unsub   func()
}

// NewGate creates a gate; the window counts as closed until loaded
func NewGate(source WindowSource, logger logger.Logger) *Gate {
	return &Gate{
		source: source,
		logger: logger.With("component", "order-window"),
	}
}

// Attach subscribes the gate to order window pushes
func (g *Gate) Attach(sub Subscriber) error {
	unsub, err := sub.Subscribe(realtime.OrderWindowTopic, g.OnPush)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.unsub = unsub
	g.mu.Unlock()

	return nil
}

// Close unsubscribes from pushes
func (g *Gate) Close() {
	g.mu.Lock()
	unsub := g.unsub
	g.unsub = nil
	g.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Load fetches the current window from the backend
func (g *Gate) Load(ctx context.Context) (models.OrderWindow, error) {
	g.mu.Lock()
	v := g.version
	g.mu.Unlock()

	w, err := g.source.GetOrderWindow(ctx)
	if err != nil {
		return g.Window(), err
	}

	g.apply(w, v)
	return g.Window(), nil
}

// Toggle flips the window (admin only on the backend)
func (g *Gate) Toggle(ctx context.Context) (models.OrderWindow, error) {
	g.mu.Lock()
	v := g.version
	g.mu.Unlock()

	w, err := g.source.ToggleOrderWindow(ctx)
	if err != nil {
		return g.Window(), err
	}

	g.apply(w, v)
	g.logger.Info("Order window toggled", "open", w.Open)

	return g.Window(), nil
}

func (g *Gate) apply(w *models.OrderWindow, startVersion uint64) {
	if w == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.version != startVersion {
		g.logger.Debug("Ignoring window response superseded by a push")
		return
	}

	g.window = *w
	g.loaded = true
	g.version++
}

// OnPush applies an order-window push. It is a realtime.Handler.
func (g *Gate) OnPush(ctx context.Context, msg realtime.Message) error {
	var upd models.OrderWindowUpdate
	if err := msg.Decode(&upd); err != nil {
		return apperrors.NewInvalidInputError("malformed order window update: " + err.Error())
	}

	g.mu.Lock()
	changed := !g.loaded || g.window.Open != upd.Open
	g.window.Open = upd.Open
	g.window.UpdatedAt = models.GetCurrentTime()
	g.loaded = true
	g.version++
	g.mu.Unlock()

	if changed {
		g.logger.Info("Order window changed", "open", upd.Open)
	}

	return nil
}

// Window returns the mirrored window
func (g *Gate) Window() models.OrderWindow {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.window
}

// CanCreate reports whether a new order may be submitted now
func (g *Gate) CanCreate() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.loaded && g.window.Open
}

// CreateOrder submits items as a new order if the window is open. The flag
// is checked once before sending; a push arriving while the request is in
// flight affects only later calls.
func (g *Gate) CreateOrder(ctx context.Context, items []models.LineItem) (*models.Order, error) {
	req := models.NewOrderRequest{Items: items}
	if err := req.Validate(); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	g.mu.Lock()
	loaded := g.loaded
	g.mu.Unlock()

	if !loaded {
		if _, err := g.Load(ctx); err != nil {
			return nil, err
		}
	}

	if !g.CanCreate() {
		return nil, apperrors.NewOrderWindowClosedError()
	}

	order, err := g.source.CreateOrder(ctx, req, models.NewIdempotencyKey())
	if err != nil {
		return nil, err
	}

	g.logger.Info("Order created", "order", order.ID, "items", len(items))
	return order, nil
}
