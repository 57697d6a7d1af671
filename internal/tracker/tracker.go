package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/internal/realtime"
	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/metrics"
)

// OrderSource fetches orders over REST
type OrderSource interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	LatestOrder(ctx context.Context, departmentID string) (*models.Order, error)
}

// Subscriber is the part of the realtime manager a consumer needs
type Subscriber interface {
	Subscribe(topic string, handler realtime.Handler) (func(), error)
	Connected() bool
	OnConnectionChange(fn func(connected bool)) func()
}

// Ref names what to load: a specific order, or the latest order of a department
type Ref struct {
	OrderID      string
	DepartmentID string
}

// Config configures a Tracker
type Config struct {
	DepartmentID string
	Admin        bool
	PollInterval time.Duration
}

// Snapshot is a consistent copy of the tracker state
type Snapshot struct {
	Order     *models.Order  `json:"order"`
	Actions   models.Actions `json:"actions"`
	Loaded    bool           `json:"loaded"`
	Err       error          `json:"-"`
	Error     string         `json:"error,omitempty"`
	Retryable bool           `json:"retryable"`
	Degraded  bool           `json:"degraded"`
}

// Tracker holds the authoritative status of the order the viewer is
// following. REST results and pushes are merged through CanAdvance, so the
// status never moves backwards whatever order they arrive in.
type Tracker struct {
	source  OrderSource
	cfg     Config
	logger  logger.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	order      *models.Order
	ref        Ref
	loaded     bool
	lastErr    error
	degraded   bool
	generation uint64
	closed     bool
	listeners  map[uint64]func(Snapshot)
	nextID     uint64
	unsubs     []func()
	poller     *Poller
}

// New creates a Tracker for cfg.DepartmentID
func New(source OrderSource, cfg Config, logger logger.Logger, m *metrics.Metrics) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}

	t := &Tracker{
		source:    source,
		cfg:       cfg,
		logger:    logger.With("component", "tracker"),
		metrics:   m,
		ref:       Ref{DepartmentID: cfg.DepartmentID},
		listeners: make(map[uint64]func(Snapshot)),
	}

	t.poller = NewPoller(cfg.PollInterval, t.refresh, t.Degraded, t.logger)
	return t
}

// Attach subscribes to the department (and admin) order topics and starts
// polling whenever the realtime connection is down
func (t *Tracker) Attach(sub Subscriber) error {
	topics := []string{realtime.OrdersTopic(t.cfg.DepartmentID)}
	if t.cfg.Admin {
		topics = append(topics, realtime.AdminOrdersTopic)
	}

	var unsubs []func()
	for _, topic := range topics {
		unsub, err := sub.Subscribe(topic, t.OnRealtimeUpdate)
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return err
		}
		unsubs = append(unsubs, unsub)
	}

	unsubs = append(unsubs, sub.OnConnectionChange(t.setConnected))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		for _, u := range unsubs {
			u()
		}
		return apperrors.ErrClosed
	}
	t.unsubs = append(t.unsubs, unsubs...)
	t.degraded = !sub.Connected()
	t.mu.Unlock()

	t.poller.Start()
	return nil
}

// Close unsubscribes every handler, stops polling and makes in-flight
// fetches be discarded
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	t.closed = true
	t.generation++
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()

	for _, u := range unsubs {
		u()
	}

	t.poller.Stop()
}

// OnChange registers fn to receive a snapshot after every accepted change
func (t *Tracker) OnChange(fn func(Snapshot)) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Snapshot returns the current state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		Order:    t.order.Clone(),
		Loaded:   t.loaded,
		Err:      t.lastErr,
		Degraded: t.degraded,
	}

	if t.order != nil {
		s.Actions = models.ActionsFor(t.order.Status)
	}

	if t.lastErr != nil {
		s.Error = t.lastErr.Error()
		s.Retryable = apperrors.IsRetryable(t.lastErr)
	}

	return s
}

// Degraded reports whether the tracker is relying on polling
func (t *Tracker) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.degraded
}

func (t *Tracker) setConnected(connected bool) {
	t.mu.Lock()
	if t.closed || t.degraded == !connected {
		t.mu.Unlock()
		return
	}

	t.degraded = !connected
	t.mu.Unlock()

	if connected {
		t.logger.Info("Realtime restored, polling paused")
	} else {
		t.logger.Warn("Realtime unavailable, falling back to polling")
	}

	t.notify()
}

// Track makes order the tracked order, replacing whatever was tracked.
// Used after the viewer creates a new order.
func (t *Tracker) Track(order *models.Order) {
	if order == nil {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	t.generation++
	t.order = order.Clone()
	t.ref = Ref{OrderID: order.ID}
	t.loaded = true
	t.lastErr = nil
	t.mu.Unlock()

	t.notify()
}

// Ref returns what LoadInitial without an explicit ref would fetch
func (t *Tracker) Ref() Ref {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ref
}

func (t *Tracker) refresh(ctx context.Context) error {
	return t.LoadInitial(ctx, t.Ref())
}

// LoadInitial fetches the order named by ref and merges it. No current order
// is not an error. A failed fetch keeps the last good order and is reported
// through the snapshot as well as returned.
func (t *Tracker) LoadInitial(ctx context.Context, ref Ref) error {
	if ref.OrderID == "" && ref.DepartmentID == "" {
		ref.DepartmentID = t.cfg.DepartmentID
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return apperrors.ErrClosed
	}
	gen := t.generation
	t.mu.Unlock()

	order, err := t.fetch(ctx, ref)

	t.mu.Lock()
	if t.closed || gen != t.generation {
		t.mu.Unlock()
		t.logger.Debug("Discarding fetch result superseded while in flight", "ref", ref)
		return nil
	}

	if err != nil {
		t.lastErr = err
		t.mu.Unlock()

		t.logger.Warn("Failed to load order", "ref", ref, "error", err)
		t.notify()
		return err
	}

	t.loaded = true
	t.lastErr = nil
	t.mergeLocked(order, "rest")

	// follow ref only once it names the tracked order; an empty or ignored
	// result keeps polling what is on screen
	if order != nil && t.order != nil && t.order.ID == order.ID {
		t.ref = ref
	}
	t.mu.Unlock()

	t.notify()
	return nil
}

func (t *Tracker) fetch(ctx context.Context, ref Ref) (*models.Order, error) {
	if ref.OrderID == "" {
		return t.source.LatestOrder(ctx, ref.DepartmentID)
	}

	order, err := t.source.GetOrder(ctx, ref.OrderID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}

	return order, err
}

// Merge applies an order returned by an action (approve, reject, upload)
// through the same guard as fetched orders
func (t *Tracker) Merge(order *models.Order) {
	if order == nil {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.mergeLocked(order, "action")
	t.mu.Unlock()

	t.notify()
}

// mergeLocked applies a REST result to the tracked state
func (t *Tracker) mergeLocked(order *models.Order, source string) {
	switch {
	case order == nil:
		// an empty result never clears an order already tracked
		t.metrics.StatusUpdate(source, "empty")

	case t.order == nil:
		t.order = order.Clone()
		t.metrics.StatusUpdate(source, "applied")

	case t.order.ID != order.ID:
		if !order.CreatedAt.After(t.order.CreatedAt) {
			t.metrics.StatusUpdate(source, "ignored")
			return
		}
		t.logger.Info("Tracking newer order", "previous", t.order.ID, "order", order.ID)
		t.order = order.Clone()
		t.metrics.StatusUpdate(source, "applied")

	case order.Status == t.order.Status:
		// same status: details may still have changed
		t.order = order.Clone()
		t.metrics.StatusUpdate(source, "duplicate")

	case models.CanAdvance(t.order.Status, order.Status):
		t.order = order.Clone()
		t.metrics.StatusUpdate(source, "applied")

	default:
		t.logger.Warn("Discarding stale order status",
			"error", apperrors.NewStaleTransitionError(order.ID, string(t.order.Status), string(order.Status)),
			"source", source)
		t.metrics.StatusUpdate(source, "discarded")
	}
}

// OnRealtimeUpdate applies a pushed status update to the tracked order. It
// is a realtime.Handler.
func (t *Tracker) OnRealtimeUpdate(ctx context.Context, msg realtime.Message) error {
	var upd models.OrderStatusUpdate
	if err := msg.Decode(&upd); err != nil {
		return apperrors.NewInvalidInputError("malformed order status update: " + err.Error())
	}

	status, err := models.ParseOrderStatus(string(upd.Status))
	if upd.OrderID == "" || err != nil {
		return apperrors.NewInvalidInputError("order status update needs an order id and a known status")
	}

	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()
		return nil
	}

	if t.order == nil || t.order.ID != upd.OrderID {
		t.mu.Unlock()
		t.metrics.StatusUpdate("push", "ignored")
		t.logger.Debug("Ignoring update for untracked order", "order", upd.OrderID, "topic", msg.Topic)
		return nil
	}

	from := t.order.Status
	if !models.CanAdvance(from, status) {
		t.mu.Unlock()
		t.metrics.StatusUpdate("push", "discarded")
		t.logger.Warn("Discarding stale order status",
			"error", apperrors.NewStaleTransitionError(upd.OrderID, string(from), string(status)),
			"source", "push")
		return nil
	}

	t.order.Status = status
	if upd.AdminComment != "" {
		t.order.AdminComment = upd.AdminComment
	}
	if !upd.UpdatedAt.IsZero() {
		t.order.UpdatedAt = upd.UpdatedAt
	}
	t.mu.Unlock()

	t.metrics.StatusUpdate("push", "applied")
	t.logger.Info("Order status advanced", "order", upd.OrderID, "from", from, "to", status)
	t.notify()

	return nil
}

func (t *Tracker) notify() {
	t.mu.Lock()
	snap := t.snapshotLocked()
	ids := make([]uint64, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.listeners[id])
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
