package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/metrics"
	"github.com/vaidashi/stationery-orders/pkg/retry"
)

// Handler processes one message. Returned errors and panics are logged and
// do not affect other handlers or the subscription.
type Handler func(ctx context.Context, msg Message) error

// stableConnection is how long a connection must last before the reconnect
// backoff starts over
const stableConnection = 10 * time.Second

// ManagerConfig configures a Manager
type ManagerConfig struct {
	BackoffStrategy retry.BackoffStrategy
	// UpstreamTimeout bounds subscribe/unsubscribe calls on the live connection
	UpstreamTimeout time.Duration
}

type subscription struct {
	id      uint64
	topic   string
	handler Handler
	active  atomic.Bool
}

// Manager owns the single realtime connection shared by every consumer and
// routes messages to topic subscribers. It connects on the first Subscribe
// and reconnects until Close, re-subscribing every active topic.
type Manager struct {
	transport       Transport
	backoff         retry.BackoffStrategy
	upstreamTimeout time.Duration
	logger          logger.Logger
	metrics         *metrics.Metrics

	// upMu serializes topic changes on the live connection; never taken
	// while mu is held
	upMu     sync.Mutex
	upConn   Conn
	upTopics map[string]bool

	mu        sync.Mutex
	subs      map[string]map[uint64]*subscription
	listeners map[uint64]func(bool)
	nextID    uint64
	conn      Conn
	connected bool
	started   bool
	closed    bool
	everUp    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager; nothing is dialled until the first Subscribe
func NewManager(transport Transport, cfg ManagerConfig, logger logger.Logger, m *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	backoff := cfg.BackoffStrategy
	if backoff == nil {
		backoff = retry.NewReconnectBackoff()
	}

	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Manager{
		transport:       transport,
		backoff:         backoff,
		upstreamTimeout: timeout,
		logger:          logger.With("component", "realtime"),
		metrics:         m,
		subs:            make(map[string]map[uint64]*subscription),
		listeners:       make(map[uint64]func(bool)),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Subscribe registers handler for topic and returns its unsubscribe func.
// Every handler on a topic receives every message.
func (m *Manager) Subscribe(topic string, handler Handler) (func(), error) {
	if topic == "" || handler == nil {
		return nil, apperrors.NewInvalidInputError("topic and handler are required")
	}

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil, apperrors.ErrClosed
	}

	m.nextID++
	sub := &subscription{id: m.nextID, topic: topic, handler: handler}
	sub.active.Store(true)

	set, ok := m.subs[topic]
	if !ok {
		set = make(map[uint64]*subscription)
		m.subs[topic] = set
	}
	set[sub.id] = sub

	if !m.started {
		m.started = true
		m.wg.Add(1)
		go m.run()
	}
	m.mu.Unlock()

	if !ok {
		m.syncTopic(topic)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(sub) })
	}, nil
}

func (m *Manager) unsubscribe(sub *subscription) {
	sub.active.Store(false)

	m.mu.Lock()
	set, ok := m.subs[sub.topic]
	if !ok {
		m.mu.Unlock()
		return
	}

	delete(set, sub.id)

	last := len(set) == 0
	if last {
		delete(m.subs, sub.topic)
	}
	m.mu.Unlock()

	if last {
		m.syncTopic(sub.topic)
	}
}

// syncTopic brings the live connection's subscription of topic in line with
// the local subscribers. Whoever runs last sees the latest local state, so
// racing subscribe and unsubscribe calls settle correctly.
func (m *Manager) syncTopic(topic string) {
	m.upMu.Lock()
	defer m.upMu.Unlock()

	m.mu.Lock()
	conn := m.conn
	_, want := m.subs[topic]
	m.mu.Unlock()

	if conn == nil || conn != m.upConn || m.upTopics[topic] == want {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.upstreamTimeout)
	defer cancel()

	var err error
	if want {
		err = conn.Subscribe(ctx, topic)
	} else {
		err = conn.Unsubscribe(ctx, topic)
	}

	if err != nil {
		// a broken connection is noticed by the receive loop, which
		// re-subscribes every topic after reconnecting
		m.logger.Warn("Upstream topic change failed",
			"topic", topic,
			"subscribe", want,
			"error", err)
		return
	}

	if want {
		m.upTopics[topic] = true
	} else {
		delete(m.upTopics, topic)
	}
}

// Connected reports whether the connection is currently up
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connected
}

// Topics returns the topics that currently have subscribers
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	topics := make([]string, 0, len(m.subs))
	for t := range m.subs {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	return topics
}

// OnConnectionChange registers fn to be told about connection changes
func (m *Manager) OnConnectionChange(fn func(connected bool)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Close tears the connection down. Outstanding unsubscribe funcs stay safe
// to call.
func (m *Manager) Close() error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil
	}

	m.closed = true
	conn := m.conn
	wasConnected := m.connected
	m.conn = nil
	m.connected = false

	for topic, set := range m.subs {
		for _, sub := range set {
			sub.active.Store(false)
		}
		delete(m.subs, topic)
	}

	m.mu.Unlock()

	m.cancel()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	m.wg.Wait()

	if wasConnected {
		m.metrics.SetConnected(false)
		m.notify(false)
	}

	m.logger.Info("Realtime manager closed")
	return err
}

func (m *Manager) run() {
	defer m.wg.Done()

	attempt := 0

	for m.ctx.Err() == nil {
		conn, err := m.transport.Dial(m.ctx)

		if err == nil {
			err = m.attach(conn)
		}

		if err != nil {
			if m.ctx.Err() != nil {
				return
			}

			attempt++
			wait := m.backoff.NextBackoff(attempt)
			m.logger.Warn("Realtime connection failed, retrying",
				"error", err,
				"attempt", attempt,
				"backoff", wait)

			if retry.Sleep(m.ctx, wait) != nil {
				return
			}
			continue
		}

		up := time.Now()
		m.receive(conn)
		m.detach(conn)

		if m.ctx.Err() != nil {
			return
		}

		if time.Since(up) >= stableConnection {
			attempt = 0
			continue
		}

		// a connection that drops right away counts as a failed attempt
		attempt++
		if retry.Sleep(m.ctx, m.backoff.NextBackoff(attempt)) != nil {
			return
		}
	}
}

// attach subscribes every active topic on conn and then makes it the live
// connection
func (m *Manager) attach(conn Conn) error {
	m.upMu.Lock()

	m.mu.Lock()
	topics := make([]string, 0, len(m.subs))
	for t := range m.subs {
		topics = append(topics, t)
	}
	m.mu.Unlock()

	sort.Strings(topics)

	subscribed := make(map[string]bool, len(topics))
	for _, topic := range topics {
		ctx, cancel := context.WithTimeout(m.ctx, m.upstreamTimeout)
		err := conn.Subscribe(ctx, topic)
		cancel()

		if err != nil {
			m.upMu.Unlock()
			conn.Close()
			return fmt.Errorf("failed to subscribe %s: %w", topic, err)
		}
		subscribed[topic] = true
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.upMu.Unlock()
		conn.Close()
		return apperrors.ErrClosed
	}

	m.conn = conn
	m.connected = true
	reconnect := m.everUp
	m.everUp = true
	m.mu.Unlock()

	// topics added or dropped while subscribing are reconciled by their
	// syncTopic calls, which wait on upMu
	m.upConn = conn
	m.upTopics = subscribed
	m.upMu.Unlock()

	if reconnect {
		m.metrics.Reconnected()
	}
	m.metrics.SetConnected(true)

	m.logger.Info("Realtime connected", "topics", len(topics), "reconnect", reconnect)
	m.notify(true)

	return nil
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	current := m.conn == conn
	if current {
		m.conn = nil
		m.connected = false
	}
	m.mu.Unlock()

	conn.Close()

	if current {
		m.metrics.SetConnected(false)
		m.notify(false)
	}
}

func (m *Manager) receive(conn Conn) {
	for {
		msg, err := conn.Receive(m.ctx)

		if errors.Is(err, ErrMalformedMessage) {
			m.metrics.RealtimeMessage("malformed")
			m.logger.Warn("Dropping malformed realtime message", "error", err)
			continue
		}

		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.Warn("Realtime connection lost", "error", err)
			}
			return
		}

		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = time.Now()
		}

		m.dispatch(msg)
	}
}

// dispatch runs every handler of the message's topic in subscription order
func (m *Manager) dispatch(msg Message) {
	m.mu.Lock()
	set := m.subs[msg.Topic]
	subs := make([]*subscription, 0, len(set))
	for _, sub := range set {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	if len(subs) == 0 {
		m.metrics.RealtimeMessage("unrouted")
		m.logger.Debug("No subscribers for topic", "topic", msg.Topic)
		return
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		m.invoke(sub, msg)
	}
}

func (m *Manager) invoke(sub *subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.RealtimeMessage("panic")
			m.logger.Error("Realtime handler panicked",
				"topic", msg.Topic,
				"subscription", sub.id,
				"panic", r)
		}
	}()

	if err := sub.handler(m.ctx, msg); err != nil {
		m.metrics.RealtimeMessage("failed")
		m.logger.Warn("Realtime handler failed",
			"topic", msg.Topic,
			"subscription", sub.id,
			"error", err)
		return
	}

	m.metrics.RealtimeMessage("delivered")
}

func (m *Manager) notify(connected bool) {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}
