package tracker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/internal/realtime"
	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
)

type fakeSource struct {
	mu      sync.Mutex
	latest  *models.Order
	byID    map[string]*models.Order
	err     error
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (s *fakeSource) LatestOrder(ctx context.Context, departmentID string) (*models.Order, error) {
	s.mu.Lock()
	s.calls++
	block, started := s.block, s.started
	order, err := s.latest.Clone(), s.err
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}

	return order, err
}

func (s *fakeSource) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return nil, s.err
	}

	o, ok := s.byID[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("order not found")
	}

	return o.Clone(), nil
}

func (s *fakeSource) set(o *models.Order, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest, s.err = o, err
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// fakeSubscriber records handlers so tests can deliver messages directly
type fakeSubscriber struct {
	mu        sync.Mutex
	handlers  map[string][]realtime.Handler
	listeners []func(bool)
	connected bool
	unsubbed  int
}

func newFakeSubscriber(connected bool) *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[string][]realtime.Handler), connected: connected}
}

func (f *fakeSubscriber) Subscribe(topic string, h realtime.Handler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handlers[topic] = append(f.handlers[topic], h)
	idx := len(f.handlers[topic]) - 1

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.handlers[topic][idx] = nil
			f.unsubbed++
		})
	}, nil
}

func (f *fakeSubscriber) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected
}

func (f *fakeSubscriber) OnConnectionChange(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listeners = append(f.listeners, fn)
	return func() {}
}

func (f *fakeSubscriber) setConnected(up bool) {
	f.mu.Lock()
	f.connected = up
	ls := append([]func(bool){}, f.listeners...)
	f.mu.Unlock()

	for _, fn := range ls {
		fn(up)
	}
}

func (f *fakeSubscriber) publish(topic string, v interface{}) []error {
	data, _ := json.Marshal(v)

	f.mu.Lock()
	hs := append([]realtime.Handler{}, f.handlers[topic]...)
	f.mu.Unlock()

	var errs []error
	for _, h := range hs {
		if h == nil {
			continue
		}
		if err := h(context.Background(), realtime.Message{Topic: topic, Payload: data}); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

func (f *fakeSubscriber) active(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, h := range f.handlers[topic] {
		if h != nil {
			n++
		}
	}
	return n
}

func pushMessage(t interface{ Fatal(...interface{}) }, v interface{}) realtime.Message {
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return realtime.Message{Topic: realtime.OrderWindowTopic, Payload: data}
}
