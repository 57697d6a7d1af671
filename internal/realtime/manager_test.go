package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/metrics"
	"github.com/vaidashi/stationery-orders/pkg/retry"
)

const waitFor = 2 * time.Second

func newTestManager(t *testing.T, tr Transport) *Manager {
	t.Helper()

	m := NewManager(tr, ManagerConfig{
		BackoffStrategy: &retry.ConstantBackoff{Interval: 5 * time.Millisecond},
	}, logger.Nop(), metrics.New())
	t.Cleanup(func() { m.Close() })

	return m
}

func nextConn(t *testing.T, tr *fakeTransport) *fakeConn {
	t.Helper()

	select {
	case c := <-tr.dialled:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()

	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recorder collects payload values delivered to a handler
type recorder struct {
	mu  sync.Mutex
	got []int
	ch  chan int
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan int, 64)}
}

func (r *recorder) handle(ctx context.Context, msg Message) error {
	var v struct{ N int }
	if err := msg.Decode(&v); err != nil {
		return err
	}

	r.mu.Lock()
	r.got = append(r.got, v.N)
	r.mu.Unlock()

	r.ch <- v.N
	return nil
}

func (r *recorder) wait(t *testing.T) int {
	t.Helper()

	select {
	case n := <-r.ch:
		return n
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for message")
		return 0
	}
}

func (r *recorder) values() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]int(nil), r.got...)
}

type num struct{ N int }

func TestConnectsLazily(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(t, tr)

	select {
	case <-tr.dialled:
		t.Fatal("dialled before the first subscription")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := m.Subscribe(OrdersTopic("7"), newRecorder().handle); err != nil {
		t.Fatal(err)
	}

	conn := nextConn(t, tr)
	eventually(t, func() bool { return conn.subscribed("orders/7") }, "upstream subscribe")
	eventually(t, m.Connected, "connected")
}

func TestFanOutPreservesOrder(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(t, tr)

	a, b := newRecorder(), newRecorder()
	m.Subscribe(OrderWindowTopic, a.handle)
	m.Subscribe(OrderWindowTopic, b.handle)

	conn := nextConn(t, tr)
	eventually(t, m.Connected, "connected")

	for i := 1; i <= 5; i++ {
		conn.push(OrderWindowTopic, num{i})
	}

	for i := 1; i <= 5; i++ {
		if got := a.wait(t); got != i {
			t.Errorf("handler a got %d, want %d", got, i)
		}
		if got := b.wait(t); got != i {
			t.Errorf("handler b got %d, want %d", got, i)
		}
	}
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(t, tr)

	keep, gone := newRecorder(), newRecorder()
	m.Subscribe(AdminOrdersTopic, keep.handle)
	unsub, _ := m.Subscribe(AdminOrdersTopic, gone.handle)

	conn := nextConn(t, tr)
	eventually(t, m.Connected, "connected")

	unsub()
	unsub()

	conn.push(AdminOrdersTopic, num{1})
	keep.wait(t)

	if got := gone.values(); len(got) != 0 {
		t.Errorf("unsubscribed handler received %v", got)
	}

	if conn.subscribed(AdminOrdersTopic) == false {
		t.Error("topic must stay subscribed while another handler remains")
	}
}

func TestLastUnsubscribeReleasesTopic(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(t, tr)

	unsub, _ := m.Subscribe(NotificationsTopic("u-1"), newRecorder().handle)
	conn := nextConn(t, tr)
	eventually(t, m.Connected, "connected")

	unsub()

	if got := conn.unsubscribed(); len(got) != 1 || got[0] != "notifications/u-1" {
		t.Errorf("upstream unsubscribes = %v", got)
	}

	if len(m.Topics()) != 0 {
		t.Errorf("Topics() = %v, want none", m.Topics())
	}
}

func TestHandlerUnsubscribingSiblingMidDispatch(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(t, tr)

	second := newRecorder()
	var unsubSecond func()

	m.Subscribe(OrderWindowTopic, func(ctx context.Context, msg Message) error {
		unsubSecond()
		return nil
	})
	unsubSecond, _ = m.Subscribe(OrderWindowTopic, second.handle)

	probe := newRecorder()
	m.Subscribe(OrderWindowTopic, probe.handle)

	conn := nextConn(t, tr)
	eventually(t, m.Connected, "connected")

	conn.push(OrderWindowTopic, num{1})
	probe.wait(t)

	if got := second.values(); len(got) != 0 {
		t.Errorf("handler removed mid-dispatch still received %v", got)
	}
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(t, tr)

	m.Subscribe(OrderWindowTopic, func(ctx context.Context, msg Message) error {
		panic("boom")
	})
	m.Subscribe(OrderWindowTopic, func(ctx context.Context, msg Message) error {
		return errors.New("bad payload")
	})

	ok := newRecorder()
	m.Subscribe(OrderWindowTopic, ok.handle)

	conn := nextConn(t, tr)
	eventually(t, m.Connected, "connected")

	conn.push(OrderWindowTopic, num{1})
	conn.push(OrderWindowTopic, num{2})

	if ok.wait(t) != 1 || ok.wait(t) != 2 {
		t.Error("healthy handler missed messages")
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(t, tr)

	r := newRecorder()
	m.Subscribe(OrderWindowTopic, r.handle)

	conn := nextConn(t, tr)
	eventually(t, m.Connected, "connected")

	conn.inbox <- Message{}
	conn.push(OrderWindowTopic, num{3})

	if got := r.wait(t); got != 3 {
		t.Errorf("got %d, want 3", got)
	}

	select {
	case <-tr.dialled:
		t.Error("malformed frame caused a reconnect")
	default:
	}
}

func TestReconnectResubscribesAllTopics(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(t, tr)

	var (
		mu     sync.Mutex
		states []bool
	)
	m.OnConnectionChange(func(up bool) {
		mu.Lock()
		states = append(states, up)
		mu.Unlock()
	})

	r := newRecorder()
	m.Subscribe(OrdersTopic("7"), r.handle)
	m.Subscribe(OrderWindowTopic, newRecorder().handle)

	first := nextConn(t, tr)
	eventually(t, m.Connected, "connected")

	first.drop()

	second := nextConn(t, tr)
	eventually(t, func() bool {
		return second.subscribed("orders/7") && second.subscribed(OrderWindowTopic)
	}, "resubscribe")

	second.push(OrdersTopic("7"), num{9})
	if got := r.wait(t); got != 9 {
		t.Errorf("got %d after reconnect", got)
	}

	mu.Lock()
	defer mu.Unlock()

	want := []bool{true, false, true}
	if len(states) != len(want) {
		t.Fatalf("connection changes = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("connection changes = %v, want %v", states, want)
		}
	}
}

func TestRetriesFailedDial(t *testing.T) {
	tr := newFakeTransport()
	tr.failN = 2

	m := newTestManager(t, tr)
	m.Subscribe(OrderWindowTopic, newRecorder().handle)

	conn := nextConn(t, tr)
	eventually(t, func() bool { return conn.subscribed(OrderWindowTopic) }, "subscribe after retries")
}

// countingBackoff records the attempt numbers it is asked about
type countingBackoff struct {
	mu       sync.Mutex
	attempts []int
}

func (b *countingBackoff) NextBackoff(attempt int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts = append(b.attempts, attempt)
	return time.Millisecond
}

func (b *countingBackoff) seen() []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]int(nil), b.attempts...)
}

func TestFlappingConnectionBacksOff(t *testing.T) {
	tr := newFakeTransport()
	backoff := &countingBackoff{}

	m := NewManager(tr, ManagerConfig{BackoffStrategy: backoff}, logger.Nop(), metrics.New())
	t.Cleanup(func() { m.Close() })

	m.Subscribe(OrderWindowTopic, newRecorder().handle)

	for i := 0; i < 3; i++ {
		conn := nextConn(t, tr)
		eventually(t, func() bool { return conn.subscribed(OrderWindowTopic) }, "subscribed")
		conn.drop()
	}
	nextConn(t, tr)

	got := backoff.seen()
	if len(got) < 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("backoff attempts = %v, want growing attempts for connections that drop at once", got)
	}
}

func TestSubscribeWhileConnected(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(t, tr)

	m.Subscribe(OrderWindowTopic, newRecorder().handle)
	conn := nextConn(t, tr)
	eventually(t, m.Connected, "connected")

	r := newRecorder()
	m.Subscribe(NotificationsTopic("u-2"), r.handle)

	if !conn.subscribed("notifications/u-2") {
		t.Fatal("new topic was not subscribed upstream")
	}

	conn.push("notifications/u-2", num{4})
	if r.wait(t) != 4 {
		t.Error("unexpected payload")
	}
}

func TestSlowUpstreamSubscribeDoesNotBlockDelivery(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(t, tr)

	r := newRecorder()
	m.Subscribe(OrderWindowTopic, r.handle)
	conn := nextConn(t, tr)
	eventually(t, m.Connected, "connected")

	release := conn.stall()
	subscribed := make(chan func(), 1)
	go func() {
		unsub, _ := m.Subscribe(NotificationsTopic("u-3"), newRecorder().handle)
		subscribed <- unsub
	}()

	select {
	case <-conn.entered:
	case <-time.After(waitFor):
		t.Fatal("upstream subscribe never started")
	}

	// the upstream call is stalled; state reads and delivery must proceed
	if !m.Connected() {
		t.Error("manager reported disconnected during upstream subscribe")
	}
	conn.push(OrderWindowTopic, num{7})
	if r.wait(t) != 7 {
		t.Error("unexpected payload")
	}

	release()
	var unsub func()
	select {
	case unsub = <-subscribed:
	case <-time.After(waitFor):
		t.Fatal("subscribe did not return after upstream released")
	}
	if !conn.subscribed("notifications/u-3") {
		t.Fatal("topic was not subscribed upstream")
	}

	unsub()
	if conn.subscribed("notifications/u-3") {
		t.Error("topic still subscribed upstream after last unsubscribe")
	}
}

func TestCloseIsFinal(t *testing.T) {
	tr := newFakeTransport()
	m := NewManager(tr, ManagerConfig{}, logger.Nop(), nil)

	unsub, err := m.Subscribe(OrderWindowTopic, newRecorder().handle)
	if err != nil {
		t.Fatal(err)
	}
	nextConn(t, tr)
	eventually(t, m.Connected, "connected")

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if m.Connected() {
		t.Error("still connected after Close")
	}

	unsub()
	m.Close()

	if _, err := m.Subscribe(OrderWindowTopic, newRecorder().handle); !apperrors.Is(err, apperrors.ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
}

func TestSubscribeValidatesArguments(t *testing.T) {
	m := newTestManager(t, newFakeTransport())

	if _, err := m.Subscribe("", newRecorder().handle); !apperrors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("empty topic: %v", err)
	}

	if _, err := m.Subscribe(OrderWindowTopic, nil); !apperrors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("nil handler: %v", err)
	}
}
