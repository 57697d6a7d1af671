package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var errConnDropped = errors.New("connection dropped")

// fakeTransport hands out in-memory connections and records every dial
type fakeTransport struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dialled chan *fakeConn
	failN   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialled: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	if t.failN > 0 {
		t.failN--
		t.mu.Unlock()
		return nil, errors.New("dial refused")
	}

	c := &fakeConn{
		inbox:  make(chan Message, 16),
		done:   make(chan struct{}),
		topics: make(map[string]int),
	}
	t.conns = append(t.conns, c)
	t.mu.Unlock()

	t.dialled <- c
	return c, nil
}

type fakeConn struct {
	mu      sync.Mutex
	topics  map[string]int
	unsubs  []string
	inbox   chan Message
	done    chan struct{}
	once    sync.Once
	dropErr error

	// hold, when set, stalls Subscribe until closed; entered reports each
	// stalled topic
	hold    chan struct{}
	entered chan string
}

func (c *fakeConn) stall() (release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hold = make(chan struct{})
	c.entered = make(chan string, 16)

	hold := c.hold
	return func() { close(hold) }
}

func (c *fakeConn) Subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	hold, entered := c.hold, c.entered
	c.mu.Unlock()

	if hold != nil {
		entered <- topic
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.topics[topic]++
	return nil
}

func (c *fakeConn) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.topics, topic)
	c.unsubs = append(c.unsubs, topic)
	return nil
}

func (c *fakeConn) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.topics[topic] > 0
}

func (c *fakeConn) unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.unsubs...)
}

func (c *fakeConn) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-c.inbox:
		if m.Topic == "" {
			return Message{}, ErrMalformedMessage
		}
		return m, nil
	case <-c.done:
		c.mu.Lock()
		err := c.dropErr
		c.mu.Unlock()
		if err == nil {
			err = errors.New("closed")
		}
		return Message{}, err
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// drop simulates the server going away
func (c *fakeConn) drop() {
	c.mu.Lock()
	c.dropErr = errConnDropped
	c.mu.Unlock()
	c.Close()
}

func (c *fakeConn) push(topic string, v interface{}) {
	data, _ := json.Marshal(v)
	c.inbox <- Message{Topic: topic, Payload: data}
}
