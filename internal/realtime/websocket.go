package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
)

// frame is the JSON envelope exchanged with the backend socket
type frame struct {
	Action  string          `json:"action,omitempty"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WebSocketTransport dials the backend push socket
type WebSocketTransport struct {
	URL          string
	Token        string
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

// NewWebSocketTransport creates a transport for url authenticated with token
func NewWebSocketTransport(url, token string) *WebSocketTransport {
	return &WebSocketTransport{
		URL:          url,
		Token:        token,
		Dialer:       websocket.DefaultDialer,
		WriteTimeout: 5 * time.Second,
	}
}

// Dial opens a socket connection
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, apperrors.NewUnauthorizedError("realtime handshake rejected")
		}
		return nil, fmt.Errorf("failed to dial %s: %w", t.URL, err)
	}

	return &wsConn{ws: ws, writeTimeout: t.WriteTimeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

func (c *wsConn) write(ctx context.Context, f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}

	return c.ws.WriteJSON(f)
}

func (c *wsConn) Subscribe(ctx context.Context, topic string) error {
	return c.write(ctx, frame{Action: "subscribe", Topic: topic})
}

func (c *wsConn) Unsubscribe(ctx context.Context, topic string) error {
	return c.write(ctx, frame{Action: "unsubscribe", Topic: topic})
}

// Receive blocks until a frame arrives. Close unblocks it.
func (c *wsConn) Receive(ctx context.Context) (Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, err
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if f.Topic == "" || len(f.Payload) == 0 {
		return Message{}, fmt.Errorf("%w: missing topic or payload", ErrMalformedMessage)
	}

	return Message{Topic: f.Topic, Payload: f.Payload, ReceivedAt: time.Now()}, nil
}

func (c *wsConn) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})

	return err
}
