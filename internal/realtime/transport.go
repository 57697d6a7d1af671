package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrMalformedMessage is returned by Conn.Receive for a frame that could not
// be decoded. The connection stays usable.
var ErrMalformedMessage = errors.New("malformed realtime message")

// Message is one push delivered on a topic
type Message struct {
	Topic      string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Decode unmarshals the payload into v
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return ErrMalformedMessage
	}
	return json.Unmarshal(m.Payload, v)
}

// Transport opens connections to the push channel
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live connection. Receive is only called from a single
// goroutine; Subscribe and Unsubscribe may be called concurrently with it.
type Conn interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}
