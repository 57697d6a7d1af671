package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
	"github.com/vaidashi/stationery-orders/pkg/kafka"
	"github.com/vaidashi/stationery-orders/pkg/logger"
)

// KafkaTransport reads pushes relayed onto a single Kafka topic. Each record
// is keyed by its realtime topic and carries the payload as its value.
type KafkaTransport struct {
	Brokers     []string
	KafkaTopic  string
	GroupPrefix string
	Logger      logger.Logger
}

// Dial joins a consumer group unique to this connection so that every
// client instance sees every push
func (t *KafkaTransport) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn := newKafkaConn()

	consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers:       t.Brokers,
		Topics:        []string{t.KafkaTopic},
		ConsumerGroup: fmt.Sprintf("%s-%s", t.GroupPrefix, uuid.NewString()),
		FromNewest:    true,
	}, t.Logger)
	if err != nil {
		return nil, err
	}

	consumer.RegisterHandler(t.KafkaTopic, conn)

	if err := consumer.Start(); err != nil {
		consumer.Stop()
		return nil, err
	}

	conn.stop = consumer.Stop
	go conn.follow(consumer)
	return conn, nil
}

// consumption is the lifetime of whatever feeds a kafkaConn
type consumption interface {
	Done() <-chan struct{}
	Err() error
}

// follow closes the connection when the feeding consumer dies, so Receive
// reports the failure and the manager redials
func (c *kafkaConn) follow(src consumption) {
	select {
	case <-src.Done():
		if err := src.Err(); err != nil {
			c.fail(err)
		}
	case <-c.done:
	}
}

func (c *kafkaConn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.Close()
}

type kafkaConn struct {
	mu     sync.RWMutex
	topics map[string]bool

	messages chan Message
	done     chan struct{}
	once     sync.Once
	stop     func() error
	err      error
}

func newKafkaConn() *kafkaConn {
	return &kafkaConn{
		topics:   make(map[string]bool),
		messages: make(chan Message, 64),
		done:     make(chan struct{}),
	}
}

// Subscribe only filters locally; the consumer reads the whole relay topic
func (c *kafkaConn) Subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.topics[topic] = true
	return nil
}

func (c *kafkaConn) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.topics, topic)
	return nil
}

// HandleMessage implements kafka.MessageHandler
func (c *kafkaConn) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	topic := string(msg.Key)

	c.mu.RLock()
	wanted := c.topics[topic]
	c.mu.RUnlock()

	if !wanted {
		return nil
	}

	payload := json.RawMessage(append([]byte(nil), msg.Value...))

	received := msg.Timestamp
	if received.IsZero() {
		received = time.Now()
	}

	select {
	case c.messages <- Message{Topic: topic, Payload: payload, ReceivedAt: received}:
		return nil
	case <-c.done:
		return apperrors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *kafkaConn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.messages:
		if !json.Valid(msg.Payload) {
			return Message{}, fmt.Errorf("%w: payload on %s is not JSON", ErrMalformedMessage, msg.Topic)
		}
		return msg, nil
	case <-c.done:
		c.mu.RLock()
		err := c.err
		c.mu.RUnlock()

		if err != nil {
			return Message{}, fmt.Errorf("kafka consumer failed: %w", err)
		}
		return Message{}, apperrors.ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *kafkaConn) Close() error {
	var err error

	c.once.Do(func() {
		close(c.done)
		if c.stop != nil {
			err = c.stop()
		}
	})

	return err
}
