package messaging

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

// Message is one delivery from a topic. Deliveries are at-least-once: a
// message that is never acknowledged may be delivered again.
type Message struct {
	ID      string
	Topic   string
	Payload []byte

	ack func(ctx context.Context) error
}

// NewMessage builds a delivery. ack may be nil for brokers that do not
// redeliver.
func NewMessage(id, topic string, payload []byte, ack func(ctx context.Context) error) *Message {
	return &Message{ID: id, Topic: topic, Payload: payload, ack: ack}
}

// Ack confirms the message has been handled.
func (m *Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// Handler receives deliveries in topic order. It may acknowledge later,
// from another goroutine.
type Handler func(ctx context.Context, msg *Message) error

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe blocks, delivering messages to handler until ctx is done
	// or the broker is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
