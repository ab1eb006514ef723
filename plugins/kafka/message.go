package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

const (
	headerRoutingKey = "routing-key"
	headerMessageID  = "message-id"
)

// delivery adapts a kafka.Message to core.Delivery.
// It holds a reference to the reader for offset management.
type delivery struct {
	raw    kafka.Message
	reader *kafka.Reader
	ctx    context.Context
}

func (m *delivery) Exchange() string   { return m.raw.Topic }
func (m *delivery) RoutingKey() string { return routingKeyOf(m.raw) }
func (m *delivery) Body() []byte       { return m.raw.Value }

// Redelivered is always false; Kafka does not track delivery attempts.
func (m *delivery) Redelivered() bool { return false }

func (m *delivery) Headers() map[string]string {
	h := make(map[string]string, len(m.raw.Headers))
	for _, kh := range m.raw.Headers {
		h[kh.Key] = string(kh.Value)
	}
	return h
}

// Ack commits the offset for this message.
func (m *delivery) Ack() error {
	if err := m.reader.CommitMessages(m.ctx, m.raw); err != nil {
		return fmt.Errorf("eventbus/kafka: commit offset: %w", err)
	}
	return nil
}

// Nack without requeue commits the offset so the message is skipped. With
// requeue nothing is committed and the message is redelivered after the
// next consumer group rebalance or restart.
func (m *delivery) Nack(requeue bool) error {
	if requeue {
		return nil
	}
	if err := m.reader.CommitMessages(m.ctx, m.raw); err != nil {
		return fmt.Errorf("eventbus/kafka: nack: %w", err)
	}
	return nil
}

// routingKeyOf prefers the routing-key header and falls back to the
// message key.
func routingKeyOf(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == headerRoutingKey {
			return string(h.Value)
		}
	}
	return string(m.Key)
}
