package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// delivery adapts an amqp.Delivery to core.Delivery.
type delivery struct {
	d amqp.Delivery
}

func (m *delivery) Exchange() string   { return m.d.Exchange }
func (m *delivery) RoutingKey() string { return m.d.RoutingKey }
func (m *delivery) Body() []byte       { return m.d.Body }
func (m *delivery) Redelivered() bool  { return m.d.Redelivered }

func (m *delivery) Headers() map[string]string {
	h := make(map[string]string, len(m.d.Headers)+1)
	for k, v := range m.d.Headers {
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprintf("%v", v)
		}
	}
	if m.d.MessageId != "" {
		h["message-id"] = m.d.MessageId
	}
	return h
}

// Ack acknowledges the delivery, removing it from the queue.
func (m *delivery) Ack() error {
	if err := m.d.Ack(false); err != nil {
		return fmt.Errorf("eventbus/rabbitmq: ack: %w", err)
	}
	return nil
}

// Nack negatively acknowledges the delivery. With requeue the message is
// returned to the queue for redelivery.
func (m *delivery) Nack(requeue bool) error {
	if err := m.d.Nack(false, requeue); err != nil {
		return fmt.Errorf("eventbus/rabbitmq: nack: %w", err)
	}
	return nil
}
