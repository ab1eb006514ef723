package nats

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// delivery adapts a JetStream message to core.Delivery. The exchange and
// routing key are recovered from the subject "<exchange>.<routing key>".
type delivery struct {
	msg      jetstream.Msg
	exchange string
}

func (m *delivery) Exchange() string { return m.exchange }

func (m *delivery) RoutingKey() string {
	return strings.TrimPrefix(m.msg.Subject(), m.exchange+".")
}

func (m *delivery) Body() []byte { return m.msg.Data() }

func (m *delivery) Redelivered() bool {
	md, err := m.msg.Metadata()
	return err == nil && md.NumDelivered > 1
}

func (m *delivery) Headers() map[string]string {
	raw := m.msg.Headers()
	h := make(map[string]string, len(raw))
	for k, v := range raw {
		if len(v) > 0 {
			h[k] = v[0]
		}
	}
	return h
}

// Ack acknowledges the message, marking it as processed.
func (m *delivery) Ack() error {
	if err := m.msg.Ack(); err != nil {
		return fmt.Errorf("eventbus/nats: ack: %w", err)
	}
	return nil
}

// Nack with requeue asks the server to redeliver the message, bounded by the
// consumer's MaxDeliver. Without requeue the message is terminated.
func (m *delivery) Nack(requeue bool) error {
	var err error
	if requeue {
		err = m.msg.Nak()
	} else {
		err = m.msg.Term()
	}
	if err != nil {
		return fmt.Errorf("eventbus/nats: nack: %w", err)
	}
	return nil
}
