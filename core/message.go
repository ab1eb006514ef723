package core

import "context"

// Delivery is the broker-agnostic inbound message.
// Implementations are provided by transport plugins.
type Delivery interface {
	Exchange() string
	RoutingKey() string
	Body() []byte
	Headers() map[string]string
	Redelivered() bool

	// Ack acknowledges the delivery, removing it from the queue.
	Ack() error

	// Nack negatively acknowledges the delivery. With requeue false the
	// delivery is dropped (or dead-lettered by the broker).
	Nack(requeue bool) error
}

// Handler is the low-level handler a transport calls for every delivery of a
// subscription. Errors it returns are logged by the transport; they never stop
// the dispatch loop. Users should prefer HandlerFunc which receives a Context.
type Handler func(ctx context.Context, d Delivery) error
