package memory

import (
	"errors"
	"fmt"
	"sync"
)

var errSettled = errors.New("delivery already settled")

// delivery is one copy of a message routed to a queue.
type delivery struct {
	bus         *Bus
	queue       *queue
	exchange    string
	key         string
	body        []byte
	headers     map[string]string
	redelivered bool

	mu      sync.Mutex
	settled bool
}

func (d *delivery) Exchange() string   { return d.exchange }
func (d *delivery) RoutingKey() string { return d.key }
func (d *delivery) Body() []byte       { return d.body }
func (d *delivery) Redelivered() bool  { return d.redelivered }

func (d *delivery) Headers() map[string]string {
	h := make(map[string]string, len(d.headers))
	for k, v := range d.headers {
		h[k] = v
	}
	return h
}

// Ack settles the delivery.
func (d *delivery) Ack() error {
	if err := d.settle(); err != nil {
		return fmt.Errorf("eventbus/memory: ack: %w", err)
	}
	return nil
}

// Nack settles the delivery. With requeue a copy marked as redelivered is
// put back on the queue.
func (d *delivery) Nack(requeue bool) error {
	if err := d.settle(); err != nil {
		return fmt.Errorf("eventbus/memory: nack: %w", err)
	}
	if !requeue {
		return nil
	}
	if err := d.bus.requeue(d); err != nil {
		return fmt.Errorf("eventbus/memory: nack: %w", err)
	}
	return nil
}

func (d *delivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return errSettled
	}
	d.settled = true
	return nil
}
