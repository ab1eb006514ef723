package mock

import "sync"

// Delivery is a simple core.Delivery implementation for testing.
type Delivery struct {
	Ex      string
	Key     string
	Payload []byte
	H       map[string]string
	Redeliv bool
	AckErr  error
	NackErr error

	mu      sync.Mutex
	acked   int
	nacked  int
	requeue bool
}

func (d *Delivery) Exchange() string           { return d.Ex }
func (d *Delivery) RoutingKey() string         { return d.Key }
func (d *Delivery) Body() []byte               { return d.Payload }
func (d *Delivery) Headers() map[string]string { return d.H }
func (d *Delivery) Redelivered() bool          { return d.Redeliv }

func (d *Delivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked++
	return d.AckErr
}

func (d *Delivery) Nack(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacked++
	d.requeue = requeue
	return d.NackErr
}

// Acked returns how many times Ack was called.
func (d *Delivery) Acked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked
}

// Nacked returns how many times Nack was called and the last requeue flag.
func (d *Delivery) Nacked() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nacked, d.requeue
}
