package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/miladsoleymani/eventbus/core"
)

// Bus is a test double for core.Bus.
type Bus struct {
	mu        sync.Mutex
	published []Published
	listens   []Listen
	handlers  map[string]core.Handler
	subs      core.SubscriptionSet
	closed    int

	PublishErr error
	ListenErr  error
	CloseErr   error
}

// Published records a message sent through Publish.
type Published struct {
	Exchange   string
	RoutingKey string
	Payload    []byte
}

// Listen records a Listen call.
type Listen struct {
	Queue       string
	Exchange    string
	RoutingKeys []string
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string]core.Handler),
	}
}

func (b *Bus) Publish(_ context.Context, exchange, routingKey string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed > 0 {
		return core.ErrBusClosed
	}
	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.published = append(b.published, Published{Exchange: exchange, RoutingKey: routingKey, Payload: payload})
	return nil
}

func (b *Bus) Listen(_ context.Context, queue, exchange string, routingKeys []string, h core.Handler) (core.Subscription, error) {
	b.mu.Lock()
	if b.closed > 0 {
		b.mu.Unlock()
		return nil, core.ErrBusClosed
	}
	if b.ListenErr != nil {
		err := b.ListenErr
		b.mu.Unlock()
		return nil, err
	}
	b.listens = append(b.listens, Listen{Queue: queue, Exchange: exchange, RoutingKeys: routingKeys})
	b.handlers[queue] = h
	b.mu.Unlock()

	// Simulates a dispatch loop that idles until stopped.
	sub := core.StartSubscription(queue, b.subs.NextTag(queue), nil, func(ctx context.Context) {
		<-ctx.Done()
	})
	b.subs.Add(sub)
	return sub, nil
}

func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed++
	n := b.closed
	b.mu.Unlock()
	if n > 1 {
		return core.ErrBusClosed
	}
	if err := b.subs.StopAll(ctx); err != nil {
		return err
	}
	return b.CloseErr
}

// Deliver simulates an incoming delivery on queue by invoking the handler
// registered through Listen.
func (b *Bus) Deliver(ctx context.Context, queue string, d core.Delivery) error {
	b.mu.Lock()
	h, ok := b.handlers[queue]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("mock: no listener on queue %q", queue)
	}
	return h(ctx, d)
}

// Published returns all messages sent via Publish.
func (b *Bus) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// Listens returns all successful Listen calls.
func (b *Bus) Listens() []Listen {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Listen, len(b.listens))
	copy(out, b.listens)
	return out
}

// ActiveSubscriptions returns the number of dispatch loops still running.
func (b *Bus) ActiveSubscriptions() int {
	return len(b.subs.Active())
}

// IsClosed reports whether Close was called.
func (b *Bus) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed > 0
}
