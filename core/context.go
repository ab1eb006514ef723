package core

import (
	"context"
	"fmt"
	"sync"
)

// Context is the handler context for a single delivery.
// It wraps the delivery, provides deserialization via Bind and lets a
// handler republish the payload. Acknowledgment is owned by the Router.
type Context interface {
	// Context returns the underlying context.Context.
	Context() context.Context

	// SetContext replaces the underlying context.Context.
	// Useful for middleware that enriches the context with values or deadlines.
	SetContext(ctx context.Context)

	// Delivery returns the raw underlying Delivery.
	Delivery() Delivery

	// Queue returns the queue the delivery was consumed from.
	Queue() string

	// Exchange returns the exchange the message was published to.
	Exchange() string

	// RoutingKey returns the routing key the message arrived on.
	RoutingKey() string

	// Body returns the raw payload.
	Body() []byte

	// Text returns the payload as a string. The Router only dispatches
	// deliveries whose payload is valid UTF-8.
	Text() string

	// Header returns a single header value by key.
	Header(key string) string

	// Bind deserializes the payload into v using the router's Binder.
	Bind(v any) error

	// Republish sends the current payload to another exchange and routing key.
	// Useful for dead-letter routing or fan-out.
	Republish(exchange, routingKey string) error

	// Set stores a key-value pair in the context store.
	// Used by middleware to pass data to downstream handlers.
	Set(key string, val any)

	// Get retrieves a value from the context store.
	Get(key string) (any, bool)
}

// HandlerFunc is the function signature for routing-key handlers.
//
//	b.Handle(topology.TestTopic, func(c core.Context) error {
//	    var order Order
//	    return c.Bind(&order)
//	})
type HandlerFunc func(c Context) error

// MiddlewareFunc wraps a HandlerFunc to add cross-cutting behavior.
type MiddlewareFunc func(HandlerFunc) HandlerFunc

type deliveryContext struct {
	ctx    context.Context
	d      Delivery
	queue  string
	bus    Bus
	binder Binder
	store  map[string]any
	mu     sync.RWMutex
}

// NewContext creates a Context for the given delivery.
// This is called internally by the Router for each incoming delivery.
func NewContext(ctx context.Context, d Delivery, queue string, b Bus, binder Binder) Context {
	return &deliveryContext{
		ctx:    ctx,
		d:      d,
		queue:  queue,
		bus:    b,
		binder: binder,
		store:  make(map[string]any),
	}
}

func (c *deliveryContext) Context() context.Context { return c.ctx }

func (c *deliveryContext) SetContext(ctx context.Context) { c.ctx = ctx }

func (c *deliveryContext) Delivery() Delivery { return c.d }

func (c *deliveryContext) Queue() string { return c.queue }

func (c *deliveryContext) Exchange() string { return c.d.Exchange() }

func (c *deliveryContext) RoutingKey() string { return c.d.RoutingKey() }

func (c *deliveryContext) Body() []byte { return c.d.Body() }

func (c *deliveryContext) Text() string { return string(c.d.Body()) }

func (c *deliveryContext) Header(key string) string {
	return c.d.Headers()[key]
}

func (c *deliveryContext) Bind(v any) error {
	if c.binder == nil {
		return fmt.Errorf("eventbus: no binder configured")
	}
	if err := c.binder.Bind(c.d.Body(), v); err != nil {
		return fmt.Errorf("eventbus: bind: %w", err)
	}
	return nil
}

func (c *deliveryContext) Republish(exchange, routingKey string) error {
	if c.bus == nil {
		return ErrNoBus
	}
	if err := c.bus.Publish(c.ctx, exchange, routingKey, c.d.Body()); err != nil {
		return fmt.Errorf("eventbus: republish to %q/%q: %w", exchange, routingKey, err)
	}
	return nil
}

func (c *deliveryContext) Set(key string, val any) {
	c.mu.Lock()
	c.store[key] = val
	c.mu.Unlock()
}

func (c *deliveryContext) Get(key string) (any, bool) {
	c.mu.RLock()
	val, ok := c.store[key]
	c.mu.RUnlock()
	return val, ok
}
