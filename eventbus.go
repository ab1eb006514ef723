// Package eventbus is the application-facing message broker facade. It
// binds a transport (core.Bus) to the topology registry so callers publish
// and listen with typed identifiers instead of wire strings:
//
//	mb, err := eventbus.Open(ctx, cfg)
//	mb.Handle(topology.TestTopic, func(c core.Context) error { ... })
//	sub, err := mb.Listen(ctx, topology.TestQueue, topology.TestExchange, topology.RoutingKeys())
//	err = mb.Publish(ctx, topology.TestExchange, topology.TestTopic, []byte("hello"))
//	err = mb.Close(ctx)
//
// Transports register themselves with the broker package; import the ones
// you need for their side effect.
package eventbus

import (
	"context"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
	"github.com/miladsoleymani/eventbus/topology"
)

// Re-export core types at the package level for ergonomic usage.
type (
	Bus          = core.Bus
	Subscription = core.Subscription
	Delivery     = core.Delivery
	Context      = core.Context
	HandlerFunc  = core.HandlerFunc
	Middleware   = core.MiddlewareFunc
	Config       = broker.Config
)

// MessageBroker owns one Bus and forwards to it. Deliveries are dispatched
// through a Router that only accepts routing keys known to the topology.
type MessageBroker struct {
	bus    core.Bus
	router *core.Router
}

// New wraps an existing Bus.
func New(b core.Bus) *MessageBroker {
	r := core.NewRouter(b)
	r.SetKeyDecoder(topology.ValidateRoutingKey)
	return &MessageBroker{bus: b, router: r}
}

// Open creates the transport named by cfg.Transport, declaring every
// exchange of the topology unless cfg lists its own.
func Open(ctx context.Context, cfg broker.Config) (*MessageBroker, error) {
	cfg = cfg.WithDefaults()
	if len(cfg.Exchanges) == 0 {
		cfg.Exchanges = topology.ExchangeNames()
	}
	b, err := broker.Create(ctx, cfg.Transport, cfg)
	if err != nil {
		return nil, err
	}
	mb := New(b)
	mb.router.SetRequeueOnError(cfg.RequeueOnError)
	return mb, nil
}

// Bus returns the underlying transport.
func (m *MessageBroker) Bus() core.Bus { return m.bus }

// Router returns the router deliveries are dispatched through.
func (m *MessageBroker) Router() *core.Router { return m.router }

// Use registers middleware. Given [A, B] the call order is A -> B -> handler.
func (m *MessageBroker) Use(mw core.MiddlewareFunc) { m.router.Use(mw) }

// Handle registers the handler for routing key k. Keys without a handler
// are logged and acknowledged.
func (m *MessageBroker) Handle(k topology.RoutingKey, h core.HandlerFunc) {
	m.router.Handle(k.String(), h)
}

// Publish sends payload to exchange with routing key k and waits for the
// broker's confirmation.
func (m *MessageBroker) Publish(ctx context.Context, exchange topology.Exchange, k topology.RoutingKey, payload []byte) error {
	if m.bus == nil {
		return core.ErrNoBus
	}
	return m.bus.Publish(ctx, exchange.String(), k.String(), payload)
}

// Listen declares q, binds it to exchange for every key in keys and starts
// a dispatch loop. It returns once setup is done; the loop runs until the
// subscription is stopped or the broker is closed.
func (m *MessageBroker) Listen(ctx context.Context, q topology.Queue, exchange topology.Exchange, keys []topology.RoutingKey) (core.Subscription, error) {
	if m.bus == nil {
		return nil, core.ErrNoBus
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return m.bus.Listen(ctx, q.String(), exchange.String(), names, m.router.Handler(q.String()))
}

// Close stops every dispatch loop and closes the transport. A second call
// returns core.ErrBusClosed.
func (m *MessageBroker) Close(ctx context.Context) error {
	if m.bus == nil {
		return core.ErrNoBus
	}
	return m.bus.Close(ctx)
}
