package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// KeyDecoder validates a routing key received from the transport. It must
// fail for any key outside the known topology.
type KeyDecoder func(routingKey string) error

// Router turns raw deliveries into routing-key specific handler calls.
// For every delivery it decodes the payload as text, decodes the routing
// key, runs the matching handler through the middleware chain and then
// acknowledges. It holds no per-delivery state, so one Router may serve any
// number of dispatch loops.
type Router struct {
	bus         Bus
	binder      Binder
	decode      KeyDecoder
	fallback    HandlerFunc
	middlewares []MiddlewareFunc
	routes      map[string]HandlerFunc
	requeue     bool
	mu          sync.RWMutex
}

// NewRouter creates a Router. b is used by Context.Republish and may be nil.
// It uses JSONBinder for deserialization and logs deliveries that have no
// registered handler.
func NewRouter(b Bus) *Router {
	return &Router{
		bus:      b,
		binder:   JSONBinder{},
		fallback: logPayload,
		routes:   make(map[string]HandlerFunc),
	}
}

// SetBinder replaces the binder used by Context.Bind.
func (r *Router) SetBinder(b Binder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.binder = b
}

// SetKeyDecoder installs the routing key decoder. Deliveries whose key it
// rejects are dropped with an ErrDecoding error.
func (r *Router) SetKeyDecoder(d KeyDecoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decode = d
}

// SetFallback sets the handler used for keys without a registered handler.
// A nil h restores the default, which logs the payload and acks.
func (r *Router) SetFallback(h HandlerFunc) {
	if h == nil {
		h = logPayload
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// SetRequeueOnError controls whether a delivery whose handler failed is
// requeued. Deliveries that fail decoding are never requeued.
func (r *Router) SetRequeueOnError(requeue bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requeue = requeue
}

// Use registers middleware. Given [A, B] the call order is A -> B -> handler.
func (r *Router) Use(m MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, m)
}

// Handle registers the handler for an exact routing key, replacing any
// previous one.
func (r *Router) Handle(routingKey string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[routingKey] = h
}

// Handler returns the low-level Handler a transport runs for queue.
func (r *Router) Handler(queue string) Handler {
	return func(ctx context.Context, d Delivery) error {
		return r.Dispatch(ctx, queue, d)
	}
}

// Dispatch processes one delivery and settles it exactly once: rejected on
// decoding failure, nacked on handler failure, acked otherwise.
func (r *Router) Dispatch(ctx context.Context, queue string, d Delivery) error {
	if !utf8.Valid(d.Body()) {
		return reject(d, Wrap(ErrDecoding, "decode payload",
			fmt.Errorf("delivery on %q is not valid UTF-8", d.RoutingKey())))
	}

	r.mu.RLock()
	decode := r.decode
	h, ok := r.routes[d.RoutingKey()]
	if !ok {
		h = r.fallback
	}
	mws := make([]MiddlewareFunc, len(r.middlewares))
	copy(mws, r.middlewares)
	binder := r.binder
	requeue := r.requeue
	r.mu.RUnlock()

	if decode != nil {
		if err := decode(d.RoutingKey()); err != nil {
			return reject(d, Wrap(ErrDecoding, "decode routing key", err))
		}
	}

	c := NewContext(ctx, d, queue, r.bus, binder)
	if err := applyMiddleware(h, mws)(c); err != nil {
		herr := fmt.Errorf("eventbus: handle %q: %w", d.RoutingKey(), err)
		if nerr := d.Nack(requeue); nerr != nil {
			return errors.Join(herr, Wrap(ErrAcknowledgment, "nack", nerr))
		}
		return herr
	}

	if err := d.Ack(); err != nil {
		return Wrap(ErrAcknowledgment, "ack", err)
	}
	return nil
}

func reject(d Delivery, cause error) error {
	if err := d.Nack(false); err != nil {
		return errors.Join(cause, Wrap(ErrAcknowledgment, "reject", err))
	}
	return cause
}

// applyMiddleware wraps a handler with middleware in reverse order.
// Given middleware [A, B, C], the call order is A -> B -> C -> handler.
func applyMiddleware(h HandlerFunc, mws []MiddlewareFunc) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func logPayload(c Context) error {
	log.WithFields(log.Fields{
		"queue":       c.Queue(),
		"exchange":    c.Exchange(),
		"routing_key": c.RoutingKey(),
	}).Infof("received message: %q", c.Text())
	return nil
}
