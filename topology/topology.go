// Package topology is the registry of every exchange, queue and routing key
// the application knows about. Adding a topic means adding one constant and
// its wire name here; nothing else branches on topic identity.
package topology

import (
	"fmt"

	"github.com/miladsoleymani/eventbus/core"
)

// Exchange identifies a durable topic exchange.
type Exchange int

const (
	TestExchange Exchange = iota + 1
)

// Queue identifies a consumer-bound queue.
type Queue int

const (
	TestQueue Queue = iota + 1
)

// RoutingKey identifies a topic token messages are published with.
type RoutingKey int

const (
	TestTopic RoutingKey = iota + 1
	TestTopicTwo
)

var (
	exchanges = newTable("exchange", []entry[Exchange]{
		{TestExchange, "test_exchange"},
	})
	queues = newTable("queue", []entry[Queue]{
		{TestQueue, "test_queue"},
	})
	routingKeys = newTable("routing key", []entry[RoutingKey]{
		{TestTopic, "test.topic"},
		{TestTopicTwo, "test.topic_two"},
	})
)

func (e Exchange) String() string   { return exchanges.name(e) }
func (q Queue) String() string      { return queues.name(q) }
func (k RoutingKey) String() string { return routingKeys.name(k) }

// Exchanges returns every known exchange in declaration order.
func Exchanges() []Exchange { return exchanges.all() }

// ExchangeNames returns the wire name of every known exchange in declaration order.
func ExchangeNames() []string { return exchanges.names() }

// Queues returns every known queue in declaration order.
func Queues() []Queue { return queues.all() }

// QueueNames returns the wire name of every known queue in declaration order.
func QueueNames() []string { return queues.names() }

// RoutingKeys returns every known routing key in declaration order.
func RoutingKeys() []RoutingKey { return routingKeys.all() }

// RoutingKeyNames returns the wire name of every known routing key in declaration order.
func RoutingKeyNames() []string { return routingKeys.names() }

// ParseExchange maps a wire name back to its Exchange.
func ParseExchange(s string) (Exchange, error) { return exchanges.parse(s) }

// ParseQueue maps a wire name back to its Queue.
func ParseQueue(s string) (Queue, error) { return queues.parse(s) }

// ParseRoutingKey maps a wire string received from the transport to its
// RoutingKey. Unknown strings fail with a *DecodingError.
func ParseRoutingKey(s string) (RoutingKey, error) { return routingKeys.parse(s) }

// ValidateRoutingKey is ParseRoutingKey without the result; it satisfies
// core.KeyDecoder.
func ValidateRoutingKey(s string) error {
	_, err := routingKeys.parse(s)
	return err
}

var _ core.KeyDecoder = ValidateRoutingKey

// DecodingError reports a wire value outside the registry.
// It matches core.ErrDecoding under errors.Is.
type DecodingError struct {
	Kind  string
	Value string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("topology: unknown %s %q", e.Kind, e.Value)
}

func (e *DecodingError) Unwrap() error { return core.ErrDecoding }

type entry[T ~int] struct {
	id   T
	wire string
}

type table[T ~int] struct {
	kind   string
	order  []T
	byID   map[T]string
	byWire map[string]T
}

func newTable[T ~int](kind string, entries []entry[T]) *table[T] {
	t := &table[T]{
		kind:   kind,
		byID:   make(map[T]string, len(entries)),
		byWire: make(map[string]T, len(entries)),
	}
	for _, e := range entries {
		if _, dup := t.byWire[e.wire]; dup {
			panic(fmt.Sprintf("topology: duplicate %s %q", kind, e.wire))
		}
		t.order = append(t.order, e.id)
		t.byID[e.id] = e.wire
		t.byWire[e.wire] = e.id
	}
	return t
}

func (t *table[T]) name(id T) string {
	if s, ok := t.byID[id]; ok {
		return s
	}
	return fmt.Sprintf("%s(%d)", t.kind, int(id))
}

func (t *table[T]) parse(s string) (T, error) {
	if id, ok := t.byWire[s]; ok {
		return id, nil
	}
	var zero T
	return zero, &DecodingError{Kind: t.kind, Value: s}
}

func (t *table[T]) all() []T {
	out := make([]T, len(t.order))
	copy(out, t.order)
	return out
}

func (t *table[T]) names() []string {
	out := make([]string, len(t.order))
	for i, id := range t.order {
		out[i] = t.byID[id]
	}
	return out
}
