// Package memory is an in-process transport with AMQP topic-exchange
// routing. It needs no broker and is meant for tests, examples and local
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
)

func init() {
	broker.Register("memory", func(ctx context.Context, cfg broker.Config) (core.Bus, error) {
		return New(optsFromConfig(cfg)...), nil
	})
}

type binding struct {
	exchange string
	pattern  string
}

type queue struct {
	name     string
	msgs     chan *delivery
	bindings map[binding]struct{}
}

// Bus implements core.Bus in memory.
//
// Exchanges must be configured up front, like the durable exchanges of a real
// broker; publishing to any other exchange fails. Queues are created by
// Listen and keep their messages while no loop consumes them. Several loops
// on one queue share its buffer and therefore compete for messages.
type Bus struct {
	opts options
	log  log.FieldLogger

	mu        sync.RWMutex
	closed    bool
	exchanges map[string]struct{}
	queues    map[string]*queue
	subs      core.SubscriptionSet
}

// New creates an in-memory bus.
func New(fns ...Option) *Bus {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	if opts.bufferSize <= 0 {
		opts.bufferSize = 1
	}
	b := &Bus{
		opts:      opts,
		log:       opts.logger,
		exchanges: make(map[string]struct{}, len(opts.exchanges)),
		queues:    make(map[string]*queue),
	}
	for _, ex := range opts.exchanges {
		b.exchanges[ex] = struct{}{}
	}
	return b
}

// Publish routes payload to every queue bound to exchange with a pattern
// matching routingKey. A message that matches no binding is dropped, as on
// a topic exchange.
func (b *Bus) Publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	op := fmt.Sprintf("publish to %q with key %q", exchange, routingKey)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return core.ErrBusClosed
	}
	if _, ok := b.exchanges[exchange]; !ok {
		b.mu.RUnlock()
		return core.Wrap(core.ErrPublish, op, fmt.Errorf("exchange %q not declared", exchange))
	}
	var targets []*queue
	for _, q := range b.queues {
		for bd := range q.bindings {
			if bd.exchange == exchange && b.opts.matcher.Match(bd.pattern, routingKey) {
				targets = append(targets, q)
				break
			}
		}
	}
	b.mu.RUnlock()

	if b.opts.confirm != nil && !b.opts.confirm(exchange, routingKey, payload) {
		return core.Wrap(core.ErrPublish, op, core.ErrNotConfirmed)
	}

	ctx, cancel := core.WithDefaultTimeout(ctx, b.opts.publishTimeout)
	defer cancel()

	body := append([]byte(nil), payload...)
	id := uuid.NewString()
	for _, q := range targets {
		d := &delivery{
			bus:      b,
			queue:    q,
			exchange: exchange,
			key:      routingKey,
			body:     body,
			headers:  map[string]string{"message-id": id},
		}
		select {
		case q.msgs <- d:
		case <-ctx.Done():
			return core.Wrap(core.ErrPublish, op, ctx.Err())
		}
	}
	return nil
}

// Listen creates queue if needed, adds the bindings and starts a dispatch
// loop over the queue's buffer.
func (b *Bus) Listen(ctx context.Context, queueName, exchange string, routingKeys []string, h core.Handler) (core.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("set up queue %q", queueName), err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, core.ErrBusClosed
	}
	if _, ok := b.exchanges[exchange]; !ok {
		b.mu.Unlock()
		return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("bind %q", queueName),
			fmt.Errorf("exchange %q not declared", exchange))
	}
	q, ok := b.queues[queueName]
	if !ok {
		q = &queue{
			name:     queueName,
			msgs:     make(chan *delivery, b.opts.bufferSize),
			bindings: make(map[binding]struct{}),
		}
		b.queues[queueName] = q
	}
	for _, rk := range routingKeys {
		q.bindings[binding{exchange: exchange, pattern: rk}] = struct{}{}
	}

	tag := b.subs.NextTag(queueName)
	entry := b.log.WithFields(log.Fields{"queue": queueName, "consumer": tag})
	sub := core.StartSubscription(queueName, tag, nil, func(ctx context.Context) {
		consume(ctx, entry, q.msgs, h)
	})
	b.subs.Add(sub)
	b.mu.Unlock()

	entry.WithFields(log.Fields{"exchange": exchange, "routing_keys": routingKeys}).Debug("waiting for messages")
	return sub, nil
}

func consume(ctx context.Context, entry log.FieldLogger, msgs <-chan *delivery, h core.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-msgs:
			if err := h(ctx, d); err != nil {
				entry.WithError(err).WithField("routing_key", d.key).Error("delivery failed")
			}
		}
	}
}

// Close stops every dispatch loop. Messages still buffered are discarded.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBusClosed
	}
	b.closed = true
	b.mu.Unlock()

	ctx, cancel := core.WithDefaultTimeout(ctx, b.opts.shutdownTimeout)
	defer cancel()

	if err := b.subs.StopAll(ctx); err != nil {
		return fmt.Errorf("eventbus/memory: stop consumers: %w", err)
	}
	return nil
}

// Bindings returns the sorted "exchange/pattern" bindings of queue.
func (b *Bus) Bindings(queueName string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[queueName]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(q.bindings))
	for bd := range q.bindings {
		out = append(out, bd.exchange+"/"+bd.pattern)
	}
	sort.Strings(out)
	return out
}

// Pending returns how many messages wait in queue's buffer.
func (b *Bus) Pending(queueName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if q, ok := b.queues[queueName]; ok {
		return len(q.msgs)
	}
	return 0
}

// requeue puts d back at the tail of its queue. It never blocks; a full
// buffer drops the message.
func (b *Bus) requeue(d *delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return core.ErrBusClosed
	}
	redelivery := &delivery{
		bus:         b,
		queue:       d.queue,
		exchange:    d.exchange,
		key:         d.key,
		body:        d.body,
		headers:     d.headers,
		redelivered: true,
	}
	select {
	case d.queue.msgs <- redelivery:
		return nil
	default:
		return fmt.Errorf("queue %q is full", d.queue.name)
	}
}
