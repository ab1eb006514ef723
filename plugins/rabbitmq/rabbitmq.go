package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
)

const defaultDialTimeout = 30 * time.Second

func init() {
	broker.Register("rabbitmq", func(ctx context.Context, cfg broker.Config) (core.Bus, error) {
		return New(ctx, cfg.Address, optsFromConfig(cfg)...)
	})
}

// Bus implements core.Bus for RabbitMQ using amqp091-go.
//
// Design decisions:
//   - Single connection, one channel per Bus, shared by publishers and every
//     dispatch loop. The channel is in confirm mode, so Publish waits for the
//     broker's ack.
//   - All configured exchanges are declared durably in New; queues are
//     declared lazily by Listen. Declarations and bindings are idempotent.
//   - Manual ack mode; the handler passed to Listen settles each delivery.
//   - Every Listen registers a new consumer tag, so several loops on one
//     queue compete for its messages.
//   - Close cancels all consumers, waits for their loops, then closes the
//     channel (reply code 200) and the connection.
type Bus struct {
	conn connection
	ch   channel
	opts options
	log  log.FieldLogger

	mu     sync.Mutex
	closed bool
	subs   core.SubscriptionSet
}

// New dials uri, opens a confirm-mode channel and declares every configured
// exchange. Any failure tears down what was opened; there is no partially
// initialized Bus. An empty uri means broker.DefaultAddress.
func New(ctx context.Context, uri string, fns ...Option) (*Bus, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	if uri == "" {
		uri = broker.DefaultAddress
	}
	logger := opts.logger.WithField("address", redact(uri))

	ctx, cancel := core.WithDefaultTimeout(ctx, opts.setupTimeout)
	defer cancel()

	conn, err := opts.dial(uri, amqp.Config{
		Properties: amqp.Table{"connection_name": opts.connectionName},
		Dial:       amqp.DefaultDial(dialTimeout(ctx)),
	})
	if err != nil {
		return nil, core.Wrap(core.ErrConnection, fmt.Sprintf("dial %s", redact(uri)), err)
	}

	b, err := setup(ctx, conn, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	b.log = logger
	go b.watch(conn.NotifyClose(make(chan *amqp.Error, 1)), b.ch.NotifyClose(make(chan *amqp.Error, 1)))

	logger.WithField("exchanges", opts.exchanges).Info("connected to rabbitmq")
	return b, nil
}

func setup(ctx context.Context, conn connection, opts options) (*Bus, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, core.Wrap(core.ErrConnection, "open channel", err)
	}

	if err := ch.Confirm(false); err != nil {
		return nil, core.Wrap(core.ErrConnection, "enable publisher confirms", err)
	}
	if err := ch.Qos(opts.prefetchCount, 0, false); err != nil {
		return nil, core.Wrap(core.ErrConnection, "set qos", err)
	}

	for _, ex := range opts.exchanges {
		if err := ctx.Err(); err != nil {
			return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("declare exchange %q", ex), err)
		}
		if err := ch.ExchangeDeclare(ex, opts.exchangeKind, true, false, false, false, nil); err != nil {
			return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("declare exchange %q", ex), err)
		}
	}

	return &Bus{conn: conn, ch: ch, opts: opts, log: opts.logger}, nil
}

// Publish sends payload to exchange with routingKey and waits for the
// broker's confirmation.
func (b *Bus) Publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := core.WithDefaultTimeout(ctx, b.opts.publishTimeout)
	defer cancel()

	op := fmt.Sprintf("publish to %q with key %q", exchange, routingKey)
	conf, err := b.ch.PublishConfirmed(ctx, exchange, routingKey, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return core.Wrap(core.ErrPublish, op, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return core.Wrap(core.ErrPublish, op, err)
	}
	if !acked {
		return core.Wrap(core.ErrPublish, op, core.ErrNotConfirmed)
	}
	return nil
}

// Listen declares queue, binds it to exchange for every routing key and
// starts a dispatch loop feeding h.
func (b *Bus) Listen(ctx context.Context, queue, exchange string, routingKeys []string, h core.Handler) (core.Subscription, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := core.WithDefaultTimeout(ctx, b.opts.setupTimeout)
	defer cancel()

	if err := core.RunWithContext(ctx, func() error {
		return b.setupQueue(queue, exchange, routingKeys)
	}); err != nil {
		return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("set up queue %q", queue), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("consume %q", queue), err)
	}

	tag := b.subs.NextTag(queue)
	deliveries, err := b.ch.Consume(queue, tag, false, b.opts.exclusive, false, false, nil)
	if err != nil {
		return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("consume %q", queue), err)
	}

	entry := b.log.WithFields(log.Fields{"queue": queue, "consumer": tag})
	sub := core.StartSubscription(queue, tag,
		func() error { return b.ch.Cancel(tag, false) },
		func(ctx context.Context) { b.consumeLoop(ctx, entry, deliveries, h) },
	)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sub.Stop(context.Background())
		return nil, core.ErrBusClosed
	}
	b.subs.Add(sub)
	b.mu.Unlock()

	entry.WithFields(log.Fields{"exchange": exchange, "routing_keys": routingKeys}).Info("waiting for messages")
	return sub, nil
}

func (b *Bus) setupQueue(queue, exchange string, routingKeys []string) error {
	q, err := b.ch.QueueDeclare(queue, b.opts.durable, b.opts.autoDelete, b.opts.exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, rk := range routingKeys {
		if err := b.ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			return fmt.Errorf("bind to %q with key %q: %w", exchange, rk, err)
		}
	}
	return nil
}

// consumeLoop processes deliveries in arrival order until the loop context
// is cancelled or the delivery stream ends. Per-delivery failures are only
// logged.
func (b *Bus) consumeLoop(ctx context.Context, entry log.FieldLogger, deliveries <-chan amqp.Delivery, h core.Handler) {
	entry.Debug("dispatch loop started")
	defer entry.Debug("dispatch loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return // stream ended
			}
			if err := h(ctx, &delivery{d: d}); err != nil {
				entry.WithError(err).WithFields(log.Fields{
					"routing_key": d.RoutingKey,
					"message_id":  d.MessageId,
				}).Error("delivery failed")
			}
		}
	}
}

// watch logs unexpected connection and channel closures. Both notification
// channels are closed by amqp091 on shutdown, which ends the goroutine.
func (b *Bus) watch(connClosed, chClosed <-chan *amqp.Error) {
	for connClosed != nil || chClosed != nil {
		select {
		case err, ok := <-connClosed:
			if !ok {
				connClosed = nil
				continue
			}
			b.log.WithError(core.Wrap(core.ErrConnection, "connection closed", err)).Error("rabbitmq connection lost")
		case err, ok := <-chClosed:
			if !ok {
				chClosed = nil
				continue
			}
			b.log.WithError(core.Wrap(core.ErrConnection, "channel closed", err)).Error("rabbitmq channel lost")
		}
	}
}

// Close stops every dispatch loop, then closes the channel and connection.
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

	var errs []error
	if err := b.subs.StopAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("eventbus/rabbitmq: stop consumers: %w", err))
	}
	if err := b.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("eventbus/rabbitmq: close channel: %w", err))
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("eventbus/rabbitmq: close connection: %w", err))
	}
	b.log.Info("rabbitmq bus closed")
	return errors.Join(errs...)
}

func (b *Bus) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBusClosed
	}
	return nil
}

// dialTimeout is the time left until ctx's deadline, or defaultDialTimeout
// when ctx has none or it already passed.
func dialTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return defaultDialTimeout
}

// redact hides the password of an AMQP URI for logging.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}
