package nats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	log "github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
)

func init() {
	broker.Register("nats", func(ctx context.Context, cfg broker.Config) (core.Bus, error) {
		addr := cfg.Address
		if addr == broker.DefaultAddress {
			addr = nats.DefaultURL
		}
		return New(ctx, addr, optsFromConfig(cfg)...)
	})
}

// Bus implements core.Bus for NATS JetStream.
//
// Design decisions:
//   - One NATS connection per Bus instance.
//   - Every exchange is a stream named after it, capturing "<exchange>.>".
//     A message published with a routing key goes to "<exchange>.<key>";
//     the PubAck is the broker confirmation.
//   - A queue is a durable pull consumer on the exchange's stream. Listen
//     adds filter subjects to it, so repeated calls only widen the binding.
//   - Each dispatch loop pulls from the consumer on its own iterator; loops
//     on the same queue compete.
//   - Manual ack; Nack with requeue triggers server-side redelivery.
type Bus struct {
	conn *nats.Conn
	js   jetstream.JetStream
	opts options
	log  log.FieldLogger

	mu     sync.Mutex
	closed bool
	subs   core.SubscriptionSet
}

// New connects to url and creates a stream for every configured exchange.
func New(ctx context.Context, url string, fns ...Option) (*Bus, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	if url == "" {
		url = nats.DefaultURL
	}
	logger := opts.logger.WithField("address", url)

	ctx, cancel := core.WithDefaultTimeout(ctx, opts.setupTimeout)
	defer cancel()

	nc, err := nats.Connect(url,
		nats.Name(opts.connectionName),
		nats.Timeout(opts.setupTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(core.Wrap(core.ErrConnection, "disconnected", err)).Warn("nats connection lost")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, core.Wrap(core.ErrConnection, fmt.Sprintf("connect to %q", url), err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, core.Wrap(core.ErrConnection, "init jetstream", err)
	}

	b := &Bus{conn: nc, js: js, opts: opts, log: logger}
	for _, ex := range opts.exchanges {
		if _, err := js.CreateOrUpdateStream(ctx, b.streamConfig(ex)); err != nil {
			nc.Close()
			return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("create stream for %q", ex), err)
		}
	}

	logger.WithField("exchanges", opts.exchanges).Info("connected to nats")
	return b, nil
}

func (b *Bus) streamConfig(exchange string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      streamName(exchange),
		Subjects:  []string{exchange + ".>"},
		MaxMsgs:   b.opts.maxMsgs,
		MaxBytes:  b.opts.maxBytes,
		MaxAge:    b.opts.maxAge,
		Replicas:  b.opts.replicas,
		Retention: b.opts.retention,
		Storage:   b.opts.storage,
	}
}

// Publish sends payload to "<exchange>.<routingKey>" and waits for the
// stream's PubAck.
func (b *Bus) Publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := core.WithDefaultTimeout(ctx, b.opts.publishTimeout)
	defer cancel()

	id := uuid.NewString()
	nm := &nats.Msg{
		Subject: subject(exchange, routingKey),
		Data:    payload,
		Header:  nats.Header{},
	}
	nm.Header.Set("message-id", id)

	if _, err := b.js.PublishMsg(ctx, nm, jetstream.WithMsgID(id)); err != nil {
		return core.Wrap(core.ErrPublish, fmt.Sprintf("publish to %q", nm.Subject), err)
	}
	return nil
}

// Listen ensures the durable consumer for queue exists with a filter for
// every routing key, then starts a pull loop on it.
func (b *Bus) Listen(ctx context.Context, queue, exchange string, routingKeys []string, h core.Handler) (core.Subscription, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := core.WithDefaultTimeout(ctx, b.opts.setupTimeout)
	defer cancel()

	filters, err := filterSubjects(exchange, routingKeys)
	if err != nil {
		return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("bind %q", queue), err)
	}

	stream := streamName(exchange)
	durable := consumerName(queue)
	if existing, err := b.js.Consumer(ctx, stream, durable); err == nil {
		filters = mergeFilters(existing.CachedInfo().Config, filters)
	} else if !errors.Is(err, jetstream.ErrConsumerNotFound) {
		return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("look up consumer %q", durable), err)
	}

	cons, err := b.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:        durable,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        b.opts.ackWait,
		MaxDeliver:     b.opts.maxDeliver,
		FilterSubjects: filters,
	})
	if err != nil {
		return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("create consumer %q", durable), err)
	}

	it, err := cons.Messages(jetstream.PullMaxMessages(b.opts.prefetchCount))
	if err != nil {
		return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("consume %q", durable), err)
	}

	tag := b.subs.NextTag(queue)
	entry := b.log.WithFields(log.Fields{"queue": queue, "consumer": tag})
	sub := core.StartSubscription(queue, tag,
		func() error { it.Stop(); return nil },
		func(ctx context.Context) { b.consumeLoop(ctx, entry, exchange, it, h) },
	)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sub.Stop(context.Background())
		return nil, core.ErrBusClosed
	}
	b.subs.Add(sub)
	b.mu.Unlock()

	entry.WithFields(log.Fields{"exchange": exchange, "filters": filters}).Info("waiting for messages")
	return sub, nil
}

func (b *Bus) consumeLoop(ctx context.Context, entry log.FieldLogger, exchange string, it jetstream.MessagesContext, h core.Handler) {
	for {
		msg, err := it.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
				return
			}
			entry.WithError(core.Wrap(core.ErrConnection, "next message", err)).Warn("pull failed")
			continue
		}
		d := &delivery{msg: msg, exchange: exchange}
		if err := h(ctx, d); err != nil {
			entry.WithError(err).WithField("routing_key", d.RoutingKey()).Error("delivery failed")
		}
	}
}

// Close stops all dispatch loops and closes the NATS connection.
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

	err := b.subs.StopAll(ctx)
	b.conn.Close()
	b.log.Info("nats bus closed")
	if err != nil {
		return fmt.Errorf("eventbus/nats: stop consumers: %w", err)
	}
	return nil
}

func (b *Bus) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBusClosed
	}
	return nil
}

func subject(exchange, routingKey string) string {
	return exchange + "." + routingKey
}

// filterSubjects translates AMQP binding patterns to NATS subjects under
// the exchange prefix. "*" maps to itself; "#" maps to ">" and is only
// supported as the last word, which is all NATS can express.
func filterSubjects(exchange string, routingKeys []string) ([]string, error) {
	if len(routingKeys) == 0 {
		return nil, errors.New("no routing keys")
	}
	out := make([]string, 0, len(routingKeys))
	for _, rk := range routingKeys {
		words := strings.Split(rk, ".")
		for i, w := range words {
			if w != "#" {
				continue
			}
			if i != len(words)-1 {
				return nil, fmt.Errorf("pattern %q: \"#\" is only supported as the last word", rk)
			}
			words[i] = ">"
		}
		out = append(out, subject(exchange, strings.Join(words, ".")))
	}
	return out, nil
}

// mergeFilters unions the filters already on a consumer with the new ones,
// sorted and without duplicates.
func mergeFilters(cfg jetstream.ConsumerConfig, filters []string) []string {
	set := make(map[string]struct{}, len(filters)+len(cfg.FilterSubjects)+1)
	if cfg.FilterSubject != "" {
		set[cfg.FilterSubject] = struct{}{}
	}
	for _, f := range cfg.FilterSubjects {
		set[f] = struct{}{}
	}
	for _, f := range filters {
		set[f] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// streamName converts an exchange name to a valid stream name
// by replacing special characters.
func streamName(exchange string) string {
	return sanitize(exchange)
}

func consumerName(queue string) string {
	return sanitize(queue)
}

func sanitize(name string) string {
	buf := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '*' || c == '>' || c == ' ' {
			buf[i] = '-'
		} else {
			buf[i] = c
		}
	}
	return string(buf)
}
