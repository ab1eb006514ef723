package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
)

// DefaultAddress is used when the configured address is the AMQP default.
const DefaultAddress = "localhost:9092"

func init() {
	broker.Register("kafka", func(ctx context.Context, cfg broker.Config) (core.Bus, error) {
		brokers := cfg.Addresses()
		if cfg.Address == broker.DefaultAddress {
			brokers = []string{DefaultAddress}
		}
		return New(ctx, brokers, optsFromConfig(cfg)...)
	})
}

// Bus implements core.Bus for Apache Kafka using segmentio/kafka-go.
//
// Design decisions:
//   - An exchange is a topic. The routing key is the message key and is also
//     carried in a "routing-key" header.
//   - One kafka.Writer shared across all Publish calls (thread-safe by
//     library). Writes are synchronous with RequireAll, so a returned write
//     is a confirmed one.
//   - A queue is a consumer group. Each Listen starts one kafka.Reader in
//     that group; readers of the same queue split the partitions.
//   - Kafka has no server-side bindings, so routing keys are filtered on the
//     client. Messages no binding matches are committed and skipped.
//   - Manual offset commit via Ack.
type Bus struct {
	brokers []string
	opts    options
	log     log.FieldLogger

	writer *kafka.Writer

	mu       sync.Mutex
	closed   bool
	bindings map[string]*bindingSet
	subs     core.SubscriptionSet
}

// New creates a Kafka Bus and, unless disabled, creates the exchange topics.
func New(ctx context.Context, brokers []string, fns ...Option) (*Bus, error) {
	if len(brokers) == 0 {
		return nil, core.Wrap(core.ErrConnection, "new", errors.New("at least one broker address is required"))
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     opts.balancer,
		BatchSize:    opts.batchSize,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	if opts.dialer != nil {
		w.Transport = &kafka.Transport{
			TLS:  opts.dialer.TLS,
			SASL: opts.dialer.SASLMechanism,
		}
	}

	b := &Bus{
		brokers:  brokers,
		opts:     opts,
		log:      opts.logger.WithField("brokers", brokers),
		writer:   w,
		bindings: make(map[string]*bindingSet),
	}

	if opts.createTopics && len(opts.exchanges) > 0 {
		ctx, cancel := core.WithDefaultTimeout(ctx, opts.setupTimeout)
		defer cancel()
		if err := b.createTopics(ctx, opts.exchanges); err != nil {
			_ = w.Close()
			return nil, err
		}
	}

	b.log.WithField("exchanges", opts.exchanges).Info("kafka bus ready")
	return b, nil
}

func (b *Bus) dialer() *kafka.Dialer {
	if b.opts.dialer != nil {
		return b.opts.dialer
	}
	return kafka.DefaultDialer
}

// createTopics creates each topic through the cluster controller. Existing
// topics are left untouched.
func (b *Bus) createTopics(ctx context.Context, topics []string) error {
	conn, err := b.dialer().DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return core.Wrap(core.ErrConnection, fmt.Sprintf("dial %q", b.brokers[0]), err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return core.Wrap(core.ErrConnection, "find controller", err)
	}
	cc, err := b.dialer().DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return core.Wrap(core.ErrConnection, "dial controller", err)
	}
	defer cc.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     b.opts.numPartitions,
			ReplicationFactor: b.opts.replicationFactor,
		})
	}
	if err := cc.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return core.Wrap(core.ErrDeclaration, fmt.Sprintf("create topics %v", topics), err)
	}
	return nil
}

// Publish writes payload to the exchange topic keyed by routingKey.
func (b *Bus) Publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := core.WithDefaultTimeout(ctx, b.opts.publishTimeout)
	defer cancel()

	km := kafka.Message{
		Topic: exchange,
		Key:   []byte(routingKey),
		Value: payload,
		Headers: toHeaders(map[string]string{
			headerRoutingKey: routingKey,
			headerMessageID:  uuid.NewString(),
		}),
	}
	if err := b.writer.WriteMessages(ctx, km); err != nil {
		return core.Wrap(core.ErrPublish, fmt.Sprintf("publish to %q with key %q", exchange, routingKey), err)
	}
	return nil
}

// Listen widens the queue's bindings and starts a reader in the queue's
// consumer group.
func (b *Bus) Listen(ctx context.Context, queue, exchange string, routingKeys []string, h core.Handler) (core.Subscription, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := core.WithDefaultTimeout(ctx, b.opts.setupTimeout)
	defer cancel()

	if _, err := b.dialer().LookupPartitions(ctx, "tcp", b.brokers[0], exchange); err != nil {
		return nil, core.Wrap(core.ErrDeclaration, fmt.Sprintf("look up topic %q", exchange), err)
	}

	b.mu.Lock()
	set, ok := b.bindings[queue+"/"+exchange]
	if !ok {
		set = newBindingSet()
		b.bindings[queue+"/"+exchange] = set
	}
	b.mu.Unlock()
	set.add(routingKeys...)

	cfg := kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       exchange,
		GroupID:     queue,
		MinBytes:    b.opts.minBytes,
		MaxBytes:    b.opts.maxBytes,
		MaxWait:     b.opts.maxWait,
		StartOffset: b.opts.startOffset,
	}
	if b.opts.dialer != nil {
		cfg.Dialer = b.opts.dialer
	}
	r := kafka.NewReader(cfg)

	tag := b.subs.NextTag(queue)
	entry := b.log.WithFields(log.Fields{"queue": queue, "consumer": tag})
	sub := core.StartSubscription(queue, tag, nil, func(ctx context.Context) {
		defer r.Close()
		b.consumeLoop(ctx, entry, r, set, h)
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sub.Stop(context.Background())
		return nil, core.ErrBusClosed
	}
	b.subs.Add(sub)
	b.mu.Unlock()

	entry.WithFields(log.Fields{"exchange": exchange, "routing_keys": set.patterns()}).Info("waiting for messages")
	return sub, nil
}

// consumeLoop fetches messages and dispatches those matching the queue's
// bindings. Fetch errors are logged and retried after a pause.
func (b *Bus) consumeLoop(ctx context.Context, entry log.FieldLogger, r *kafka.Reader, set *bindingSet, h core.Handler) {
	for {
		raw, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // graceful shutdown
			}
			entry.WithError(core.Wrap(core.ErrConnection, "fetch", err)).Warn("fetch failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.opts.retryDelay):
			}
			continue
		}

		d := &delivery{raw: raw, reader: r, ctx: ctx}
		if !set.matches(d.RoutingKey()) {
			if err := r.CommitMessages(ctx, raw); err != nil && ctx.Err() == nil {
				entry.WithError(core.Wrap(core.ErrAcknowledgment, "skip", err)).Warn("commit failed")
			}
			continue
		}
		if err := h(ctx, d); err != nil {
			entry.WithError(err).WithField("routing_key", d.RoutingKey()).Error("delivery failed")
		}
	}
}

// Close stops all readers and flushes the writer.
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
		errs = append(errs, fmt.Errorf("eventbus/kafka: stop consumers: %w", err))
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("eventbus/kafka: close writer: %w", err))
	}
	b.log.Info("kafka bus closed")
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

// bindingSet is the growing set of routing key patterns of one queue.
type bindingSet struct {
	mu      sync.RWMutex
	set     map[string]struct{}
	matcher core.TopicMatcher
}

func newBindingSet() *bindingSet {
	return &bindingSet{set: make(map[string]struct{}), matcher: core.DefaultMatcher{}}
}

func (s *bindingSet) add(patterns ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		s.set[p] = struct{}{}
	}
}

func (s *bindingSet) matches(routingKey string) bool {
	return core.MatchAny(s.matcher, s.patterns(), routingKey)
}

func (s *bindingSet) patterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.set))
	for p := range s.set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// toHeaders converts a string map to Kafka headers, sorted by key.
func toHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	headers := make([]kafka.Header, 0, len(h))
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(h[k])})
	}
	return headers
}
