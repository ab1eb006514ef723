package nats

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
	log "github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/internal/logging"
)

// Option configures the NATS bus.
type Option func(*options)

type options struct {
	// Stream
	exchanges []string
	maxMsgs   int64
	maxBytes  int64
	maxAge    time.Duration
	replicas  int
	retention jetstream.RetentionPolicy
	storage   jetstream.StorageType

	// Consumer
	ackWait       time.Duration
	maxDeliver    int
	prefetchCount int

	publishTimeout  time.Duration
	setupTimeout    time.Duration
	shutdownTimeout time.Duration

	connectionName string
	logger         log.FieldLogger
}

func defaults() options {
	return options{
		maxMsgs:         -1, // unlimited
		maxBytes:        -1,
		maxAge:          0,
		replicas:        1,
		retention:       jetstream.LimitsPolicy,
		storage:         jetstream.FileStorage,
		ackWait:         30 * time.Second,
		maxDeliver:      5,
		prefetchCount:   broker.DefaultPrefetchCount,
		publishTimeout:  broker.DefaultPublishTimeout,
		setupTimeout:    broker.DefaultSetupTimeout,
		shutdownTimeout: broker.DefaultShutdownTimeout,
		connectionName:  "eventbus",
		logger:          logging.Component("eventbus/nats"),
	}
}

// WithExchanges sets the exchanges whose streams are created with the bus.
func WithExchanges(names ...string) Option {
	return func(o *options) { o.exchanges = append([]string(nil), names...) }
}

// WithMaxMessages sets the maximum number of messages per stream.
func WithMaxMessages(n int64) Option {
	return func(o *options) { o.maxMsgs = n }
}

// WithMaxBytes sets the maximum total size of a stream.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxAge sets the maximum age of messages in the stream.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithReplicas sets the stream replication factor.
func WithReplicas(n int) Option {
	return func(o *options) { o.replicas = n }
}

// WithRetention sets the stream retention policy.
func WithRetention(r jetstream.RetentionPolicy) Option {
	return func(o *options) { o.retention = r }
}

// WithStorage sets the stream storage type (file or memory).
func WithStorage(s jetstream.StorageType) Option {
	return func(o *options) { o.storage = s }
}

// WithAckWait sets how long the server waits for an ack before redelivering.
func WithAckWait(d time.Duration) Option {
	return func(o *options) { o.ackWait = d }
}

// WithMaxDeliver sets the maximum number of delivery attempts.
func WithMaxDeliver(n int) Option {
	return func(o *options) { o.maxDeliver = n }
}

// WithPrefetchCount sets how many messages a dispatch loop pulls ahead.
func WithPrefetchCount(n int) Option {
	return func(o *options) { o.prefetchCount = n }
}

// WithPublishTimeout bounds the PubAck wait when the caller's context has no
// deadline.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) { o.publishTimeout = d }
}

// WithSetupTimeout bounds stream and consumer setup.
func WithSetupTimeout(d time.Duration) Option {
	return func(o *options) { o.setupTimeout = d }
}

// WithShutdownTimeout bounds how long Close waits for dispatch loops.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = d }
}

// WithConnectionName sets the client name reported to the server.
func WithConnectionName(name string) Option {
	return func(o *options) { o.connectionName = name }
}

// WithLogger sets the logger for connection events and failed deliveries.
func WithLogger(l log.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// optsFromConfig maps broker.Config, including Extra, to options.
func optsFromConfig(cfg broker.Config) []Option {
	opts := []Option{
		WithExchanges(cfg.Exchanges...),
		WithPrefetchCount(cfg.PrefetchCount),
		WithPublishTimeout(cfg.PublishTimeout),
		WithSetupTimeout(cfg.SetupTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}
	if cfg.Extra == nil {
		return opts
	}
	if v, ok := cfg.Extra["max_deliver"].(int); ok {
		opts = append(opts, WithMaxDeliver(v))
	}
	if v, ok := cfg.Extra["replicas"].(int); ok {
		opts = append(opts, WithReplicas(v))
	}
	if v, ok := cfg.Extra["connection_name"].(string); ok {
		opts = append(opts, WithConnectionName(v))
	}
	if v, ok := cfg.Extra["memory_storage"].(bool); ok && v {
		opts = append(opts, WithStorage(jetstream.MemoryStorage))
	}
	return opts
}
