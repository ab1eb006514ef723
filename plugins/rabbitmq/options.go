package rabbitmq

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/internal/logging"
)

// Option configures the RabbitMQ bus.
type Option func(*options)

type options struct {
	// Exchange settings
	exchanges    []string
	exchangeKind string

	// Queue settings
	durable    bool
	autoDelete bool
	exclusive  bool

	// Consumer settings
	prefetchCount int

	// Timeouts
	publishTimeout  time.Duration
	setupTimeout    time.Duration
	shutdownTimeout time.Duration

	connectionName string
	logger         log.FieldLogger
	dial           dialFunc
}

func defaults() options {
	return options{
		exchangeKind:    broker.DefaultExchangeKind, // direct, fanout, topic, headers
		durable:         true,
		prefetchCount:   broker.DefaultPrefetchCount,
		publishTimeout:  broker.DefaultPublishTimeout,
		setupTimeout:    broker.DefaultSetupTimeout,
		shutdownTimeout: broker.DefaultShutdownTimeout,
		connectionName:  "eventbus",
		logger:          logging.Component("eventbus/rabbitmq"),
		dial:            dialAMQP,
	}
}

// WithExchanges sets the exchanges declared durably when the bus is created.
func WithExchanges(names ...string) Option {
	return func(o *options) { o.exchanges = append([]string(nil), names...) }
}

// WithExchangeKind sets the exchange type used for declarations.
func WithExchangeKind(kind string) Option {
	return func(o *options) { o.exchangeKind = kind }
}

// WithDurable controls whether queues survive broker restart.
func WithDurable(d bool) Option {
	return func(o *options) { o.durable = d }
}

// WithAutoDelete causes queues to be deleted when the last consumer disconnects.
func WithAutoDelete(d bool) Option {
	return func(o *options) { o.autoDelete = d }
}

// WithExclusive declares queues and consumers as exclusive to the connection.
func WithExclusive(e bool) Option {
	return func(o *options) { o.exclusive = e }
}

// WithPrefetchCount sets how many messages are delivered before requiring ack.
func WithPrefetchCount(n int) Option {
	return func(o *options) { o.prefetchCount = n }
}

// WithPublishTimeout bounds the confirmation wait when the caller's context
// has no deadline.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) { o.publishTimeout = d }
}

// WithSetupTimeout bounds dialing and Listen setup.
func WithSetupTimeout(d time.Duration) Option {
	return func(o *options) { o.setupTimeout = d }
}

// WithShutdownTimeout bounds how long Close waits for dispatch loops.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = d }
}

// WithConnectionName sets the connection name shown in the management UI.
func WithConnectionName(name string) Option {
	return func(o *options) { o.connectionName = name }
}

// WithLogger sets the logger for connection events and failed deliveries.
func WithLogger(l log.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

func withDialer(d dialFunc) Option {
	return func(o *options) { o.dial = d }
}

// optsFromConfig maps broker.Config, including Extra, to options.
func optsFromConfig(cfg broker.Config) []Option {
	opts := []Option{
		WithExchanges(cfg.Exchanges...),
		WithExchangeKind(cfg.ExchangeKind),
		WithPrefetchCount(cfg.PrefetchCount),
		WithPublishTimeout(cfg.PublishTimeout),
		WithSetupTimeout(cfg.SetupTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}
	if cfg.Extra == nil {
		return opts
	}
	if v, ok := cfg.Extra["connection_name"].(string); ok {
		opts = append(opts, WithConnectionName(v))
	}
	if v, ok := cfg.Extra["durable"].(bool); ok {
		opts = append(opts, WithDurable(v))
	}
	if v, ok := cfg.Extra["auto_delete"].(bool); ok {
		opts = append(opts, WithAutoDelete(v))
	}
	if v, ok := cfg.Extra["exclusive"].(bool); ok {
		opts = append(opts, WithExclusive(v))
	}
	return opts
}
