package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/internal/logging"
)

// Option configures the Kafka bus.
type Option func(*options)

type options struct {
	// Topics
	exchanges         []string
	createTopics      bool
	numPartitions     int
	replicationFactor int

	// Writer
	balancer  kafka.Balancer
	batchSize int

	// Reader
	minBytes    int
	maxBytes    int
	maxWait     time.Duration
	startOffset int64
	retryDelay  time.Duration

	publishTimeout  time.Duration
	setupTimeout    time.Duration
	shutdownTimeout time.Duration

	// General
	dialer *kafka.Dialer
	logger log.FieldLogger
}

func defaults() options {
	return options{
		createTopics:      true,
		numPartitions:     1,
		replicationFactor: 1,
		balancer:          &kafka.Hash{}, // one routing key, one partition
		batchSize:         100,
		minBytes:          1,
		maxBytes:          10e6, // 10 MB
		maxWait:           500 * time.Millisecond,
		startOffset:       kafka.FirstOffset,
		retryDelay:        time.Second,
		publishTimeout:    broker.DefaultPublishTimeout,
		setupTimeout:      broker.DefaultSetupTimeout,
		shutdownTimeout:   broker.DefaultShutdownTimeout,
		logger:            logging.Component("eventbus/kafka"),
	}
}

// WithExchanges sets the topics created with the bus.
func WithExchanges(names ...string) Option {
	return func(o *options) { o.exchanges = append([]string(nil), names...) }
}

// WithCreateTopics controls whether New creates the exchange topics.
func WithCreateTopics(create bool) Option {
	return func(o *options) { o.createTopics = create }
}

// WithPartitions sets partition count and replication factor for created topics.
func WithPartitions(partitions, replication int) Option {
	return func(o *options) {
		o.numPartitions = partitions
		o.replicationFactor = replication
	}
}

// WithBalancer sets the partition balancer for the writer.
func WithBalancer(b kafka.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithBatchSize sets the maximum batch size for writes.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithMaxBytes sets the maximum bytes per fetch.
func WithMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxWait sets the maximum wait time for fetches.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithStartOffset sets where a new consumer group starts (kafka.FirstOffset or kafka.LastOffset).
func WithStartOffset(offset int64) Option {
	return func(o *options) { o.startOffset = offset }
}

// WithRetryDelay sets the pause after a failed fetch.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// WithPublishTimeout bounds a synchronous write when the caller's context
// has no deadline.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) { o.publishTimeout = d }
}

// WithSetupTimeout bounds topic creation and Listen setup.
func WithSetupTimeout(d time.Duration) Option {
	return func(o *options) { o.setupTimeout = d }
}

// WithShutdownTimeout bounds how long Close waits for dispatch loops.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = d }
}

// WithDialer sets a custom dialer for TLS/SASL connections.
func WithDialer(d *kafka.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLogger sets the logger for fetch errors and failed deliveries.
func WithLogger(l log.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// optsFromConfig maps broker.Config, including Extra, to options.
func optsFromConfig(cfg broker.Config) []Option {
	opts := []Option{
		WithExchanges(cfg.Exchanges...),
		WithPublishTimeout(cfg.PublishTimeout),
		WithSetupTimeout(cfg.SetupTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}
	if cfg.Extra == nil {
		return opts
	}
	if v, ok := cfg.Extra["create_topics"].(bool); ok {
		opts = append(opts, WithCreateTopics(v))
	}
	if v, ok := cfg.Extra["batch_size"].(int); ok {
		opts = append(opts, WithBatchSize(v))
	}
	if v, ok := cfg.Extra["max_bytes"].(int); ok {
		opts = append(opts, WithMaxBytes(v))
	}
	if v, ok := cfg.Extra["partitions"].(int); ok {
		replication := 1
		if r, ok := cfg.Extra["replication_factor"].(int); ok {
			replication = r
		}
		opts = append(opts, WithPartitions(v, replication))
	}
	return opts
}
