package memory

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
	"github.com/miladsoleymani/eventbus/internal/logging"
)

// Option configures the in-memory bus.
type Option func(*options)

// ConfirmFunc decides whether a publish is confirmed. Returning false makes
// Publish fail with core.ErrNotConfirmed.
type ConfirmFunc func(exchange, routingKey string, payload []byte) bool

type options struct {
	exchanges  []string
	bufferSize int
	matcher    core.TopicMatcher
	confirm    ConfirmFunc
	logger     log.FieldLogger

	publishTimeout  time.Duration
	shutdownTimeout time.Duration
}

func defaults() options {
	return options{
		bufferSize: 1024,
		matcher:    core.DefaultMatcher{},
		logger:     logging.Component("eventbus/memory"),

		publishTimeout:  broker.DefaultPublishTimeout,
		shutdownTimeout: broker.DefaultShutdownTimeout,
	}
}

// WithExchanges sets the exchanges that exist from the start.
func WithExchanges(names ...string) Option {
	return func(o *options) { o.exchanges = append([]string(nil), names...) }
}

// WithBufferSize sets the per-queue buffer. Publish blocks while a bound
// queue is full.
func WithBufferSize(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

// WithMatcher replaces the binding pattern matcher.
func WithMatcher(m core.TopicMatcher) Option {
	return func(o *options) { o.matcher = m }
}

// WithConfirm installs a hook deciding whether each publish is confirmed.
func WithConfirm(fn ConfirmFunc) Option {
	return func(o *options) { o.confirm = fn }
}

// WithLogger sets the logger for failed deliveries.
func WithLogger(l log.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithPublishTimeout bounds how long Publish waits for room in a full queue
// when the caller's context has no deadline.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) { o.publishTimeout = d }
}

// WithShutdownTimeout bounds how long Close waits for dispatch loops.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = d }
}

func optsFromConfig(cfg broker.Config) []Option {
	opts := []Option{
		WithExchanges(cfg.Exchanges...),
		WithPublishTimeout(cfg.PublishTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}
	if v, ok := cfg.Extra["buffer_size"].(int); ok {
		opts = append(opts, WithBufferSize(v))
	}
	return opts
}
