package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults used by DefaultConfig and LoadConfig.
const (
	DefaultTransport       = "rabbitmq"
	DefaultAddress         = "amqp://localhost:5672"
	DefaultExchangeKind    = "topic"
	DefaultPrefetchCount   = 10
	DefaultPublishTimeout  = 5 * time.Second
	DefaultSetupTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"
)

// AddressEnv is the environment variable selecting the broker address.
const AddressEnv = "AMQP_ADDR"

// Config holds transport-agnostic configuration.
// Transport plugins extract the fields they need.
type Config struct {
	// Transport selects the registered plugin ("rabbitmq", "memory", "nats", "kafka").
	Transport string `mapstructure:"transport"`

	// Address is the broker URL. Kafka accepts a comma-separated list.
	Address string `mapstructure:"address"`

	// Exchanges is declared durably at construction. The facade fills it
	// from the topology registry.
	Exchanges []string `mapstructure:"exchanges"`

	// ExchangeKind is the exchange type used for declarations.
	ExchangeKind string `mapstructure:"exchange_kind"`

	// PrefetchCount bounds unacknowledged deliveries per consumer.
	PrefetchCount int `mapstructure:"prefetch_count"`

	// PublishTimeout bounds the confirmation wait when the caller's context
	// has no deadline.
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`

	// SetupTimeout bounds Listen's declare/bind/consume phase when the
	// caller's context has no deadline.
	SetupTimeout time.Duration `mapstructure:"setup_timeout"`

	// ShutdownTimeout bounds how long Close waits for dispatch loops.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequeueOnError requeues deliveries whose handler failed.
	RequeueOnError bool `mapstructure:"requeue_on_error"`

	// LogLevel is a logrus level name.
	LogLevel string `mapstructure:"log_level"`

	// Extra holds plugin-specific configuration.
	Extra map[string]any `mapstructure:"extra"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Transport:       DefaultTransport,
		Address:         DefaultAddress,
		ExchangeKind:    DefaultExchangeKind,
		PrefetchCount:   DefaultPrefetchCount,
		PublishTimeout:  DefaultPublishTimeout,
		SetupTimeout:    DefaultSetupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        DefaultLogLevel,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Transport == "" {
		c.Transport = d.Transport
	}
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.ExchangeKind == "" {
		c.ExchangeKind = d.ExchangeKind
	}
	if c.PrefetchCount <= 0 {
		c.PrefetchCount = d.PrefetchCount
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = d.SetupTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	return c
}

// Addresses splits Address on commas.
func (c Config) Addresses() []string {
	var out []string
	for _, a := range strings.Split(c.Address, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// LoadConfig reads configuration from an optional YAML file and the
// environment. AMQP_ADDR or EVENTBUS_ADDRESS override the address; every
// other key is available as EVENTBUS_<KEY>. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("transport", d.Transport)
	v.SetDefault("address", d.Address)
	v.SetDefault("exchange_kind", d.ExchangeKind)
	v.SetDefault("prefetch_count", d.PrefetchCount)
	v.SetDefault("publish_timeout", d.PublishTimeout)
	v.SetDefault("setup_timeout", d.SetupTimeout)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("requeue_on_error", d.RequeueOnError)
	v.SetDefault("log_level", d.LogLevel)

	v.SetEnvPrefix("EVENTBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("address", "EVENTBUS_ADDRESS", AddressEnv); err != nil {
		return Config{}, fmt.Errorf("eventbus: bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("eventbus: read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("eventbus: decode config: %w", err)
	}
	return cfg.WithDefaults(), nil
}
