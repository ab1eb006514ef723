package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/miladsoleymani/eventbus"
	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core/middleware"
	"github.com/miladsoleymani/eventbus/internal/logging"
	"github.com/miladsoleymani/eventbus/topology"
)

type rootFlags struct {
	configFile  string
	transport   string
	address     string
	logLevel    string
	metricsAddr string
}

func newRootCommand() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "eventbus",
		Short: "Publish to and listen on the application's message topology",
		Long: `eventbus connects to a message broker, declares the known exchanges and
listens on test_queue for every known routing key until interrupted.

The broker address comes from --address, AMQP_ADDR or EVENTBUS_ADDRESS,
and defaults to amqp://localhost:5672.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd.Context(), f)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "YAML config file")
	pf.StringVar(&f.transport, "transport", "", "transport name (rabbitmq, memory, nats, kafka)")
	pf.StringVar(&f.address, "address", "", "broker address")
	pf.StringVar(&f.logLevel, "log-level", "", "log level")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address when listening (e.g. :9102)")

	cmd.AddCommand(newListenCommand(f), newPublishCommand(f), newTopologyCommand())
	return cmd
}

// loadConfig resolves file and environment configuration, then applies
// flags on top.
func loadConfig(f *rootFlags) (broker.Config, error) {
	cfg, err := broker.LoadConfig(f.configFile)
	if err != nil {
		return broker.Config{}, err
	}
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if f.address != "" {
		cfg.Address = f.address
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	logging.Init(cfg.LogLevel)
	return cfg, nil
}

func newListenCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Listen on test_queue for every routing key until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd.Context(), f)
		},
	}
}

func runListen(ctx context.Context, f *rootFlags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mb, err := eventbus.Open(ctx, cfg)
	if err != nil {
		return err
	}

	mb.Use(middleware.Recovery())
	mb.Use(middleware.Logging())

	var srv *http.Server
	if f.metricsAddr != "" {
		prom := middleware.NewPromCollector()
		mb.Use(middleware.Metrics(prom))
		srv = serveMetrics(f.metricsAddr, prom.Handler())
	}

	if _, err := mb.Listen(ctx, topology.TestQueue, topology.TestExchange, topology.RoutingKeys()); err != nil {
		_ = mb.Close(context.Background())
		return err
	}

	<-ctx.Done()
	logging.L().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	return mb.Close(shutdownCtx)
}

func serveMetrics(addr string, h http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().WithError(err).Error("metrics server stopped")
		}
	}()
	logging.L().WithField("address", addr).Info("serving metrics")
	return srv
}

func newPublishCommand(f *rootFlags) *cobra.Command {
	var exchange, key string
	cmd := &cobra.Command{
		Use:   "publish PAYLOAD",
		Short: "Publish one message and wait for the broker's confirmation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := topology.ParseExchange(exchange)
			if err != nil {
				return err
			}
			rk, err := topology.ParseRoutingKey(key)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			mb, err := eventbus.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer mb.Close(context.Background())

			if err := mb.Publish(ctx, ex, rk, []byte(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s with key %s\n", ex, rk)
			return nil
		},
	}
	cmd.Flags().StringVar(&exchange, "exchange", topology.TestExchange.String(), "exchange wire name")
	cmd.Flags().StringVar(&key, "key", topology.TestTopic.String(), "routing key wire name")
	return cmd
}

func newTopologyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the known exchanges, queues and routing keys",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, ex := range topology.Exchanges() {
				fmt.Fprintf(out, "exchange\t%s\n", ex)
			}
			for _, q := range topology.Queues() {
				fmt.Fprintf(out, "queue\t%s\n", q)
			}
			for _, rk := range topology.RoutingKeys() {
				fmt.Fprintf(out, "routing key\t%s\n", rk)
			}
		},
	}
}
