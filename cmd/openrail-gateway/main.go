// Package main implements the entry point for the OpenRail data gateway.
// The gateway subscribes to the National Rail Darwin push port over STOMP,
// decodes each message and republishes it to an AMQP exchange or a NATS
// JetStream stream.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/JonathanMoss/OpenRailDataGateway/bridge"
	"github.com/JonathanMoss/OpenRailDataGateway/config"
	"github.com/JonathanMoss/OpenRailDataGateway/errors"
	"github.com/JonathanMoss/OpenRailDataGateway/input/stomp"
	"github.com/JonathanMoss/OpenRailDataGateway/metric"
	"github.com/JonathanMoss/OpenRailDataGateway/output/jetstream"
	"github.com/JonathanMoss/OpenRailDataGateway/output/rabbitmq"
)

// Build information
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "openrail-gateway"

var errShutdownTimeout = stderrors.New("shutdown timed out")

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Gateway failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args, os.LookupEnv, os.Stderr)
	if err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.Redacted())
		return nil
	}

	logger.Info("Starting gateway",
		"version", Version,
		"build_time", BuildTime,
		"upstream", cfg.Upstream.Addr(),
		"topic", cfg.Upstream.Topic,
		"downstream", cfg.Downstream.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runGateway(ctx, cfg, cliCfg.ShutdownTimeout, logger)
}

// loadConfig layers every config file over the defaults, applies the
// environment and validates the result.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range cliCfg.ConfigPaths {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.MetricsAddr != "" {
		cfg.Metrics.Addr = cliCfg.MetricsAddr
	}
	return cfg, nil
}

// runGateway runs the bridge loop and, when enabled, the metrics server
// until ctx is cancelled or the metrics server fails.
func runGateway(ctx context.Context, cfg *config.Config, shutdownTimeout time.Duration, logger *slog.Logger) error {
	var registry *metric.MetricsRegistry
	if cfg.Metrics.Enabled {
		registry = metric.NewMetricsRegistry()
	}

	loop, err := buildLoop(cfg, registry, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})

	if registry != nil {
		server := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry, loop.Health)
		g.Go(func() error {
			return server.Run(gctx)
		})
		logger.Info("Serving metrics", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-gctx.Done():
	}

	logger.Info("Shutting down", "timeout", shutdownTimeout)
	select {
	case err := <-done:
		if err != nil {
			return err
		}
		logger.Info("Gateway stopped",
			"published", loop.Published(),
			"dropped", loop.Dropped())
		return nil
	case <-time.After(shutdownTimeout):
		return errShutdownTimeout
	}
}

// buildLoop wires the STOMP upstream and the configured downstream into a
// bridge loop. A nil registry disables metrics.
func buildLoop(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*bridge.Loop, error) {
	var (
		registrar metric.MetricsRegistrar
		core      *metric.Metrics
	)
	if registry != nil {
		registrar = registry
		core = registry.CoreMetrics()
	}

	upstream, err := stomp.NewDialer(cfg.Upstream,
		stomp.Deps{MetricsRegistry: registrar, Logger: logger},
		stomp.WithHandshakeTimeout(cfg.Bridge.HandshakeTimeout),
		stomp.WithMaxFrameBytes(cfg.Bridge.MaxFrameBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("create upstream: %w", err)
	}

	downstream, err := newDownstream(cfg.Downstream, registrar, logger)
	if err != nil {
		return nil, fmt.Errorf("create downstream: %w", err)
	}

	return bridge.NewLoop(bridge.ConfigFrom(cfg.Bridge), bridge.Deps{
		Upstream:   bridge.NewStompUpstream(upstream),
		Downstream: downstream,
		Metrics:    core,
		Logger:     logger,
	})
}

// newDownstream selects the broker dialer named by cfg.Kind
func newDownstream(cfg config.DownstreamConfig, registrar metric.MetricsRegistrar, logger *slog.Logger) (bridge.DownstreamDialer, error) {
	var (
		dialer bridge.DownstreamDialer
		err    error
	)
	switch cfg.Kind {
	case config.DownstreamAMQP, "":
		var d *rabbitmq.Dialer
		d, err = rabbitmq.NewDialer(cfg.AMQP, rabbitmq.Deps{MetricsRegistry: registrar, Logger: logger})
		dialer = d
	case config.DownstreamNATS:
		var d *jetstream.Dialer
		d, err = jetstream.NewDialer(cfg.NATS, jetstream.Deps{MetricsRegistry: registrar, Logger: logger})
		dialer = d
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "main", "newDownstream",
			fmt.Sprintf("unknown downstream kind %q", cfg.Kind))
	}
	if err != nil {
		return nil, err
	}
	return dialer, nil
}
