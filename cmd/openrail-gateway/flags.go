package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	MetricsAddr     string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

// parseFlags parses args with environment variable fallbacks. lookupEnv is
// os.LookupEnv outside tests.
func parseFlags(args []string, lookupEnv func(string) (string, bool), usageOut io.Writer) (*CLIConfig, error) {
	getEnv := func(key, defaultValue string) string {
		if value, ok := lookupEnv(key); ok && value != "" {
			return value
		}
		return defaultValue
	}

	cfg := &CLIConfig{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(usageOut)

	var defaultConfigs []string
	if path := getEnv("GATEWAY_CONFIG", ""); path != "" {
		defaultConfigs = strings.Split(path, string(os.PathListSeparator))
	}

	fs.StringArrayVarP(&cfg.ConfigPaths, "config", "c", defaultConfigs,
		"Configuration file layer, JSON or YAML; repeat to layer (env: GATEWAY_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("GATEWAY_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: GATEWAY_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("GATEWAY_LOG_FORMAT", "json"),
		"Log format: json, text (env: GATEWAY_LOG_FORMAT)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "",
		"Metrics and health listen address, overrides metrics.addr")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 30*time.Second,
		"Graceful shutdown timeout")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(usageOut, `%s - Darwin STOMP feed to AMQP/NATS bridge

Usage: %s [options]

Options:
`, appName, appName)
		fs.PrintDefaults()
		_, _ = fmt.Fprintf(usageOut, `
Examples:
  # Layer a site file over the base file
  %s -c gateway.yaml -c site.yaml

  # Configure entirely from the environment
  export DARWIN_HOST=darwin-dist-44ae45.nationalrail.co.uk DARWIN_USER=... DARWIN_PASS=...
  export RMQ_HOST=localhost RMQ_PROD_USER=... RMQ_PROD_PASS=...
  %s

Version: %s
`, appName, appName, Version)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(cfg.LogLevel)) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, strings.ToLower(cfg.LogFormat)) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}
