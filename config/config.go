package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/JonathanMoss/OpenRailDataGateway/errors"
	"github.com/JonathanMoss/OpenRailDataGateway/pkg/security"
	"github.com/JonathanMoss/OpenRailDataGateway/pkg/tlsutil"
)

// Downstream kinds
const (
	DownstreamAMQP = "amqp"
	DownstreamNATS = "nats"
)

// Config represents the complete gateway configuration
type Config struct {
	Upstream   UpstreamConfig   `json:"upstream" yaml:"upstream"`
	Downstream DownstreamConfig `json:"downstream" yaml:"downstream"`
	Bridge     BridgeConfig     `json:"bridge" yaml:"bridge"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

// UpstreamConfig describes the STOMP feed the gateway subscribes to
type UpstreamConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Topic    string `json:"topic" yaml:"topic"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`

	// Optional STOMP extras. Empty or zero values are not sent.
	ClientID         string        `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	SubscriptionName string        `json:"subscription_name,omitempty" yaml:"subscription_name,omitempty"`
	HeartBeat        time.Duration `json:"heart_beat,omitempty" yaml:"heart_beat,omitempty"`

	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	// ReadTimeout bounds how long a read may wait without any bytes arriving.
	// Zero disables it unless HeartBeat is set.
	ReadTimeout time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`

	TLS security.ClientTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// Addr returns host:port of the STOMP broker
func (u UpstreamConfig) Addr() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// DownstreamConfig selects and configures the broker messages are published to
type DownstreamConfig struct {
	Kind string     `json:"kind" yaml:"kind"` // "amqp" or "nats"
	AMQP AMQPConfig `json:"amqp" yaml:"amqp"`
	NATS NATSConfig `json:"nats" yaml:"nats"`
}

// AMQPConfig configures the RabbitMQ publisher
type AMQPConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	VHost    string `json:"vhost" yaml:"vhost"`

	Exchange        string `json:"exchange" yaml:"exchange"`
	DeclareExchange bool   `json:"declare_exchange" yaml:"declare_exchange"`
	ExchangeKind    string `json:"exchange_kind" yaml:"exchange_kind"`
	Durable         bool   `json:"durable" yaml:"durable"`
	Mandatory       bool   `json:"mandatory" yaml:"mandatory"`
	// Expiration is the per-message TTL in milliseconds, as AMQP expects it.
	Expiration string `json:"expiration,omitempty" yaml:"expiration,omitempty"`

	Heartbeat      time.Duration `json:"heartbeat" yaml:"heartbeat"`
	FrameMax       int           `json:"frame_max" yaml:"frame_max"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	TLS security.ClientTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// NATSConfig configures the JetStream publisher
type NATSConfig struct {
	URL            string        `json:"url" yaml:"url"`
	Username       string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token          string        `json:"token,omitempty" yaml:"token,omitempty"`
	SubjectPrefix  string        `json:"subject_prefix" yaml:"subject_prefix"`
	Stream         string        `json:"stream,omitempty" yaml:"stream,omitempty"`
	CreateStream   bool          `json:"create_stream" yaml:"create_stream"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	TLS security.ClientTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// BridgeConfig holds the pipeline and reconnect policy
type BridgeConfig struct {
	BackoffInitial    time.Duration `json:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax        time.Duration `json:"backoff_max" yaml:"backoff_max"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	// BackoffResetAfter is how long a leg must stream before its backoff
	// returns to BackoffInitial.
	BackoffResetAfter time.Duration `json:"backoff_reset_after" yaml:"backoff_reset_after"`

	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	PublishTimeout   time.Duration `json:"publish_timeout" yaml:"publish_timeout"`

	MaxFrameBytes   int `json:"max_frame_bytes" yaml:"max_frame_bytes"`
	MaxPayloadBytes int `json:"max_payload_bytes" yaml:"max_payload_bytes"`
}

// MetricsConfig configures the Prometheus and health endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Path    string `json:"path" yaml:"path"`
}

// Default returns the configuration used before any layer is applied
func Default() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			Port:           61613,
			ConnectTimeout: 10 * time.Second,
		},
		Downstream: DownstreamConfig{
			Kind: DownstreamAMQP,
			AMQP: AMQPConfig{
				Host:           "localhost",
				Port:           5672,
				VHost:          "/",
				Exchange:       "rabbitmq_exchange",
				ExchangeKind:   "fanout",
				Durable:        true,
				Heartbeat:      30 * time.Second,
				FrameMax:       131072,
				ConnectTimeout: 10 * time.Second,
			},
			NATS: NATSConfig{
				URL:            "nats://localhost:4222",
				SubjectPrefix:  "openrail",
				ConnectTimeout: 10 * time.Second,
			},
		},
		Bridge: BridgeConfig{
			BackoffInitial:    time.Second,
			BackoffMax:        time.Minute,
			BackoffMultiplier: 2.0,
			BackoffResetAfter: time.Minute,
			HandshakeTimeout:  10 * time.Second,
			PublishTimeout:    30 * time.Second,
			MaxFrameBytes:     16 << 20,
			MaxPayloadBytes:   64 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration before any connection is attempted.
// Errors wrap ErrMissingConfig or ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "configuration check")
	}
	return nil
}

func (c *Config) validate() error {
	up := c.Upstream
	switch {
	case up.Host == "":
		return missing("upstream.host")
	case up.Topic == "":
		return missing("upstream.topic")
	case up.Username == "":
		return missing("upstream.username")
	case up.Password == "":
		return missing("upstream.password")
	}
	if err := validPort("upstream.port", up.Port); err != nil {
		return err
	}
	if up.HeartBeat < 0 || up.ReadTimeout < 0 || up.ConnectTimeout < 0 {
		return invalid("upstream timeouts cannot be negative")
	}
	if err := validateTLS("upstream.tls", up.TLS); err != nil {
		return err
	}

	switch c.Downstream.Kind {
	case DownstreamAMQP:
		if err := c.Downstream.AMQP.validate(); err != nil {
			return err
		}
	case DownstreamNATS:
		if err := c.Downstream.NATS.validate(); err != nil {
			return err
		}
	default:
		return invalid(fmt.Sprintf("downstream.kind %q (must be %q or %q)",
			c.Downstream.Kind, DownstreamAMQP, DownstreamNATS))
	}

	b := c.Bridge
	if b.BackoffInitial <= 0 || b.BackoffMax < b.BackoffInitial {
		return invalid("bridge.backoff_initial must be > 0 and <= bridge.backoff_max")
	}
	if b.BackoffMultiplier <= 1 {
		return invalid("bridge.backoff_multiplier must be greater than 1")
	}
	if b.BackoffResetAfter <= 0 || b.HandshakeTimeout <= 0 || b.PublishTimeout <= 0 {
		return invalid("bridge timeouts must be positive")
	}
	if b.MaxFrameBytes <= 0 || b.MaxPayloadBytes <= 0 {
		return invalid("bridge.max_frame_bytes and bridge.max_payload_bytes must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return missing("metrics.addr")
	}
	return nil
}

func (a AMQPConfig) validate() error {
	switch {
	case a.Host == "":
		return missing("downstream.amqp.host")
	case a.Username == "":
		return missing("downstream.amqp.username")
	case a.Password == "":
		return missing("downstream.amqp.password")
	}
	if err := validPort("downstream.amqp.port", a.Port); err != nil {
		return err
	}
	if a.DeclareExchange {
		if a.Exchange == "" {
			return invalid("downstream.amqp.exchange is required when declare_exchange is set")
		}
		switch a.ExchangeKind {
		case "fanout", "topic", "direct", "headers":
		default:
			return invalid(fmt.Sprintf("downstream.amqp.exchange_kind %q", a.ExchangeKind))
		}
	}
	if a.Expiration != "" {
		if n, err := strconv.ParseUint(a.Expiration, 10, 32); err != nil || n == 0 {
			return invalid("downstream.amqp.expiration must be a positive number of milliseconds")
		}
	}
	if a.FrameMax < 0 || a.Heartbeat < 0 {
		return invalid("downstream.amqp.frame_max and heartbeat cannot be negative")
	}
	return validateTLS("downstream.amqp.tls", a.TLS)
}

func (n NATSConfig) validate() error {
	if n.URL == "" {
		return missing("downstream.nats.url")
	}
	if n.SubjectPrefix == "" || strings.ContainsAny(n.SubjectPrefix, " *>") {
		return invalid("downstream.nats.subject_prefix must be a literal subject token")
	}
	if n.CreateStream && n.Stream == "" {
		return invalid("downstream.nats.stream is required when create_stream is set")
	}
	return validateTLS("downstream.nats.tls", n.TLS)
}

func validPort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return invalid(fmt.Sprintf("%s %d out of range", field, port))
	}
	return nil
}

func validateTLS(field string, cfg security.ClientTLSConfig) error {
	if err := tlsutil.ValidateVersion(cfg.MinVersion); err != nil {
		return invalid(fmt.Sprintf("%s.min_version: %v", field, err))
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return invalid(fmt.Sprintf("%s: cert_file and key_file must be set together", field))
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", errors.ErrMissingConfig, field)
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg)
}

// Redacted returns a copy with credentials masked, safe to log
func (c *Config) Redacted() *Config {
	cp := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&cp.Upstream.Password)
	mask(&cp.Downstream.AMQP.Password)
	mask(&cp.Downstream.NATS.Password)
	mask(&cp.Downstream.NATS.Token)
	return &cp
}

// String returns an indented JSON representation with credentials masked
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
