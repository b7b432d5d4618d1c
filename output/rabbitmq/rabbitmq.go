package rabbitmq

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JonathanMoss/OpenRailDataGateway/bridge"
	"github.com/JonathanMoss/OpenRailDataGateway/config"
	"github.com/JonathanMoss/OpenRailDataGateway/errors"
	"github.com/JonathanMoss/OpenRailDataGateway/metric"
	"github.com/JonathanMoss/OpenRailDataGateway/pkg/tlsutil"
)

const (
	// DefaultConnectTimeout bounds the TCP, TLS and AMQP handshakes
	DefaultConnectTimeout = 10 * time.Second

	// AppID is set on every published message
	AppID = "openrail-gateway"

	returnBuffer = 16
)

var aLongTimeAgo = time.Unix(1, 0)

// Confirm outcomes used as metric labels
const (
	outcomeAck      = "ack"
	outcomeNack     = "nack"
	outcomeReturned = "returned"
	outcomeError    = "error"
)

// Metrics for the AMQP downstream
type Metrics struct {
	confirms       *prometheus.CounterVec
	confirmLatency prometheus.Histogram
	connections    prometheus.Counter
}

func newMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		confirms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openrail_gateway",
			Subsystem: "amqp",
			Name:      "publish_confirms_total",
			Help:      "Publisher confirms by outcome",
		}, []string{"outcome"}),
		confirmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "openrail_gateway",
			Subsystem: "amqp",
			Name:      "confirm_wait_seconds",
			Help:      "Time from basic.publish to broker confirm",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openrail_gateway",
			Subsystem: "amqp",
			Name:      "connections_total",
			Help:      "AMQP connections opened",
		}),
	}

	const service = "amqp_downstream"
	if err := registry.RegisterCounterVec(service, "publish_confirms", m.confirms); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(service, "confirm_wait", m.confirmLatency); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "connections", m.connections); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordConfirm(outcome string, waited time.Duration) {
	if m == nil {
		return
	}
	m.confirms.WithLabelValues(outcome).Inc()
	if outcome == outcomeAck || outcome == outcomeNack {
		m.confirmLatency.Observe(waited.Seconds())
	}
}

func (m *Metrics) recordConnection() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// Deps holds runtime dependencies for the AMQP downstream
type Deps struct {
	MetricsRegistry metric.MetricsRegistrar // optional
	Logger          *slog.Logger            // optional
}

// Dialer opens confirm-mode AMQP publishers. Each Dial is a fresh
// connection and channel.
type Dialer struct {
	cfg       config.AMQPConfig
	tlsConfig *tls.Config
	logger    *slog.Logger
	metrics   *Metrics
}

// NewDialer loads TLS settings and registers metrics once
func NewDialer(cfg config.AMQPConfig, deps Deps) (*Dialer, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Dialer", "NewDialer", "load AMQP TLS config")
	}
	if tlsConfig != nil && tlsConfig.ServerName == "" {
		tlsConfig.ServerName = cfg.Host
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Dialer", "NewDialer", "register AMQP metrics")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dialer{
		cfg:       cfg,
		tlsConfig: tlsConfig,
		logger:    logger.With("component", "amqp-publisher"),
		metrics:   metrics,
	}, nil
}

// Address returns the broker URL without credentials
func (d *Dialer) Address() string {
	scheme := "amqp"
	if d.tlsConfig != nil {
		scheme = "amqps"
	}
	return scheme + "://" + net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port)) + "/"
}

func (d *Dialer) vhost() string {
	if d.cfg.VHost == "" {
		return "/"
	}
	return d.cfg.VHost
}

func (d *Dialer) connectTimeout() time.Duration {
	if d.cfg.ConnectTimeout > 0 {
		return d.cfg.ConnectTimeout
	}
	return DefaultConnectTimeout
}

// amqpConfig builds the client configuration. The dial function forces
// the socket deadline into the past if ctx ends before stop is called.
func (d *Dialer) amqpConfig(ctx context.Context) (amqp.Config, func() bool) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(AppID + "-" + uuid.NewString()[:8])

	var mu sync.Mutex
	stop := func() bool { return true }
	timeout := d.connectTimeout()

	cfg := amqp.Config{
		SASL:            []amqp.Authentication{&amqp.PlainAuth{Username: d.cfg.Username, Password: d.cfg.Password}},
		Vhost:           d.vhost(),
		Heartbeat:       d.cfg.Heartbeat,
		FrameSize:       d.cfg.FrameMax,
		TLSClientConfig: d.tlsConfig,
		Properties:      props,
		Locale:          "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			dialer := net.Dialer{Timeout: timeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Cleared by the client once the connection is open.
			if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
				conn.Close()
				return nil, err
			}
			mu.Lock()
			stop = context.AfterFunc(ctx, func() {
				_ = conn.SetDeadline(aLongTimeAgo)
			})
			mu.Unlock()
			return conn, nil
		},
	}

	return cfg, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stop()
	}
}

// Dial connects, opens a channel, enables publisher confirms and, when
// configured, declares the exchange. Failures wrap errors.ErrBrokerFault.
func (d *Dialer) Dial(ctx context.Context) (bridge.Publisher, error) {
	cfg, stop := d.amqpConfig(ctx)

	conn, err := amqp.DialConfig(d.Address(), cfg)
	if !stop() && err == nil {
		_ = conn.Close()
		err = ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Fault(errors.ErrBrokerFault, err, "Dialer", "Dial",
			fmt.Sprintf("connect to %s", d.Address()))
	}
	d.metrics.recordConnection()

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Fault(errors.ErrBrokerFault, err, "Dialer", "Dial", "open channel")
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, errors.Fault(errors.ErrBrokerFault, err, "Dialer", "Dial", "enable publisher confirms")
	}

	if d.cfg.DeclareExchange && d.cfg.Exchange != "" {
		kind := d.cfg.ExchangeKind
		if kind == "" {
			kind = amqp.ExchangeFanout
		}
		if err := ch.ExchangeDeclare(d.cfg.Exchange, kind, d.cfg.Durable, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, errors.Fault(errors.ErrBrokerFault, err, "Dialer", "Dial",
				fmt.Sprintf("declare exchange %s", d.cfg.Exchange))
		}
	}

	var returns <-chan amqp.Return
	if d.cfg.Mandatory {
		returns = ch.NotifyReturn(make(chan amqp.Return, returnBuffer))
	}
	p := newPublisher(channelAdapter{ch}, conn, returns, d.cfg, d.metrics, d.logger)
	go p.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)))

	d.logger.Info("AMQP publisher ready",
		"broker", d.Address(),
		"vhost", d.vhost(),
		"exchange", d.cfg.Exchange,
		"mandatory", d.cfg.Mandatory)
	return p, nil
}
