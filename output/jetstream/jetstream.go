package jetstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/JonathanMoss/OpenRailDataGateway/bridge"
	"github.com/JonathanMoss/OpenRailDataGateway/config"
	"github.com/JonathanMoss/OpenRailDataGateway/errors"
	"github.com/JonathanMoss/OpenRailDataGateway/metric"
	"github.com/JonathanMoss/OpenRailDataGateway/natsclient"
	"github.com/JonathanMoss/OpenRailDataGateway/pkg/tlsutil"
)

const (
	// DefaultSubjectToken replaces an empty routing key
	DefaultSubjectToken = "default"

	// Message headers set on every publish
	HeaderContentType = "Content-Type"
	HeaderRoutingKey  = "Routing-Key"
	HeaderTimestamp   = "Feed-Timestamp"

	statsInterval = 30 * time.Second
)

// Deps holds runtime dependencies for the JetStream downstream
type Deps struct {
	MetricsRegistry metric.MetricsRegistrar // optional
	Logger          *slog.Logger            // optional
}

// Dialer opens JetStream publishers. Each Dial is a fresh connection.
type Dialer struct {
	cfg       config.NATSConfig
	tlsConfig *tls.Config
	name      string
	logger    *slog.Logger
	metrics   *natsclient.Metrics
}

// NewDialer validates TLS settings and registers metrics once
func NewDialer(cfg config.NATSConfig, deps Deps) (*Dialer, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Dialer", "NewDialer", "load NATS TLS config")
	}

	metrics, err := natsclient.NewMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Dialer", "NewDialer", "register JetStream metrics")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dialer{
		cfg:       cfg,
		tlsConfig: tlsConfig,
		name:      "openrail-gateway-" + uuid.NewString()[:8],
		logger:    logger.With("component", "jetstream-publisher"),
		metrics:   metrics,
	}, nil
}

// Dial connects and, when configured, creates the stream. Failures wrap
// errors.ErrBrokerFault.
func (d *Dialer) Dial(ctx context.Context) (bridge.Publisher, error) {
	client, err := natsclient.NewClient(d.cfg.URL,
		natsclient.WithName(d.name),
		natsclient.WithTimeout(d.cfg.ConnectTimeout),
		natsclient.WithCredentials(d.cfg.Username, d.cfg.Password),
		natsclient.WithToken(d.cfg.Token),
		natsclient.WithTLSConfig(d.tlsConfig),
		natsclient.WithLogger(d.logger),
		natsclient.WithMetrics(d.metrics),
	)
	if err != nil {
		return nil, errors.Fault(errors.ErrBrokerFault, err, "Dialer", "Dial", "create NATS client")
	}

	if err := client.Connect(ctx); err != nil {
		return nil, errors.Fault(errors.ErrBrokerFault, err, "Dialer", "Dial", "connect to NATS")
	}

	if d.cfg.CreateStream {
		_, err := client.EnsureStream(ctx, jetstream.StreamConfig{
			Name:     d.cfg.Stream,
			Subjects: []string{d.cfg.SubjectPrefix + ".>"},
			Storage:  jetstream.FileStorage,
		})
		if err != nil {
			_ = client.Close(context.Background())
			return nil, errors.Fault(errors.ErrBrokerFault, err, "Dialer", "Dial",
				fmt.Sprintf("ensure stream %s", d.cfg.Stream))
		}
	}

	p := &Publisher{
		client:    client,
		prefix:    d.cfg.SubjectPrefix,
		stream:    d.cfg.Stream,
		stopStats: d.metrics.StartPoller(context.Background(), statsInterval),
	}
	d.logger.Info("JetStream publisher ready",
		"url", d.cfg.URL,
		"stream", d.cfg.Stream,
		"subject_prefix", d.cfg.SubjectPrefix)
	return p, nil
}

// Publisher publishes bridge requests to JetStream subjects.
type Publisher struct {
	client    *natsclient.Client
	prefix    string
	stream    string
	stopStats context.CancelFunc
}

// Publish sends req to <prefix>.<routing key> and waits for the PubAck.
// The upstream message-id, when present, becomes the JetStream message id
// so a retried publish is de-duplicated by the stream.
func (p *Publisher) Publish(ctx context.Context, req bridge.PublishRequest) error {
	msg := nats.NewMsg(Subject(p.prefix, req.RoutingKey))
	msg.Data = req.Body
	msg.Header.Set(HeaderContentType, req.ContentType)
	if req.RoutingKey != "" {
		msg.Header.Set(HeaderRoutingKey, req.RoutingKey)
	}
	if !req.Timestamp.IsZero() {
		msg.Header.Set(HeaderTimestamp, req.Timestamp.Format(time.RFC3339Nano))
	}

	var opts []jetstream.PublishOpt
	if req.MessageID != "" {
		opts = append(opts, jetstream.WithMsgID(req.MessageID))
	}
	if p.stream != "" {
		opts = append(opts, jetstream.WithExpectStream(p.stream))
	}

	if _, err := p.client.PublishMsg(ctx, msg, opts...); err != nil {
		return errors.Fault(errors.ErrBrokerFault, err, "Publisher", "Publish",
			fmt.Sprintf("publish to %s", msg.Subject))
	}
	return nil
}

// Close drains the connection
func (p *Publisher) Close() error {
	p.stopStats()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.Close(ctx)
}

// Subject maps a routing key to a subject under prefix. Characters NATS
// treats specially in a token are replaced with '_'.
func Subject(prefix, routingKey string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, routingKey)
	if token == "" {
		token = DefaultSubjectToken
	}
	if prefix == "" {
		return token
	}
	return prefix + "." + token
}
