package stomp

import (
	"bytes"
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonathanMoss/OpenRailDataGateway/config"
	"github.com/JonathanMoss/OpenRailDataGateway/errors"
	"github.com/JonathanMoss/OpenRailDataGateway/metric"
	"github.com/JonathanMoss/OpenRailDataGateway/pkg/tlsutil"
)

const (
	// DefaultHandshakeTimeout bounds CONNECT through SUBSCRIBE
	DefaultHandshakeTimeout = 10 * time.Second

	// heartBeatGrace is how many missed server heart-beats end a session
	heartBeatGrace = 3
)

// aLongTimeAgo is a deadline in the past, used to unblock a pending read.
var aLongTimeAgo = time.Unix(1, 0)

// Metrics holds Prometheus metrics for the upstream STOMP session
type Metrics struct {
	bytesReceived     prometheus.Counter
	handshakes        prometheus.Counter
	handshakeFailures prometheus.Counter
	idleTimeouts      prometheus.Counter
}

// newMetrics creates and registers upstream metrics
func newMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openrail_gateway",
			Subsystem: "stomp",
			Name:      "bytes_received_total",
			Help:      "Bytes read from the upstream STOMP socket",
		}),
		handshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openrail_gateway",
			Subsystem: "stomp",
			Name:      "handshakes_total",
			Help:      "Completed CONNECT and SUBSCRIBE handshakes",
		}),
		handshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openrail_gateway",
			Subsystem: "stomp",
			Name:      "handshake_failures_total",
			Help:      "Handshakes that failed before streaming began",
		}),
		idleTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openrail_gateway",
			Subsystem: "stomp",
			Name:      "idle_timeouts_total",
			Help:      "Sessions ended because the server went quiet",
		}),
	}

	const service = "stomp_upstream"
	for name, c := range map[string]prometheus.Counter{
		"bytes_received":     m.bytesReceived,
		"handshakes":         m.handshakes,
		"handshake_failures": m.handshakeFailures,
		"idle_timeouts":      m.idleTimeouts,
	} {
		if err := registry.RegisterCounter(service, name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Deps holds runtime dependencies for the upstream dialer
type Deps struct {
	MetricsRegistry metric.MetricsRegistrar // optional
	Logger          *slog.Logger            // optional
}

// DialFunc opens the raw connection to the STOMP server
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialerOption configures a Dialer
type DialerOption func(*Dialer)

// WithHandshakeTimeout bounds the CONNECT/CONNECTED/SUBSCRIBE exchange
func WithHandshakeTimeout(d time.Duration) DialerOption {
	return func(dl *Dialer) {
		if d > 0 {
			dl.handshakeTimeout = d
		}
	}
}

// WithMaxFrameBytes sets the per-session FrameReader limit
func WithMaxFrameBytes(n int) DialerOption {
	return func(dl *Dialer) {
		dl.maxFrame = n
	}
}

// WithDialFunc replaces the network dialer, mainly for tests
func WithDialFunc(fn DialFunc) DialerOption {
	return func(dl *Dialer) {
		dl.dial = fn
	}
}

// Dialer establishes subscribed upstream sessions. One Dialer serves every
// reconnect of the upstream leg.
type Dialer struct {
	cfg              config.UpstreamConfig
	tlsConfig        *tls.Config
	handshakeTimeout time.Duration
	maxFrame         int
	dial             DialFunc
	clientID         string

	logger  *slog.Logger
	metrics *Metrics
}

// NewDialer validates TLS settings and registers metrics once.
func NewDialer(cfg config.UpstreamConfig, deps Deps, opts ...DialerOption) (*Dialer, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Dialer", "NewDialer", "load upstream TLS config")
	}
	if tlsConfig != nil && tlsConfig.ServerName == "" {
		tlsConfig.ServerName = cfg.Host
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Dialer", "NewDialer", "register upstream metrics")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dialer{
		cfg:              cfg,
		tlsConfig:        tlsConfig,
		handshakeTimeout: DefaultHandshakeTimeout,
		maxFrame:         DefaultMaxFrameBytes,
		clientID:         cfg.ClientID,
		logger:           logger.With("component", "stomp-upstream"),
		metrics:          metrics,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.dial == nil {
		nd := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
		if d.tlsConfig != nil {
			td := &tls.Dialer{NetDialer: nd, Config: d.tlsConfig}
			d.dial = td.DialContext
		} else {
			d.dial = nd.DialContext
		}
	}
	return d, nil
}

// Dial connects, authenticates and subscribes. Every failure is reported as
// errors.ErrHandshakeFault; a cancelled ctx is returned as is.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	addr := d.cfg.Addr()

	conn, err := d.dial(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.recordHandshakeFailure()
		return nil, errors.Fault(errors.ErrHandshakeFault, err, "Dialer", "Dial",
			fmt.Sprintf("connect to %s", addr))
	}

	s, err := d.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.recordHandshakeFailure()
		return nil, err
	}

	if d.metrics != nil {
		d.metrics.handshakes.Inc()
	}
	d.logger.Info("Upstream subscribed",
		"addr", addr,
		"topic", d.cfg.Topic,
		"read_timeout", s.reader.idle)
	return s, nil
}

func (d *Dialer) handshake(ctx context.Context, conn net.Conn) (*Session, error) {
	if err := conn.SetDeadline(time.Now().Add(d.handshakeTimeout)); err != nil {
		return nil, errors.Fault(errors.ErrHandshakeFault, err, "Dialer", "handshake", "set deadline")
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(aLongTimeAgo)
	})
	defer stop()

	clientID := d.clientID
	if clientID == "" && d.cfg.SubscriptionName != "" {
		// Durable subscriptions need a stable client-id; generate one per dialer.
		clientID = uuid.NewString()
		d.clientID = clientID
	}

	if _, err := conn.Write(ConnectFrame(d.cfg.Username, d.cfg.Password, clientID, d.cfg.HeartBeat)); err != nil {
		return nil, errors.Fault(errors.ErrHandshakeFault, err, "Dialer", "handshake", "send CONNECT")
	}

	dr := &deadlineReader{conn: conn}
	if d.metrics != nil {
		dr.bytes = d.metrics.bytesReceived
	}
	fr := NewFrameReader(dr, d.maxFrame)

	reply, err := fr.Next()
	if err != nil {
		return nil, errors.Fault(errors.ErrHandshakeFault, err, "Dialer", "handshake", "await CONNECTED")
	}
	if err := checkConnected(reply); err != nil {
		return nil, err
	}

	if _, err := conn.Write(SubscribeFrame(d.cfg.Topic, d.cfg.SubscriptionName)); err != nil {
		return nil, errors.Fault(errors.ErrHandshakeFault, err, "Dialer", "handshake", "send SUBSCRIBE")
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, errors.Fault(errors.ErrHandshakeFault, err, "Dialer", "handshake", "clear deadline")
	}

	dr.idle = d.readTimeout(reply)
	return &Session{conn: conn, reader: dr, frames: fr, metrics: d.metrics}, nil
}

// readTimeout picks the idle limit: the configured one, else a multiple of
// the heart-beat interval both sides agreed on, else none.
func (d *Dialer) readTimeout(connected []byte) time.Duration {
	if d.cfg.ReadTimeout > 0 {
		return d.cfg.ReadTimeout
	}
	if d.cfg.HeartBeat <= 0 {
		return 0
	}
	serverSends := serverHeartBeat(connected)
	if serverSends <= 0 {
		return 0
	}
	interval := max(serverSends, d.cfg.HeartBeat)
	return heartBeatGrace * interval
}

func (d *Dialer) recordHandshakeFailure() {
	if d.metrics != nil {
		d.metrics.handshakeFailures.Inc()
	}
}

// checkConnected accepts any reply mentioning CONNECTED and turns an ERROR
// frame into a fault carrying the server's message.
func checkConnected(reply []byte) error {
	if bytes.Contains(reply, []byte(frame.CONNECTED)) {
		return nil
	}

	reply = bytes.TrimLeft(reply, "\r\n")
	if bytes.HasPrefix(reply, []byte(frame.ERROR)) {
		reason := headerValue(reply, frame.Message)
		if reason == "" {
			reason = "server sent ERROR"
		}
		return errors.Fault(errors.ErrHandshakeFault, stderrors.New(reason),
			"Dialer", "handshake", "authenticate")
	}

	command, _, _ := bytes.Cut(reply, []byte("\n"))
	return errors.Fault(errors.ErrHandshakeFault,
		fmt.Errorf("expected CONNECTED, got %q", truncate(string(command), 64)),
		"Dialer", "handshake", "authenticate")
}

// serverHeartBeat returns how often the server promised to send heart-beats.
func serverHeartBeat(connected []byte) time.Duration {
	v := headerValue(connected, frame.HeartBeat)
	sx, _, ok := strings.Cut(v, ",")
	if !ok {
		return 0
	}
	ms, err := strconv.Atoi(strings.TrimSpace(sx))
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// headerValue scans the header block of a raw frame for key.
func headerValue(raw []byte, key string) string {
	head, _, ok := cutHeaders(bytes.TrimLeft(raw, "\r\n"))
	if !ok {
		head = raw
	}
	for _, line := range strings.Split(string(head), "\n") {
		k, v, found := strings.Cut(strings.TrimSuffix(line, "\r"), ":")
		if found && k == key {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// deadlineReader refreshes the idle read deadline before each read and lets
// a context interrupt a blocked read.
type deadlineReader struct {
	conn  net.Conn
	idle  time.Duration
	bytes prometheus.Counter

	mu          sync.Mutex
	interrupted bool
	timedOut    bool
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.interrupted {
		r.mu.Unlock()
		return 0, context.Canceled
	}
	if r.idle > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.idle))
	}
	r.mu.Unlock()

	n, err := r.conn.Read(p)
	if n > 0 && r.bytes != nil {
		r.bytes.Add(float64(n))
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		r.mu.Lock()
		r.timedOut = !r.interrupted
		r.mu.Unlock()
	}
	return n, err
}

func (r *deadlineReader) interrupt() {
	r.mu.Lock()
	r.interrupted = true
	_ = r.conn.SetReadDeadline(aLongTimeAgo)
	r.mu.Unlock()
}

// Session is a subscribed upstream connection.
type Session struct {
	conn    net.Conn
	reader  *deadlineReader
	frames  *FrameReader
	metrics *Metrics

	closeOnce sync.Once
	closeErr  error
}

// Next blocks for the next frame. The returned slice is valid until the
// following call. Cancelling ctx unblocks the read and returns ctx.Err();
// the session is unusable afterwards.
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, s.reader.interrupt)
	defer stop()

	f, err := s.frames.Next()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if s.idleTimedOut() && s.metrics != nil {
			s.metrics.idleTimeouts.Inc()
		}
		return nil, err
	}
	return f, nil
}

func (s *Session) idleTimedOut() bool {
	s.reader.mu.Lock()
	defer s.reader.mu.Unlock()
	return s.reader.timedOut
}

// ReadTimeout reports the idle limit negotiated for this session; zero means none
func (s *Session) ReadTimeout() time.Duration {
	return s.reader.idle
}

// Close closes the socket. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
