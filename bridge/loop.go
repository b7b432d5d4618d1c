package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/JonathanMoss/OpenRailDataGateway/config"
	"github.com/JonathanMoss/OpenRailDataGateway/errors"
	"github.com/JonathanMoss/OpenRailDataGateway/health"
	"github.com/JonathanMoss/OpenRailDataGateway/input/stomp"
	"github.com/JonathanMoss/OpenRailDataGateway/metric"
	"github.com/JonathanMoss/OpenRailDataGateway/pkg/retry"
)

// Upstream is a subscribed feed connection.
type Upstream interface {
	// Next returns the next raw frame, valid until the following call.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// UpstreamDialer performs the upstream handshake.
type UpstreamDialer interface {
	Dial(ctx context.Context) (Upstream, error)
}

// Publisher delivers requests to the downstream broker. Publish returns nil
// only once the broker has accepted the message; failures wrap
// errors.ErrBrokerFault. Publishers never retry.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) error
	Close() error
}

// DownstreamDialer performs the downstream handshake.
type DownstreamDialer interface {
	Dial(ctx context.Context) (Publisher, error)
}

// Config is the loop's pipeline and reconnect policy.
type Config struct {
	Backoff           retry.Config
	BackoffResetAfter time.Duration
	PublishTimeout    time.Duration
	MaxPayloadBytes   int
}

// ConfigFrom derives the loop configuration from the gateway's bridge section
func ConfigFrom(cfg config.BridgeConfig) Config {
	return Config{
		Backoff: retry.Config{
			InitialDelay: cfg.BackoffInitial,
			MaxDelay:     cfg.BackoffMax,
			Multiplier:   cfg.BackoffMultiplier,
			AddJitter:    true,
		},
		BackoffResetAfter: cfg.BackoffResetAfter,
		PublishTimeout:    cfg.PublishTimeout,
		MaxPayloadBytes:   cfg.MaxPayloadBytes,
	}
}

// Deps holds the loop's runtime dependencies
type Deps struct {
	Upstream   UpstreamDialer   // required
	Downstream DownstreamDialer // required
	Metrics    *metric.Metrics  // optional
	Logger     *slog.Logger     // optional
}

// Option adjusts a Loop, mostly for tests
type Option func(*Loop)

// WithSleep replaces the backoff sleep
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) { l.sleep = fn }
}

// WithClock replaces time.Now
func WithClock(fn func() time.Time) Option {
	return func(l *Loop) { l.now = fn }
}

// WithTransitionHook is called, on the loop goroutine, for every state change
func WithTransitionHook(fn func(from, to State)) Option {
	return func(l *Loop) { l.onTransition = fn }
}

const (
	defaultPublishTimeout    = 30 * time.Second
	defaultBackoffResetAfter = time.Minute
)

// legState is the part of a leg other goroutines may observe.
type legState struct {
	status atomic.Int32
	faults atomic.Int64

	mu      sync.Mutex
	lastErr error
}

func (ls *legState) setErr(err error) {
	ls.mu.Lock()
	ls.lastErr = err
	ls.mu.Unlock()
}

func (ls *legState) err() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.lastErr
}

// Loop moves messages from the upstream feed to the downstream broker one at
// a time, reconnecting whichever leg fails.
//
// Run owns both connections. Other goroutines may call State, LegStatus and
// Health while it runs.
type Loop struct {
	cfg     Config
	up      UpstreamDialer
	down    DownstreamDialer
	decoder stomp.Decoder
	logger  *slog.Logger
	metrics *metric.Metrics
	dropLog rate.Sometimes

	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
	onTransition func(from, to State)

	state    atomic.Int32
	running  atomic.Bool
	started  atomic.Int64 // unix nanos
	activity atomic.Int64 // unix nanos of the last publish
	legs     map[Leg]*legState

	published atomic.Int64
	dropped   atomic.Int64
}

// NewLoop builds a Loop. Both dialers are required.
func NewLoop(cfg Config, deps Deps, opts ...Option) (*Loop, error) {
	if deps.Upstream == nil || deps.Downstream == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Loop", "NewLoop", "check dialers")
	}
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Loop", "NewLoop", "validate backoff")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.BackoffResetAfter <= 0 {
		cfg.BackoffResetAfter = defaultBackoffResetAfter
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loop{
		cfg:     cfg,
		up:      deps.Upstream,
		down:    deps.Downstream,
		decoder: stomp.Decoder{MaxPayloadBytes: cfg.MaxPayloadBytes},
		logger:  logger.With("component", "bridge"),
		metrics: deps.Metrics,
		dropLog: rate.Sometimes{First: 10, Interval: 10 * time.Second},
		sleep:   retry.Sleep,
		now:     time.Now,
		legs: map[Leg]*legState{
			LegUpstream:   {},
			LegDownstream: {},
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// run holds the state of one Run call.
type run struct {
	session   Upstream
	publisher Publisher
	pending   *PublishRequest

	backoff        map[Leg]*retry.Backoff
	streamingSince map[Leg]time.Time

	failedLeg Leg
	fault     error
}

// Run drives the state machine until ctx is cancelled, then closes both legs
// and returns nil. Faults never end Run.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Loop", "Run", "start bridge")
	}
	defer l.running.Store(false)

	l.started.Store(l.now().UnixNano())
	r := &run{
		backoff: map[Leg]*retry.Backoff{
			LegUpstream:   retry.NewBackoff(l.cfg.Backoff),
			LegDownstream: retry.NewBackoff(l.cfg.Backoff),
		},
		streamingSince: map[Leg]time.Time{},
	}
	defer l.terminate(r)

	l.logger.Info("Bridge starting")
	l.transition(StateUpstreamHandshake)

	for ctx.Err() == nil {
		switch l.State() {
		case StateUpstreamHandshake:
			l.upstreamHandshake(ctx, r)
		case StateDownstreamHandshake:
			l.downstreamHandshake(ctx, r)
		case StateStreaming:
			l.streaming(ctx, r)
		case StateFaulted:
			l.faulted(r)
		case StateReconnecting:
			l.reconnecting(ctx, r)
		default:
			return errors.WrapFatal(fmt.Errorf("unexpected state %s", l.State()), "Loop", "Run", "advance state")
		}
	}
	return nil
}

func (l *Loop) upstreamHandshake(ctx context.Context, r *run) {
	l.setLegStatus(LegUpstream, ConnConnecting)
	s, err := l.up.Dial(ctx)
	if err != nil {
		l.setLegStatus(LegUpstream, ConnDisconnected)
		l.fail(ctx, r, LegUpstream, err)
		return
	}
	r.session = s
	l.setLegStatus(LegUpstream, ConnAuthenticated)
	l.logger.Info("Upstream leg established")

	if r.publisher == nil {
		l.transition(StateDownstreamHandshake)
		return
	}
	l.startStreaming(r)
}

func (l *Loop) downstreamHandshake(ctx context.Context, r *run) {
	l.setLegStatus(LegDownstream, ConnConnecting)
	p, err := l.down.Dial(ctx)
	if err != nil {
		l.setLegStatus(LegDownstream, ConnDisconnected)
		l.fail(ctx, r, LegDownstream, brokerFault(err, "downstreamHandshake", "dial broker"))
		return
	}
	r.publisher = p
	l.setLegStatus(LegDownstream, ConnAuthenticated)
	l.logger.Info("Downstream leg established")

	if r.session == nil {
		l.transition(StateUpstreamHandshake)
		return
	}
	l.startStreaming(r)
}

func (l *Loop) startStreaming(r *run) {
	now := l.now()
	for _, leg := range []Leg{LegUpstream, LegDownstream} {
		if r.streamingSince[leg].IsZero() {
			r.streamingSince[leg] = now
		}
		l.setLegStatus(leg, ConnStreaming)
	}
	l.transition(StateStreaming)
}

// streaming runs the pipeline until a leg faults. A request whose publish
// failed stays pending and goes out first on the next pass.
func (l *Loop) streaming(ctx context.Context, r *run) {
	for {
		if r.pending != nil {
			if err := l.publish(ctx, r.publisher, *r.pending); err != nil {
				l.fail(ctx, r, LegDownstream, err)
				return
			}
			r.pending = nil
		}

		raw, err := r.session.Next(ctx)
		if err != nil {
			l.fail(ctx, r, LegUpstream, err)
			return
		}
		if l.metrics != nil {
			l.metrics.RecordFrameReceived()
		}

		msg, err := l.decoder.Decode(raw)
		if err != nil {
			if errors.IsMessageFault(err) {
				l.drop(err)
				continue
			}
			l.fail(ctx, r, LegUpstream, err)
			return
		}

		req := Translate(msg)
		r.pending = &req
	}
}

func (l *Loop) publish(ctx context.Context, p Publisher, req PublishRequest) error {
	pctx, cancel := context.WithTimeout(ctx, l.cfg.PublishTimeout)
	defer cancel()

	start := l.now()
	err := p.Publish(pctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return brokerFault(err, "publish", "publish message")
	}

	l.published.Add(1)
	l.activity.Store(l.now().UnixNano())
	if l.metrics != nil {
		l.metrics.RecordPublished(req.RoutingKey, l.now().Sub(start))
	}
	return nil
}

// brokerFault makes sure a downstream failure carries errors.ErrBrokerFault.
func brokerFault(err error, method, action string) error {
	if stderrors.Is(err, errors.ErrBrokerFault) {
		return err
	}
	return errors.Fault(errors.ErrBrokerFault, err, "Loop", method, action)
}

func (l *Loop) drop(err error) {
	total := l.dropped.Add(1)
	kind := errors.Kind(err)
	if l.metrics != nil {
		l.metrics.RecordDropped(kind)
	}
	l.dropLog.Do(func() {
		l.logger.Warn("Dropped message",
			"reason", kind,
			"error", err,
			"dropped_total", total)
	})
}

// fail records a leg fault, unless the fault is only ctx ending Run.
func (l *Loop) fail(ctx context.Context, r *run, leg Leg, err error) {
	if ctx.Err() != nil {
		return
	}
	r.failedLeg = leg
	r.fault = err
	l.transition(StateFaulted)
}

func (l *Loop) faulted(r *run) {
	leg, err := r.failedLeg, r.fault
	ls := l.legs[leg]
	ls.faults.Add(1)
	ls.setErr(err)
	if l.metrics != nil {
		l.metrics.RecordFault(string(leg), errors.Kind(err))
	}

	l.logger.Warn("Bridge leg faulted",
		"leg", leg,
		"kind", errors.Kind(err),
		"error", err,
		"pending", r.pending != nil)

	l.closeLeg(r, leg)
	l.transition(StateReconnecting)
}

func (l *Loop) reconnecting(ctx context.Context, r *run) {
	leg := r.failedLeg
	b := r.backoff[leg]

	if since := r.streamingSince[leg]; !since.IsZero() && l.now().Sub(since) >= l.cfg.BackoffResetAfter {
		b.Reset()
	}
	r.streamingSince[leg] = time.Time{}

	delay := b.Next()
	if l.metrics != nil {
		l.metrics.RecordReconnect(string(leg), delay)
	}
	l.logger.Info("Reconnecting bridge leg",
		"leg", leg,
		"attempt", b.Attempt(),
		"backoff", delay)

	if err := l.sleep(ctx, delay); err != nil {
		return
	}

	if leg == LegUpstream {
		l.transition(StateUpstreamHandshake)
	} else {
		l.transition(StateDownstreamHandshake)
	}
}

func (l *Loop) closeLeg(r *run, leg Leg) {
	var err error
	switch leg {
	case LegUpstream:
		if r.session != nil {
			err = r.session.Close()
			r.session = nil
		}
	case LegDownstream:
		if r.publisher != nil {
			err = r.publisher.Close()
			r.publisher = nil
		}
	}
	if err != nil {
		l.logger.Debug("Close after fault failed", "leg", leg, "error", err)
	}
	l.setLegStatus(leg, ConnDisconnected)
}

func (l *Loop) terminate(r *run) {
	l.closeLeg(r, LegUpstream)
	l.closeLeg(r, LegDownstream)
	l.transition(StateTerminated)
	l.logger.Info("Bridge stopped",
		"published", l.published.Load(),
		"dropped", l.dropped.Load(),
		"pending_discarded", r.pending != nil)
}

func (l *Loop) transition(to State) {
	from := State(l.state.Swap(int32(to)))
	if l.metrics != nil {
		l.metrics.RecordLoopState(int(to))
	}
	if from != to {
		l.logger.Debug("Bridge state change", "from", from, "to", to)
	}
	if l.onTransition != nil {
		l.onTransition(from, to)
	}
}

func (l *Loop) setLegStatus(leg Leg, s ConnStatus) {
	l.legs[leg].status.Store(int32(s))
	if l.metrics != nil {
		l.metrics.RecordLegStatus(string(leg), int(s))
	}
}

// State returns the loop's current state
func (l *Loop) State() State {
	return State(l.state.Load())
}

// LegStatus returns the connection state of one leg
func (l *Loop) LegStatus(leg Leg) ConnStatus {
	ls, ok := l.legs[leg]
	if !ok {
		return ConnDisconnected
	}
	return ConnStatus(ls.status.Load())
}

// Published returns how many messages the broker has accepted
func (l *Loop) Published() int64 {
	return l.published.Load()
}

// Dropped returns how many frames were discarded as undecodable
func (l *Loop) Dropped() int64 {
	return l.dropped.Load()
}

// Health reports the bridge and one sub-status per leg. While Run is active
// the bridge is at worst degraded: a leg that is down is being reconnected.
func (l *Loop) Health() health.Status {
	var subs []health.Status
	var faults int64
	for _, leg := range []Leg{LegUpstream, LegDownstream} {
		subs = append(subs, l.legHealth(leg))
		faults += l.legs[leg].faults.Load()
	}

	status := health.Aggregate("bridge", subs)
	switch l.State() {
	case StateInit:
		status = health.NewUnhealthy("bridge", "Bridge not started")
		status.SubStatuses = subs
	case StateTerminated:
		status = health.NewUnhealthy("bridge", "Bridge stopped")
		status.SubStatuses = subs
	}

	m := &health.Metrics{
		FaultCount:        faults,
		MessagesPublished: l.published.Load(),
		MessagesDropped:   l.dropped.Load(),
	}
	if started := l.started.Load(); started != 0 {
		m.Uptime = l.now().Sub(time.Unix(0, started))
	}
	if last := l.activity.Load(); last != 0 {
		m.LastActivity = time.Unix(0, last)
	}
	return status.WithMetrics(m)
}

func (l *Loop) legHealth(leg Leg) health.Status {
	ls := l.legs[leg]
	name := string(leg)
	status := ConnStatus(ls.status.Load())

	var s health.Status
	switch status {
	case ConnStreaming:
		s = health.NewHealthy(name, "Streaming")
	case ConnConnecting, ConnAuthenticated:
		s = health.NewDegraded(name, "Connecting")
	default:
		if err := ls.err(); err != nil {
			s = health.FromError(name, err, "")
		} else {
			s = health.NewDegraded(name, "Not connected")
		}
	}
	return s.WithMetrics(&health.Metrics{FaultCount: ls.faults.Load()})
}
