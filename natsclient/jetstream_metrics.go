package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonathanMoss/OpenRailDataGateway/metric"
)

// Metrics holds Prometheus metrics for JetStream publishing. It is created
// once and shared by every Client dialed for the same downstream, so the
// series survive reconnects.
type Metrics struct {
	streamMessages *prometheus.GaugeVec   // Current message count by stream
	streamBytes    *prometheus.GaugeVec   // Storage bytes by stream
	streamState    *prometheus.GaugeVec   // 1 while the stream answers, 0 otherwise
	acks           *prometheus.CounterVec // Publish acks by stream
	lastSequence   *prometheus.GaugeVec   // Sequence of the last acked message
	duplicates     *prometheus.CounterVec // Acks flagged as duplicates by stream
	errors         *prometheus.CounterVec // JetStream operation errors

	mu      sync.RWMutex
	streams map[string]jetstream.Stream
}

// NewMetrics creates and registers JetStream metrics. A nil registry
// disables them.
func NewMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		streamMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "openrail_gateway",
			Subsystem: "jetstream",
			Name:      "stream_messages",
			Help:      "Current number of messages in stream",
		}, []string{"stream"}),

		streamBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "openrail_gateway",
			Subsystem: "jetstream",
			Name:      "stream_bytes",
			Help:      "Storage bytes used by stream",
		}, []string{"stream"}),

		streamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "openrail_gateway",
			Subsystem: "jetstream",
			Name:      "stream_state",
			Help:      "Stream state (1=active, 0=unavailable)",
		}, []string{"stream"}),

		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openrail_gateway",
			Subsystem: "jetstream",
			Name:      "publish_acks_total",
			Help:      "Messages acknowledged by a stream",
		}, []string{"stream"}),

		lastSequence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "openrail_gateway",
			Subsystem: "jetstream",
			Name:      "last_sequence",
			Help:      "Stream sequence of the last acknowledged message",
		}, []string{"stream"}),

		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openrail_gateway",
			Subsystem: "jetstream",
			Name:      "duplicate_acks_total",
			Help:      "Publishes the stream recognised as duplicates by message id",
		}, []string{"stream"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openrail_gateway",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "Total number of JetStream operation errors",
		}, []string{"operation"}),

		streams: make(map[string]jetstream.Stream),
	}

	if err := registry.RegisterGaugeVec("jetstream", "stream_messages", m.streamMessages); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "stream_bytes", m.streamBytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "stream_state", m.streamState); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("jetstream", "publish_acks", m.acks); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "last_sequence", m.lastSequence); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("jetstream", "duplicate_acks", m.duplicates); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

// trackStream adds a stream to the set polled by UpdateStats.
func (m *Metrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = stream
	m.streamState.WithLabelValues(name).Set(1)
}

func (m *Metrics) recordAck(ack *jetstream.PubAck) {
	if m == nil || ack == nil {
		return
	}
	m.acks.WithLabelValues(ack.Stream).Inc()
	m.lastSequence.WithLabelValues(ack.Stream).Set(float64(ack.Sequence))
	if ack.Duplicate {
		m.duplicates.WithLabelValues(ack.Stream).Inc()
	}
}

// recordError records a JetStream operation error.
func (m *Metrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// UpdateStats refreshes message and byte gauges of every tracked stream.
// Unavailable streams are marked inactive rather than reported as errors.
func (m *Metrics) UpdateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	streams := make(map[string]jetstream.Stream, len(m.streams))
	for k, v := range m.streams {
		streams[k] = v
	}
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.streamState.WithLabelValues(name).Set(0)
			continue
		}

		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
		m.streamState.WithLabelValues(name).Set(1)
	}
}

// StartPoller calls UpdateStats every interval until the returned cancel
// function is called.
func (m *Metrics) StartPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil || interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.UpdateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel
}
