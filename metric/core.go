package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "openrail_gateway"

// Metrics contains the bridge-level metrics shared by every feed
type Metrics struct {
	// Pipeline metrics
	FramesReceived    prometheus.Counter
	MessagesPublished *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	PublishDuration   prometheus.Histogram

	// Connection metrics
	LoopState      prometheus.Gauge
	LegStatus      *prometheus.GaugeVec
	Faults         *prometheus.CounterVec
	Reconnects     *prometheus.CounterVec
	BackoffSeconds *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		FramesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "frames_received_total",
				Help:      "Total number of frames read from the upstream feed",
			},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Total number of messages acknowledged by the downstream broker",
			},
			[]string{"routing_key"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Total number of upstream messages dropped without publishing",
			},
			[]string{"reason"},
		),

		PublishDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "downstream",
				Name:      "publish_duration_seconds",
				Help:      "Time from publish to broker acknowledgement",
				Buckets:   prometheus.DefBuckets,
			},
		),

		LoopState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "state",
				Help:      "Bridge state (0=init, 1=upstream_handshake, 2=downstream_handshake, 3=streaming, 4=faulted, 5=reconnecting, 6=terminated)",
			},
		),

		LegStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "leg_status",
				Help:      "Connection status per leg (0=disconnected, 1=connecting, 2=authenticated, 3=streaming)",
			},
			[]string{"leg"},
		),

		Faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "faults_total",
				Help:      "Total number of faults per leg and kind",
			},
			[]string{"leg", "kind"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "reconnects_total",
				Help:      "Total number of reconnect attempts per leg",
			},
			[]string{"leg"},
		),

		BackoffSeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "backoff_seconds",
				Help:      "Most recent reconnect delay per leg",
			},
			[]string{"leg"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.FramesReceived,
		c.MessagesPublished,
		c.MessagesDropped,
		c.PublishDuration,
		c.LoopState,
		c.LegStatus,
		c.Faults,
		c.Reconnects,
		c.BackoffSeconds,
	}
}

// RecordFrameReceived increments the upstream frame counter
func (c *Metrics) RecordFrameReceived() {
	c.FramesReceived.Inc()
}

// RecordPublished counts an acknowledged publish and its latency
func (c *Metrics) RecordPublished(routingKey string, duration time.Duration) {
	c.MessagesPublished.WithLabelValues(routingKey).Inc()
	c.PublishDuration.Observe(duration.Seconds())
}

// RecordDropped increments the dropped message counter
func (c *Metrics) RecordDropped(reason string) {
	c.MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordLoopState updates the bridge state gauge
func (c *Metrics) RecordLoopState(state int) {
	c.LoopState.Set(float64(state))
}

// RecordLegStatus updates a leg's connection status
func (c *Metrics) RecordLegStatus(leg string, status int) {
	c.LegStatus.WithLabelValues(leg).Set(float64(status))
}

// RecordFault increments the fault counter
func (c *Metrics) RecordFault(leg, kind string) {
	c.Faults.WithLabelValues(leg, kind).Inc()
}

// RecordReconnect counts a reconnect attempt and the delay preceding it
func (c *Metrics) RecordReconnect(leg string, delay time.Duration) {
	c.Reconnects.WithLabelValues(leg).Inc()
	c.BackoffSeconds.WithLabelValues(leg).Set(delay.Seconds())
}
