// Package metric exposes gateway metrics in Prometheus format.
//
// # Overview
//
// MetricsRegistry wraps a dedicated prometheus.Registry (never the global
// default) holding the bridge core metrics plus Go runtime and process
// collectors. Components register their own metrics through the
// MetricsRegistrar interface; passing a nil registrar disables them.
//
// # Core Metrics
//
//	openrail_gateway_upstream_frames_received_total
//	openrail_gateway_messages_published_total{routing_key}
//	openrail_gateway_messages_dropped_total{reason}
//	openrail_gateway_downstream_publish_duration_seconds
//	openrail_gateway_bridge_state
//	openrail_gateway_bridge_leg_status{leg}
//	openrail_gateway_bridge_faults_total{leg,kind}
//	openrail_gateway_bridge_reconnects_total{leg}
//	openrail_gateway_bridge_backoff_seconds{leg}
//
// # Server
//
// Server serves /metrics (OpenMetrics enabled) and /health. The health
// endpoint renders a health.Status as JSON and answers 503 when the status
// is unhealthy:
//
//	srv := metric.NewServer(":9090", "/metrics", registry, loop.Health)
//	g.Go(func() error { return srv.Run(ctx) })
package metric
