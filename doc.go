// Package openraildatagateway bridges the National Rail Darwin push port feed
// to a local message broker.
//
// The gateway holds one STOMP subscription to the feed and republishes every
// message, inflated when the feed compressed it, to an AMQP exchange or a
// NATS JetStream stream. The message type header becomes the routing key.
//
// # Architecture
//
//	STOMP feed ──► FrameReader ──► Decoder ──► Translate ──► Publisher ──► broker
//	              (input/stomp)   (input/stomp)   (bridge)   (output/rabbitmq,
//	                                                          output/jetstream)
//
// bridge.Loop drives the pipeline as a state machine. A failed leg (feed or
// broker) is closed and re-established after an exponential backoff while the
// other leg stays up. A message that fails to publish is kept and published
// first once the broker is back. Frames that cannot be decoded are dropped,
// counted and logged at a sampled rate.
//
// # Packages
//
//   - input/stomp: framing, decoding and the STOMP session handshake
//   - bridge: translation and the reconnecting loop
//   - output/rabbitmq: AMQP 0-9-1 publisher with publisher confirms
//   - output/jetstream: NATS JetStream publisher, built on natsclient
//   - config: layered JSON/YAML configuration with environment overrides
//   - errors: the fault taxonomy and error classification
//   - metric, health: Prometheus metrics and the /health document
//
// # Running
//
//	openrail-gateway -c gateway.yaml
//	openrail-gateway --validate -c gateway.yaml -c site.yaml
//
// Exit codes: 0 after a graceful stop, 1 on a configuration or startup
// failure, 2 on a panic.
package openraildatagateway
