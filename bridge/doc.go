// Package bridge forwards feed messages from the upstream STOMP session to a
// downstream broker.
//
// Loop is a single sequential pipeline: read a frame, decode it, Translate it
// into a PublishRequest, publish, repeat. There is no queue between stages, so
// order is preserved and backpressure falls on the upstream socket.
//
// # State machine
//
//	Init → UpstreamHandshake → DownstreamHandshake → Streaming
//	Streaming → Faulted → Reconnecting → (failed leg's handshake) → Streaming
//	any state → Terminated (ctx cancelled)
//
// Read, end-of-stream and handshake faults take down the upstream leg; broker
// faults take down the downstream leg. Malformed frames and decompression
// faults drop one message and streaming continues. Each leg has its own
// jittered exponential backoff which returns to its minimum only after the leg
// has streamed for Config.BackoffResetAfter.
//
// A request whose publish failed is retained and published first once the
// downstream leg is back, so it is delivered exactly once after recovery.
//
// # Observation
//
// State, LegStatus and Health read atomics and may be called from any
// goroutine, typically the metrics server's /health handler.
package bridge
