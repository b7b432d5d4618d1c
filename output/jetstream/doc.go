// Package jetstream is the NATS JetStream downstream of the gateway.
//
// A Dialer opens one NATS connection per Dial and returns a Publisher that
// satisfies bridge.Publisher. Each request is published to
// <subject_prefix>.<routing key> and acknowledged by the stream before
// Publish returns. The upstream message-id is sent as Nats-Msg-Id so a
// publish retried after a broker fault is stored once.
package jetstream
