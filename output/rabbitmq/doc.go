// Package rabbitmq is the AMQP 0-9-1 downstream of the gateway.
//
// A Dialer opens a connection and a channel in confirm mode, optionally
// declaring the target exchange, and returns a Publisher that satisfies
// bridge.Publisher. Publish does not return until the broker has confirmed
// the message. A nack, a closed channel or connection, an unroutable return
// on a mandatory publish, or the caller's deadline are all reported as
// errors.ErrBrokerFault; the bridge loop then replaces the connection.
package rabbitmq
