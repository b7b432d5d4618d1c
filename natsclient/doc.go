// Package natsclient wraps one NATS connection and its JetStream context for
// the gateway's NATS downstream.
//
// Reconnection is deliberately left to the caller. The client connects with
// nats.NoReconnect, reports a dropped connection through its status and the
// disconnect callback, and is then closed and replaced by the bridge loop,
// which applies its own backoff.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("openrail-gateway"),
//		natsclient.WithTimeout(10*time.Second),
//	)
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
//	stream, err := client.EnsureStream(ctx, jetstream.StreamConfig{
//		Name:     "DARWIN",
//		Subjects: []string{"darwin.>"},
//	})
//	ack, err := client.PublishMsg(ctx, msg, jetstream.WithMsgID(id))
//
// # Metrics
//
// NewMetrics registers JetStream gauges and counters once; pass the result to
// every client with WithMetrics. StartPoller refreshes stream sizes.
//
// # Testing
//
// NewTestClient starts a JetStream-enabled NATS container via testcontainers
// and returns a connected client, cleaned up with the test.
package natsclient
