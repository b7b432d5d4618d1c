// Package retry provides exponential backoff for transient failures.
//
// # Overview
//
// Two entry points share one delay policy:
//
//   - Backoff: a stateful delay sequence for long-lived reconnect loops that
//     decide themselves when to try again and when to Reset
//   - Do: run a function until it succeeds or attempts run out
//
// Delays start at InitialDelay, grow by Multiplier and stop at MaxDelay.
// With AddJitter each delay is shortened by up to a quarter, but never down
// to the previous step, so the sequence is strictly increasing until the cap.
//
// # Usage Examples
//
// Reconnect loop:
//
//	b := retry.NewBackoff(retry.Config{InitialDelay: time.Second, MaxDelay: time.Minute, AddJitter: true})
//	for {
//	    if err := connect(ctx); err == nil {
//	        break
//	    }
//	    if err := retry.Sleep(ctx, b.Next()); err != nil {
//	        return err
//	    }
//	}
//
// Waiting for a container to accept connections:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return ping(addr)
//	})
//
// # Context Cancellation
//
// Do and Sleep return as soon as the context is cancelled.
package retry
