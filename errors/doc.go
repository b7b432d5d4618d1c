// Package errors provides standardized error handling for the gateway.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, non-retryable), and Fatal (unrecoverable, stop processing).
// On top of the classes the package defines the fault taxonomy the bridge
// loop dispatches on:
//
//   - ErrReadFault, ErrEndOfStream, ErrHandshakeFault: the upstream leg is gone
//   - ErrMalformedFrame, ErrDecompressionFault: one message is unusable
//   - ErrBrokerFault: the downstream leg refused or lost a publish
//   - ErrInvalidConfig, ErrMissingConfig: startup cannot proceed
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Fault attaches a taxonomy sentinel to a lower-level cause so that both are
// visible to errors.Is:
//
//	return errors.Fault(errors.ErrReadFault, err, "FrameReader", "Next", "socket read")
//
// Classification-aware wrappers:
//
//	errors.WrapTransient(err, "Component", "Method", "action")  // For retryable errors
//	errors.WrapInvalid(err, "Component", "Method", "action")    // For validation errors
//	errors.WrapFatal(err, "Component", "Method", "action")      // For unrecoverable errors
//
// # Dispatch
//
//	switch {
//	case errors.IsMessageFault(err):
//	    // drop, count, continue
//	case errors.IsUpstreamFault(err):
//	    // reconnect upstream
//	case stderrors.Is(err, errors.ErrBrokerFault):
//	    // reconnect downstream, keep the request
//	}
//
// Kind returns a short, stable name for metric labels.
package errors
