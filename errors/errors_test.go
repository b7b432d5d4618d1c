package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"read fault", ErrReadFault, true},
		{"end of stream", ErrEndOfStream, true},
		{"handshake fault", ErrHandshakeFault, true},
		{"broker fault", ErrBrokerFault, true},
		{"connection timeout", ErrConnectionTimeout, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid config", ErrInvalidConfig, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"resource exhausted", ErrResourceExhausted, true},
		{"broker fault", ErrBrokerFault, false},
		{"fatal in message", fmt.Errorf("fatal system error occurred"), true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsFatal(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestFaultDispatch(t *testing.T) {
	cause := io.ErrUnexpectedEOF

	tests := []struct {
		name     string
		err      error
		message  bool
		upstream bool
		kind     string
	}{
		{"read", Fault(ErrReadFault, cause, "FrameReader", "Next", "socket read"), false, true, "read"},
		{"end of stream", Fault(ErrEndOfStream, nil, "FrameReader", "Next", "socket read"), false, true, "end_of_stream"},
		{"handshake", Fault(ErrHandshakeFault, cause, "Session", "Dial", "await CONNECTED"), false, true, "handshake"},
		{"malformed", Fault(ErrMalformedFrame, nil, "Decoder", "Decode", "split headers"), true, false, "malformed_frame"},
		{"decompression", Fault(ErrDecompressionFault, cause, "Decoder", "Decode", "inflate"), true, false, "decompression"},
		{"broker", Fault(ErrBrokerFault, cause, "Publisher", "Publish", "await confirm"), false, false, "broker"},
		{"unrelated", cause, false, false, "other"},
		{"nil", nil, false, false, "none"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsMessageFault(test.err); got != test.message {
				t.Errorf("IsMessageFault: expected %v, got %v", test.message, got)
			}
			if got := IsUpstreamFault(test.err); got != test.upstream {
				t.Errorf("IsUpstreamFault: expected %v, got %v", test.upstream, got)
			}
			if got := Kind(test.err); got != test.kind {
				t.Errorf("Kind: expected %s, got %s", test.kind, got)
			}
		})
	}
}

func TestFault_PreservesCause(t *testing.T) {
	err := Fault(ErrDecompressionFault, io.ErrUnexpectedEOF, "Decoder", "Decode", "inflate")

	if !errors.Is(err, ErrDecompressionFault) {
		t.Error("expected fault sentinel in chain")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("expected cause in chain")
	}
	if !strings.HasPrefix(err.Error(), "Decoder.Decode: inflate failed: decompression fault") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil", nil, ErrorTransient},
		{"malformed frame", ErrMalformedFrame, ErrorInvalid},
		{"broker fault", ErrBrokerFault, ErrorTransient},
		{"invalid config", ErrInvalidConfig, ErrorFatal},
		{"unknown", errors.New("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %s, got %s", test.expected, got)
			}
		})
	}
}

func TestClassifiedError(t *testing.T) {
	underlying := errors.New("underlying error")
	ce := &ClassifiedError{
		Class:     ErrorTransient,
		Err:       underlying,
		Message:   "custom message",
		Component: "Publisher",
		Operation: "Publish",
	}

	if ce.Error() != "custom message" {
		t.Errorf("expected 'custom message', got %s", ce.Error())
	}
	if !errors.Is(ce, underlying) {
		t.Error("expected ClassifiedError to unwrap to underlying error")
	}

	noMsg := &ClassifiedError{Class: ErrorFatal, Err: underlying}
	if noMsg.Error() != "underlying error" {
		t.Errorf("expected underlying message, got %s", noMsg.Error())
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("dial tcp: refused")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.wrap(base, "Dialer", "Dial", "connect")

			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatal("expected ClassifiedError")
			}
			if ce.Class != test.class {
				t.Errorf("expected %s, got %s", test.class, ce.Class)
			}
			if ce.Component != "Dialer" || ce.Operation != "Dial" {
				t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
			}
			if err.Error() != "Dialer.Dial: connect failed: dial tcp: refused" {
				t.Errorf("unexpected message: %s", err.Error())
			}
			if !errors.Is(err, base) {
				t.Error("expected base in chain")
			}
		})
	}

	if WrapTransient(nil, "a", "b", "c") != nil || Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil must return nil")
	}
}

func BenchmarkKind(b *testing.B) {
	err := Fault(ErrBrokerFault, io.ErrUnexpectedEOF, "Publisher", "Publish", "await confirm")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Kind(err)
	}
}
