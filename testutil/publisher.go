package testutil

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/JonathanMoss/OpenRailDataGateway/bridge"
)

// RecordingPublisher is a downstream that records every acknowledged
// request. It is its own dialer. Thread-safe.
type RecordingPublisher struct {
	mu sync.Mutex

	// PublishFunc, when set, decides the outcome of each publish before it
	// is recorded. A non-nil error means the request is not recorded.
	PublishFunc func(req bridge.PublishRequest) error

	requests []bridge.PublishRequest
	attempts int
	dials    int
	closes   int
}

// Dial returns the publisher itself
func (p *RecordingPublisher) Dial(_ context.Context) (bridge.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dials++
	return p, nil
}

// Publish records req unless PublishFunc rejects it
func (p *RecordingPublisher) Publish(ctx context.Context, req bridge.PublishRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.PublishFunc != nil {
		if err := p.PublishFunc(req); err != nil {
			return err
		}
	}
	req.Body = bytes.Clone(req.Body)
	p.requests = append(p.requests, req)
	return nil
}

// Close counts closes
func (p *RecordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// Requests returns a copy of the recorded requests
func (p *RecordingPublisher) Requests() []bridge.PublishRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bridge.PublishRequest(nil), p.requests...)
}

// Counts returns publish attempts, dials and closes
func (p *RecordingPublisher) Counts() (attempts, dials, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts, p.dials, p.closes
}

// WaitFor polls until n requests are recorded or timeout elapses
func (p *RecordingPublisher) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(p.Requests()) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return len(p.Requests()) >= n
}
