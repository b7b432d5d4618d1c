package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// jitterFraction is the largest share of a delay that jitter may remove.
const jitterFraction = 4

// Backoff produces an exponential, bounded, jittered sequence of delays.
//
// Before the cap every delay is strictly greater than the previous one:
// jitter only ever shortens a delay, and never below the previous base. Once
// the base reaches MaxDelay the sequence stays at MaxDelay until Reset.
//
// A Backoff is not safe for concurrent use; callers keep one per peer.
type Backoff struct {
	cfg     Config
	base    time.Duration
	prev    time.Duration
	attempt int
	rand    func(n int64) int64
}

// NewBackoff returns a Backoff positioned at cfg.InitialDelay. Zero values in
// cfg take the DefaultConfig values.
func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{
		cfg:  cfg,
		base: cfg.InitialDelay,
		rand: lockedInt63n,
	}
}

// Next returns the delay to wait before the next attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	delay := b.base
	if b.cfg.AddJitter {
		window := delay / jitterFraction
		// Stay strictly above the previous base so delays keep increasing.
		if room := delay - b.prev - 1; room < window {
			window = room
		}
		if window > 0 {
			delay -= time.Duration(b.rand(int64(window)))
		}
	}

	b.attempt++
	b.prev = b.base
	b.base = b.grow(b.base)
	return delay
}

// Reset returns the sequence to its minimum.
func (b *Backoff) Reset() {
	b.base = b.cfg.InitialDelay
	b.prev = 0
	b.attempt = 0
}

// Attempt returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

func (b *Backoff) grow(d time.Duration) time.Duration {
	next := float64(d) * b.cfg.Multiplier
	// Check for overflow or exceeding MaxDelay
	if next > float64(b.cfg.MaxDelay) || next > float64(time.Duration(1<<63-1)) {
		return b.cfg.MaxDelay
	}
	return time.Duration(next)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func lockedInt63n(n int64) int64 {
	randMu.Lock()
	defer randMu.Unlock()
	return randSource.Int63n(n)
}
