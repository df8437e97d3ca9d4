package outboxkit

import "time"

// Default backoff parameters.
const (
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 60 * time.Second
	DefaultMaxRetries = 3
)

// BackoffScheduler computes the retry delay for a given retry count. It is a
// pure function of its configuration; no hidden state.
type BackoffScheduler struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the computed delay.
	Max time.Duration
}

// NewBackoffScheduler returns a scheduler with the default 1s base and 60s cap.
func NewBackoffScheduler() *BackoffScheduler {
	return &BackoffScheduler{Base: DefaultBaseDelay, Max: DefaultMaxDelay}
}

// Delay returns min(Base * 2^retryCount, Max). The exponent is clamped so the
// shift can never overflow.
func (b *BackoffScheduler) Delay(retryCount int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBaseDelay
	}
	max := b.Max
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if retryCount < 0 {
		retryCount = 0
	}
	// 2^62 already exceeds any representable duration.
	if retryCount > 62 {
		retryCount = 62
	}
	d := base << uint(retryCount)
	// A shift past the positive range wraps negative; treat as capped.
	if d <= 0 || d > max {
		return max
	}
	return d
}
