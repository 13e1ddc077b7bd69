package connector

import "time"

const (
	// DefaultBackoffBase is the first retry delay after a failure.
	DefaultBackoffBase = 5 * time.Second
	// DefaultBackoffCap bounds the doubling.
	DefaultBackoffCap = 300 * time.Second
	// DefaultLiveReset is how long a session must stay live before the
	// failure counter resets to its base value.
	DefaultLiveReset = time.Hour
)

// Backoff implements the exponential retry policy: delay starts at base,
// doubles per consecutive failure, and caps. Not safe for concurrent use;
// each supervisor owns its own.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	failures int
}

// Next records a failure and returns the delay to wait before retrying.
func (b *Backoff) Next() time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	cap := b.Cap
	if cap <= 0 {
		cap = DefaultBackoffCap
	}
	d := base
	for i := 0; i < b.failures; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	b.failures++
	return d
}

// Reset clears the consecutive-failure count.
func (b *Backoff) Reset() { b.failures = 0 }

// Failures returns the consecutive-failure count.
func (b *Backoff) Failures() int { return b.failures }
