package connection

import (
	"math/rand/v2"
	"time"
)

// Backoff computes capped exponential delays with jitter for reconnects.
// Not safe for concurrent use; the manager owns one per run loop.
type Backoff struct {
	base     time.Duration
	max      time.Duration
	attempts int
}

// NewBackoff returns a backoff starting at base and doubling up to max.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay for the next attempt and advances the counter.
// The returned delay is jittered in [d/2, d) to avoid thundering herds,
// where d is the capped exponential value for the current attempt.
func (b *Backoff) Next() time.Duration {
	d := b.base
	for i := 0; i < b.attempts; i++ {
		d *= 2
		if d >= b.max {
			d = b.max
			break
		}
	}
	b.attempts++
	return d/2 + rand.N(d/2)
}

// Reset clears the attempt counter after a successful session.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
