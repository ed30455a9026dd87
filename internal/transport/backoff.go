package transport

import (
	"math/rand"
	"time"
)

// Backoff computes the exponentially growing, jittered delay between
// reconnection attempts.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the delay to wait before reconnect attempt number
// attempt (0-indexed), capped at Max and jittered by up to ±20% so
// many clients reconnecting to the same coordinator do not all retry
// in lockstep.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Multiplier <= 1 {
		b.Multiplier = 2
	}
	delay := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		delay *= b.Multiplier
		if time.Duration(delay) >= b.Max && b.Max > 0 {
			delay = float64(b.Max)
			break
		}
	}

	jitter := delay * 0.2 * (rand.Float64()*2 - 1) //nolint:gosec // jitter need not be cryptographically secure
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
