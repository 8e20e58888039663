package retry

import (
	"math/rand"
	"time"
)

// Defaults used by DefaultConfig.
const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultJitter     = 0.2
)

// ExponentialBackoff returns base*2^attempt capped at max.
// Negative attempts count as zero. A max below base caps every attempt.
func ExponentialBackoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if max < base {
		if max < 0 {
			return 0
		}
		return max
	}
	delay := base
	for i := 0; i < attempt; i++ {
		// doubling past max/2 would overshoot (or overflow)
		if delay > max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

// withJitter spreads d by ±fraction and keeps the result in [0, max].
func withJitter(d time.Duration, fraction float64, max time.Duration, rnd func() float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	jitter := float64(d) * fraction * (rnd()*2 - 1)
	out := time.Duration(float64(d) + jitter)
	if out < 0 {
		out = 0
	}
	if out > max {
		out = max
	}
	return out
}

func defaultRand() float64 {
	return rand.Float64()
}
