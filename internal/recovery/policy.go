package recovery

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy is an independent backoff tuning knob per classified error
// kind. The per-kind differences are deliberate, not accidental
// duplication; do not collapse them into one shared policy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      bool
}

// DefaultPolicies returns the per-kind retry configurations. Kinds absent
// from the map are never retried regardless of their retryability flag.
func DefaultPolicies() map[ErrorKind]RetryPolicy {
	return map[ErrorKind]RetryPolicy{
		KindNetwork: {MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Factor: 2, Jitter: true},
		KindTimeout: {MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Factor: 2, Jitter: true},
		KindAPI:     {MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 15 * time.Second, Factor: 2, Jitter: true},
		KindCache:   {MaxAttempts: 1, BaseDelay: 500 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Factor: 1},
	}
}

// Delay computes the backoff before the given attempt (attempt 2 is the
// first retry): baseDelay × factor^(attempt−2), capped at maxDelay, then
// optionally randomized within [0.5, 1.0] of the computed delay.
func (p RetryPolicy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 2 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-2))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.Jitter && rng != nil {
		d *= 0.5 + 0.5*rng.Float64()
	}
	return time.Duration(d)
}
