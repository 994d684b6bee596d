package retry

import "time"

// Backoff returns the delay to wait after the given zero-based failed attempt.
// Implementations must be monotonically non-decreasing in attempt.
type Backoff func(attempt int) time.Duration

// Exponential returns min(base * 2^attempt, max).
func Exponential(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		if base <= 0 {
			return 0
		}
		// base<<attempt exceeds max exactly when base > max>>attempt, which
		// is decided before the shift can overflow.
		if attempt >= 63 || base > max>>uint(attempt) {
			return max
		}
		return base << uint(attempt)
	}
}

// Constant waits d between every attempt.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// None never waits. Used by tests.
func None() Backoff {
	return Constant(0)
}
