// Package retry wraps fallible remote calls with bounded, backoff-paced retries.
//
// Retries are bounded by attempt count, not wall-clock time. Waiting between
// attempts honors context cancellation so long polls can be abandoned.
//
// The executor decides only whether to retry. What an error means (a revert,
// a network blip) is the caller's business and is surfaced through the Observer.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxAttempts is the attempt cap used when Policy.MaxAttempts is zero.
const DefaultMaxAttempts = 3

// ErrExhausted is matched (via errors.Is) by every ExhaustedError.
var ErrExhausted = errors.New("max retry attempts reached")

// ExhaustedError reports that every allowed attempt failed.
// It wraps the last underlying error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.Attempts, e.Last)
}

// Is makes errors.Is(err, ErrExhausted) true.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Attempt describes one failed attempt, delivered to the Observer.
type Attempt struct {
	// Number is 1-based and strictly increasing.
	Number int

	// Err is the error returned by the attempt.
	Err error

	// RateLimited is true when the policy classified Err as a rate-limit signal.
	RateLimited bool
}

// Observer is notified exactly once per failed attempt.
type Observer func(Attempt)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy configures an Executor.
type Policy struct {
	// MaxAttempts caps the total number of calls (default DefaultMaxAttempts).
	MaxAttempts int

	// Backoff computes inter-attempt delay (default Exponential(1s, 10s)).
	Backoff Backoff

	// Retryable reports whether an error may be retried. Errors it rejects are
	// returned unchanged after a single attempt. Default: every error.
	Retryable func(error) bool

	// RateLimited marks errors that are throttling signals. They are retried
	// like any other failure but flagged in Attempt and logged at Warn.
	RateLimited func(error) bool

	// Sleep waits between attempts (default: timer honoring ctx).
	Sleep Sleeper
}

// Executor runs operations under a Policy. It is stateless and safe for concurrent use.
type Executor struct {
	policy Policy
}

// New creates an Executor, filling unset policy fields with defaults.
func New(p Policy) *Executor {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = Exponential(time.Second, 10*time.Second)
	}
	if p.Retryable == nil {
		p.Retryable = func(error) bool { return true }
	}
	if p.RateLimited == nil {
		p.RateLimited = func(error) bool { return false }
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return &Executor{policy: p}
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do calls op until it succeeds, a non-retryable error occurs, ctx is done,
// or MaxAttempts calls have failed.
//
// A non-retryable error is returned unchanged. Running out of attempts returns
// an *ExhaustedError wrapping the last failure, so callers can tell exhaustion
// apart from a single deterministic failure.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error), obs Observer) (T, error) {
	var zero T
	p := e.policy

	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		last = err

		limited := p.RateLimited(err)
		if obs != nil {
			obs(Attempt{Number: attempt + 1, Err: err, RateLimited: limited})
		}
		if limited {
			slog.Warn("rate limited, backing off", "attempt", attempt+1, "rate_limited", true, "error", err)
		} else {
			slog.Debug("attempt failed", "attempt", attempt+1, "error", err)
		}

		if !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if err := p.Sleep(ctx, p.Backoff(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Last: last}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
