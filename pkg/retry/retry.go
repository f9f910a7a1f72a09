// Package retry runs fallible operations with bounded exponential backoff.
//
// The primitive is independent of what it retries: the device client wraps
// its network calls with it and the offline queue replayer wraps each queued
// action dispatch with it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/happenin/pkg/clock"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultInitial     = 1200 * time.Millisecond
	DefaultMultiplier  = 1.8
	DefaultMax         = 5 * time.Second
)

// Policy describes how many times an operation runs and how long to wait
// between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Initial is the delay after the first failed attempt.
	Initial time.Duration
	// Multiplier scales the delay after each further failure.
	Multiplier float64
	// Max caps any single delay.
	Max time.Duration
}

// DefaultPolicy returns 3 attempts with 1.2s, 1.8x, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Initial:     DefaultInitial,
		Multiplier:  DefaultMultiplier,
		Max:         DefaultMax,
	}
}

// normalized fills zero fields with defaults.
func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Initial <= 0 {
		p.Initial = DefaultInitial
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based):
// min(Initial * Multiplier^(attempt-1), Max).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if d >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(math.Round(d))
}

// Sentinel errors.
var (
	ErrExhausted = errors.New("retry attempts exhausted")
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs op until it succeeds, returns a permanent error, the context is
// done, or the policy's attempts are used up. The final error wraps both
// ErrExhausted and the last operation error.
func Do[T any](ctx context.Context, clk clock.Clock, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if clk == nil {
		clk = clock.Real()
	}
	policy = policy.normalized()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if IsPermanent(err) {
			return zero, err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-clk.After(policy.Delay(attempt)):
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, policy.MaxAttempts, lastErr)
}
