package cache

import (
	"time"

	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
)

type settings struct {
	clock            clock.Clock
	logger           logger.Logger
	ttl              time.Duration
	staleWindow      time.Duration
	failureThreshold uint32
	resetTimeout     time.Duration
	slowCall         time.Duration
	callTimeout      time.Duration
	nonFailures      []error
}

// Option applies a configuration option to a Cache.
type Option func(*settings)

// WithClock sets the time source used for staleness.
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger used for background revalidation failures.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTTL sets the freshness window of entries stored by Fetch.
func WithTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithStaleWindow bounds how long past its TTL an entry may still be served.
// Zero serves stale entries indefinitely.
func WithStaleWindow(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.staleWindow = d
		}
	}
}

// WithBreaker configures the circuit breaker guarding computations: it opens
// after threshold consecutive failures and half-opens after reset.
func WithBreaker(threshold int, reset time.Duration) Option {
	return func(s *settings) {
		if threshold > 0 {
			s.failureThreshold = uint32(threshold)
		}
		if reset > 0 {
			s.resetTimeout = reset
		}
	}
}

// WithSlowCallThreshold counts computations slower than d as breaker
// failures even though their value is used.
func WithSlowCallThreshold(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.slowCall = d
		}
	}
}

// WithCallTimeout bounds a single computation.
func WithCallTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithNonFailures lists errors that answer a computation without counting
// against the breaker, such as a lookup of an unknown key.
func WithNonFailures(errs ...error) Option {
	return func(s *settings) {
		s.nonFailures = append(s.nonFailures, errs...)
	}
}
