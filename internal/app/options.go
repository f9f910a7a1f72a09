package service

import (
	"time"

	"github.com/okian/happenin/internal/adapters/repository"
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDatabasePath sets the SQLite DSN of the settlement store.
func WithDatabasePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.databasePath = path
		}
	}
}

// WithStore injects an already opened store. The service does not close it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithGatewaySecret sets the shared secret used to verify gateway signatures.
func WithGatewaySecret(secret string) Option {
	return func(s *Service) {
		s.gatewaySecret = secret
	}
}

// WithRetryCeiling caps client retries of a failed payment.
func WithRetryCeiling(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.retryCeiling = n
		}
	}
}

// WithAnalyticsTTL sets the freshness window of cached analytics.
func WithAnalyticsTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.analyticsTTL = d
		}
	}
}

// WithAnalyticsStaleWindow sets how long past its TTL an aggregate is
// still served.
func WithAnalyticsStaleWindow(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.staleWindow = d
		}
	}
}

// WithAnalyticsBreaker configures the analytics circuit breaker.
func WithAnalyticsBreaker(threshold int, reset, slowCall time.Duration) Option {
	return func(s *Service) {
		if threshold > 0 {
			s.breakerThreshold = threshold
		}
		if reset > 0 {
			s.breakerReset = reset
		}
		if slowCall >= 0 {
			s.slowCall = slowCall
		}
	}
}

// WithClock sets the clock used by every component.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
