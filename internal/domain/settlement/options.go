package settlement

import (
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithClock sets the time source stamped on registrations and tickets.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the settlement logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRetrySettler closes retry ledger records once a payment settles.
func WithRetrySettler(r RetrySettler) Option {
	return func(s *Service) {
		s.retries = r
	}
}
