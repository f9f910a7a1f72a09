package retryledger

import (
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
)

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithCeiling sets how many client retries a record allows.
func WithCeiling(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.ceiling = n
		}
	}
}

// WithClock sets the time source stamped on records.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.logger = lg
		}
	}
}
