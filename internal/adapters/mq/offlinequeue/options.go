package offlinequeue

import (
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
)

// Option applies a configuration option to the SQLiteQueue.
type Option func(*SQLiteQueue)

// WithPoolSize sets the number of pooled connections.
func WithPoolSize(n int) Option {
	return func(q *SQLiteQueue) {
		if n > 0 {
			q.poolSize = n
		}
	}
}

// WithClock sets the time source stamped on enqueued actions.
func WithClock(c clock.Clock) Option {
	return func(q *SQLiteQueue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(l logger.Logger) Option {
	return func(q *SQLiteQueue) {
		if l != nil {
			q.logger = l
		}
	}
}
