// Package worker replays the device-local offline queue against the server
// and watches connectivity to decide when to do so.
package worker

import (
	"net/http"
	"time"

	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
	"github.com/okian/happenin/pkg/retry"
)

// Option applies a configuration option to the Replayer.
type Option func(*Replayer)

// WithName sets the replayer name for identification and logging.
func WithName(name string) Option {
	return func(r *Replayer) {
		if name != "" {
			r.name = name
		}
	}
}

// WithLogger sets a custom logger for the replayer.
func WithLogger(l logger.Logger) Option {
	return func(r *Replayer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock sets the clock used for backoff waits.
func WithClock(c clock.Clock) Option {
	return func(r *Replayer) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithPolicy sets the backoff policy wrapped around each handler call.
func WithPolicy(p retry.Policy) Option {
	return func(r *Replayer) {
		r.policy = p
	}
}

// WithMaxAttempts sets how many failed passes an action survives before it
// is dropped.
func WithMaxAttempts(n int) Option {
	return func(r *Replayer) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithDropReporter sets the sink told about dropped actions.
func WithDropReporter(d DropReporter) Option {
	return func(r *Replayer) {
		if d != nil {
			r.drops = d
		}
	}
}

// ProberOption applies a configuration option to the Prober.
type ProberOption func(*Prober)

// WithProbeInterval sets the time between health probes.
func WithProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout bounds a single health probe.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHTTPClient sets the client used for probes.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) {
		if c != nil {
			p.client = c
		}
	}
}

// WithProberClock sets the clock that paces probes.
func WithProberClock(c clock.Clock) ProberOption {
	return func(p *Prober) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithProberLogger sets a custom logger for the prober.
func WithProberLogger(l logger.Logger) ProberOption {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}
