// Package dedupe collapses concurrent identical computations.
package dedupe

import "time"

type options struct {
	callTimeout time.Duration
}

// Option applies a configuration option to a Group.
type Option func(*options)

// WithCallTimeout bounds a shared computation. The computation is detached
// from the cancellation of whichever caller started it, so without a bound
// a stuck source would hold the key forever.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}
