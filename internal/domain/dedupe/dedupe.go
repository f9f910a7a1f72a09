package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultCallTimeout = 30 * time.Second

// Group runs at most one computation per key at a time. Callers arriving
// while a computation is in flight wait for it and share its result.
type Group[V any] struct {
	sf   singleflight.Group
	opts options

	mu       sync.Mutex
	inflight map[string]int
}

// New creates a Group.
func New[V any](opts ...Option) *Group[V] {
	g := &Group[V]{
		opts:     options{callTimeout: defaultCallTimeout},
		inflight: make(map[string]int),
	}
	for _, opt := range opts {
		opt(&g.opts)
	}
	return g
}

// Do runs fn for key unless a computation for key is already running, in
// which case it waits for that one. shared reports whether the result was
// delivered to more than one caller. If ctx ends first, Do returns ctx.Err()
// and the computation continues for the remaining waiters.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (v V, shared bool, err error) {
	ch := g.sf.DoChan(key, func() (any, error) {
		g.track(key, 1)
		defer g.track(key, -1)

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.callTimeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Shared, res.Err
		}
		val, ok := res.Val.(V)
		if !ok {
			var zero V
			return zero, res.Shared, fmt.Errorf("dedupe: unexpected result type %T", res.Val)
		}
		return val, res.Shared, nil
	}
}

// InFlight reports whether a computation for key is running.
func (g *Group[V]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight[key] > 0
}

// Size returns the number of keys with a running computation.
func (g *Group[V]) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

func (g *Group[V]) track(key string, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight[key] += delta
	if g.inflight[key] <= 0 {
		delete(g.inflight, key)
	}
}
