// Package cache is a staleness-aware read cache for non-critical reads.
//
// A fresh entry is returned as-is. A stale entry is returned immediately
// while one background recomputation per key refreshes it. A miss computes
// synchronously through a circuit breaker; when the breaker is open the
// caller's fallback value is returned and not cached.
//
// Delete invalidates: a computation that started before it neither stores
// its value nor is shared with callers that arrive after it.
package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/okian/happenin/internal/domain/dedupe"
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
	"github.com/okian/happenin/pkg/metrics"
)

const (
	defaultTTL              = time.Minute
	defaultFailureThreshold = 10
	defaultResetTimeout     = 45 * time.Second
	defaultCallTimeout      = 10 * time.Second
)

// Result says how Fetch produced its value.
type Result string

// Fetch results.
const (
	ResultFresh    Result = "fresh"
	ResultStale    Result = "stale"
	ResultMiss     Result = "miss"
	ResultFallback Result = "fallback"
)

// Entry is a cached value with the time it was computed.
type Entry[V any] struct {
	Value      V
	ComputedAt time.Time
	TTL        time.Duration
}

// Stale reports whether the entry is older than its TTL at now.
func (e Entry[V]) Stale(now time.Time) bool {
	return now.Sub(e.ComputedAt) > e.TTL
}

// Cache maps keys to entries of V. The zero value is not usable; use New.
type Cache[V any] struct {
	name    string
	cfg     settings
	group   *dedupe.Group[V]
	breaker *gobreaker.CircuitBreaker[V]

	mu      sync.RWMutex
	entries map[string]Entry[V]
	gens    map[string]uint64 // bumped by Delete

	bg sync.WaitGroup
}

// New creates a cache. name labels metrics, logs and the breaker.
func New[V any](name string, opts ...Option) *Cache[V] {
	cfg := settings{
		clock:            clock.Real(),
		ttl:              defaultTTL,
		failureThreshold: defaultFailureThreshold,
		resetTimeout:     defaultResetTimeout,
		callTimeout:      defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Named("cache")
	}
	cfg.logger = cfg.logger.With(logger.String("cache", name))

	c := &Cache[V]{
		name:    name,
		cfg:     cfg,
		group:   dedupe.New[V](dedupe.WithCallTimeout(cfg.callTimeout)),
		entries: make(map[string]Entry[V]),
		gens:    make(map[string]uint64),
	}
	threshold := cfg.failureThreshold
	c.breaker = gobreaker.NewCircuitBreaker[V](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			for _, nf := range cfg.nonFailures {
				if errors.Is(err, nf) {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateBreakerState(name, int(to))
			c.cfg.logger.Warn(context.Background(), "circuit breaker state changed",
				logger.String("from", from.String()), logger.String("to", to.String()))
		},
	})
	metrics.UpdateBreakerState(name, int(gobreaker.StateClosed))
	return c
}

// Get returns the entry for key and whether it is stale. Entries past the
// stale window are treated as absent.
func (c *Cache[V]) Get(key string) (v V, stale bool, ok bool) {
	e, ok := c.lookup(key)
	if !ok {
		return v, false, false
	}
	return e.Value, e.Stale(c.cfg.clock.Now()), true
}

func (c *Cache[V]) lookup(key string) (Entry[V], bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return e, false
	}
	if c.cfg.staleWindow > 0 && c.cfg.clock.Now().Sub(e.ComputedAt) > e.TTL+c.cfg.staleWindow {
		c.Delete(key)
		return Entry[V]{}, false
	}
	return e, true
}

// Set stores v under key with the given TTL (the cache default when ttl <= 0).
func (c *Cache[V]) Set(key string, v V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.ttl
	}
	c.mu.Lock()
	c.entries[key] = Entry[V]{Value: v, ComputedAt: c.cfg.clock.Now(), TTL: ttl}
	n := len(c.entries)
	c.mu.Unlock()
	metrics.UpdateCacheEntries(c.name, n)
}

// store is Set for computed values: it drops v when key was deleted after
// generation gen was read.
func (c *Cache[V]) store(key string, v V, gen uint64) bool {
	c.mu.Lock()
	if c.gens[key] != gen {
		c.mu.Unlock()
		return false
	}
	c.entries[key] = Entry[V]{Value: v, ComputedAt: c.cfg.clock.Now(), TTL: c.cfg.ttl}
	n := len(c.entries)
	c.mu.Unlock()
	metrics.UpdateCacheEntries(c.name, n)
	return true
}

// Delete removes key and discards computations of it already in flight.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	n := len(c.entries)
	c.mu.Unlock()
	metrics.UpdateCacheEntries(c.name, n)
}

func (c *Cache[V]) generation(key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[key]
}

// flight names the deduplicated computation of key at gen.
func flight(key string, gen uint64) string {
	return key + "#" + strconv.FormatUint(gen, 10)
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// BreakerState returns the current breaker state name.
func (c *Cache[V]) BreakerState() string {
	return c.breaker.State().String()
}

// Fetch returns the value for key, computing it with compute when needed.
// fallback supplies the value served while the breaker is open.
func (c *Cache[V]) Fetch(ctx context.Context, key string, compute func(context.Context) (V, error), fallback func() V) (V, Result, error) {
	if e, ok := c.lookup(key); ok {
		if !e.Stale(c.cfg.clock.Now()) {
			metrics.RecordCacheLookup(c.name, string(ResultFresh))
			return e.Value, ResultFresh, nil
		}
		metrics.RecordCacheLookup(c.name, string(ResultStale))
		c.revalidate(ctx, key, compute)
		return e.Value, ResultStale, nil
	}

	gen := c.generation(key)
	v, _, err := c.group.Do(ctx, flight(key, gen), func(ctx context.Context) (V, error) {
		return c.compute(ctx, key, gen, compute)
	})
	if err != nil {
		if fallback != nil && c.unavailable(err) {
			metrics.RecordCacheLookup(c.name, string(ResultFallback))
			return fallback(), ResultFallback, nil
		}
		var zero V
		return zero, ResultMiss, err
	}
	metrics.RecordCacheLookup(c.name, string(ResultMiss))
	return v, ResultMiss, nil
}

// unavailable reports whether err means the breaker refused or just opened.
func (c *Cache[V]) unavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		c.breaker.State() == gobreaker.StateOpen
}

// compute runs one breaker-guarded computation and stores its value unless
// key was deleted since gen.
func (c *Cache[V]) compute(ctx context.Context, key string, gen uint64, compute func(context.Context) (V, error)) (V, error) {
	v, err := c.breaker.Execute(func() (V, error) {
		start := c.cfg.clock.Now()
		v, err := compute(ctx)
		if err != nil {
			return v, err
		}
		if c.cfg.slowCall > 0 && c.cfg.clock.Now().Sub(start) > c.cfg.slowCall {
			return v, errSlowCall
		}
		return v, nil
	})
	if err != nil && !errors.Is(err, errSlowCall) {
		var zero V
		return zero, err
	}
	if !c.store(key, v, gen) {
		c.cfg.logger.Debug(ctx, "discarded value computed before invalidation", logger.String("key", key))
	}
	return v, nil
}

// revalidate starts a background recomputation of key unless one is
// already running.
func (c *Cache[V]) revalidate(ctx context.Context, key string, compute func(context.Context) (V, error)) {
	gen := c.generation(key)
	fk := flight(key, gen)
	if c.group.InFlight(fk) {
		return
	}
	bgCtx := context.WithoutCancel(ctx)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		_, shared, err := c.group.Do(bgCtx, fk, func(ctx context.Context) (V, error) {
			// A refresh that finished before this one started already did the work.
			if e, ok := c.lookup(key); ok && !e.Stale(c.cfg.clock.Now()) {
				return e.Value, nil
			}
			return c.compute(ctx, key, gen, compute)
		})
		switch {
		case err != nil:
			metrics.RecordCacheRevalidation(c.name, "failed")
			c.cfg.logger.Warn(bgCtx, "background revalidation failed",
				logger.String("key", key), logger.Error(err))
		case shared:
			metrics.RecordCacheRevalidation(c.name, "shared")
		default:
			metrics.RecordCacheRevalidation(c.name, "ok")
		}
	}()
}

// Wait blocks until background revalidations started so far have finished.
func (c *Cache[V]) Wait() {
	c.bg.Wait()
}
