// Package analytics serves per-event aggregates through the staleness-aware
// cache. It is a non-critical read path: never used by settlement.
package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/happenin/internal/adapters/repository"
	"github.com/okian/happenin/internal/domain/types"
	"github.com/okian/happenin/pkg/cache"
)

// ErrEventNotFound is returned for unknown events.
var ErrEventNotFound = errors.New("event not found")

// Service computes and caches event analytics.
type Service struct {
	source repository.AnalyticsSource
	cache  *cache.Cache[types.Analytics]
}

// New creates a Service reading from source through c.
func New(source repository.AnalyticsSource, c *cache.Cache[types.Analytics]) *Service {
	return &Service{source: source, cache: c}
}

// EventAnalytics returns the aggregate for eventID and how it was served.
func (s *Service) EventAnalytics(ctx context.Context, eventID string) (types.Analytics, cache.Result, error) {
	a, res, err := s.cache.Fetch(ctx, key(eventID),
		func(ctx context.Context) (types.Analytics, error) {
			return s.source.EventAnalytics(ctx, eventID)
		},
		func() types.Analytics { return types.FallbackAnalytics(eventID) },
	)
	if errors.Is(err, repository.ErrNotFound) {
		return types.Analytics{}, res, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	return a, res, err
}

// Invalidate drops the cached aggregate of eventID.
func (s *Service) Invalidate(eventID string) {
	s.cache.Delete(key(eventID))
}

// CacheSize returns the number of cached aggregates.
func (s *Service) CacheSize() int {
	return s.cache.Len()
}

func key(eventID string) string {
	return "analytics:event:" + eventID
}
