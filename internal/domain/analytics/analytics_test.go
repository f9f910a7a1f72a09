package analytics_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/happenin/internal/adapters/repository"
	"github.com/okian/happenin/internal/domain/analytics"
	"github.com/okian/happenin/internal/domain/types"
	"github.com/okian/happenin/pkg/cache"
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type mockSource struct {
	calls atomic.Int32
	err   error
}

func (m *mockSource) EventAnalytics(_ context.Context, eventID string) (types.Analytics, error) {
	n := m.calls.Add(1)
	if m.err != nil {
		return types.Analytics{}, m.err
	}
	return types.Analytics{EventID: eventID, Registrations: int(n), Tickets: int(n), Conversion: 1}, nil
}

func TestEventAnalytics(t *testing.T) {
	Convey("Given an analytics service on a fake clock", t, func() {
		ctx := context.Background()
		clk := clock.Fake(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
		src := &mockSource{}
		svc := analytics.New(src, cache.New[types.Analytics]("analytics-test",
			cache.WithClock(clk), cache.WithTTL(time.Minute), cache.WithBreaker(2, time.Hour),
			cache.WithNonFailures(repository.ErrNotFound)))

		Convey("When asked twice within the TTL", func() {
			first, res1, err1 := svc.EventAnalytics(ctx, "evt-1")
			second, res2, err2 := svc.EventAnalytics(ctx, "evt-1")

			Convey("Then the source is read once", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(res1, ShouldEqual, cache.ResultMiss)
				So(res2, ShouldEqual, cache.ResultFresh)
				So(second, ShouldResemble, first)
				So(src.calls.Load(), ShouldEqual, 1)
				So(svc.CacheSize(), ShouldEqual, 1)
			})

			Convey("Then invalidation forces a recompute", func() {
				svc.Invalidate("evt-1")
				a, res, err := svc.EventAnalytics(ctx, "evt-1")
				So(err, ShouldBeNil)
				So(res, ShouldEqual, cache.ResultMiss)
				So(a.Registrations, ShouldEqual, 2)
			})
		})

		Convey("When the event is unknown", func() {
			src.err = repository.ErrNotFound
			for i := 0; i < 3; i++ {
				_, _, err := svc.EventAnalytics(ctx, "evt-404")
				So(errors.Is(err, analytics.ErrEventNotFound), ShouldBeTrue)
			}

			Convey("Then unknown events never open the breaker", func() {
				src.err = nil
				_, res, err := svc.EventAnalytics(ctx, "evt-1")
				So(err, ShouldBeNil)
				So(res, ShouldEqual, cache.ResultMiss)
			})
		})

		Convey("When the source is down long enough to open the breaker", func() {
			src.err = errors.New("db down")
			_, _, _ = svc.EventAnalytics(ctx, "evt-1")
			a, res, err := svc.EventAnalytics(ctx, "evt-1")

			Convey("Then the zero fallback is served", func() {
				So(err, ShouldBeNil)
				So(res, ShouldEqual, cache.ResultFallback)
				So(a, ShouldResemble, types.FallbackAnalytics("evt-1"))
			})
		})
	})
}
