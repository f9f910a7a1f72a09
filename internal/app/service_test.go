package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/happenin/internal/app"
	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should report itself stopped", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["retryCeiling"], ShouldEqual, model.DefaultRetryCeiling)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithRetryCeiling(5),
			service.WithAnalyticsTTL(30*time.Second),
			service.WithAnalyticsBreaker(3, time.Second, 0),
		)

		Convey("Then the options are applied", func() {
			stats := svc.GetStats()
			So(stats["retryCeiling"], ShouldEqual, 5)
			So(stats["analyticsTTL"], ShouldEqual, "30s")
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service on a temporary database", t, func() {
		ctx := context.Background()
		svc := service.New(
			service.WithDatabasePath(filepath.Join(t.TempDir(), "happenin.db")),
			service.WithGatewaySecret("secret"),
		)
		defer svc.Stop()

		Convey("When it is used before Start", func() {
			_, err := svc.ListFailed(ctx, "ada@example.com")

			Convey("Then it refuses", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(svc.Ping(ctx), service.ErrNotStarted), ShouldBeTrue)
			})
		})

		Convey("When it is started twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it is usable and reports stats", func() {
				So(svc.Ping(ctx), ShouldBeNil)
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["analyticsCacheEntries"], ShouldEqual, 0)
				So(stats["analyticsBreaker"], ShouldEqual, "closed")
			})

			Convey("And it can be stopped twice", func() {
				svc.Stop()
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When the database path is unusable", func() {
			bad := service.New(service.WithDatabasePath(filepath.Join(t.TempDir(), "missing", "dir", "x.db")))
			err := bad.Start(ctx)

			Convey("Then Start fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
