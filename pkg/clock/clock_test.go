package clock_test

import (
	"testing"
	"time"

	"github.com/okian/happenin/pkg/clock"
	. "github.com/smartystreets/goconvey/convey"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock(t *testing.T) {
	Convey("Given a fake clock", t, func() {
		c := clock.Fake(epoch)

		Convey("Then time stands still until advanced", func() {
			So(c.Now(), ShouldEqual, epoch)
			c.Advance(5 * time.Second)
			So(c.Now(), ShouldEqual, epoch.Add(5*time.Second))
		})

		Convey("When a waiter is registered", func() {
			ch := c.After(3 * time.Second)
			So(c.Pending(), ShouldEqual, 1)

			Convey("Then it does not fire before its deadline", func() {
				c.Advance(2 * time.Second)
				select {
				case <-ch:
					t.Fatal("fired early")
				default:
				}
				So(c.Pending(), ShouldEqual, 1)
			})

			Convey("Then it fires once the deadline is reached", func() {
				c.Advance(3 * time.Second)
				fired := <-ch
				So(fired, ShouldEqual, epoch.Add(3*time.Second))
				So(c.Pending(), ShouldEqual, 0)
			})
		})

		Convey("When After is called with a non-positive duration", func() {
			ch := c.After(0)

			Convey("Then it fires immediately", func() {
				select {
				case <-ch:
				default:
					t.Fatal("After(0) should fire immediately")
				}
			})
		})

		Convey("When a goroutine waits on the clock", func() {
			done := make(chan struct{})
			go func() {
				<-c.After(time.Second)
				close(done)
			}()
			c.WaitForTimers(1)
			c.Advance(time.Second)

			Convey("Then it is released by Advance", func() {
				<-done
				So(c.Pending(), ShouldEqual, 0)
			})
		})
	})
}

func TestRealClock(t *testing.T) {
	Convey("Given the real clock", t, func() {
		c := clock.Real()

		Convey("Then Now tracks wall time", func() {
			before := time.Now()
			So(c.Now().Before(before), ShouldBeFalse)
		})
	})
}
