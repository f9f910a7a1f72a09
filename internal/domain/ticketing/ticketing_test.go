package ticketing

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/pkg/clock"
)

func TestIssuer(t *testing.T) {
	Convey("Given an issuer on a fake clock", t, func() {
		now := time.UnixMilli(1_700_000_000_456).UTC()
		issuer := NewIssuer(clock.Fake(now))
		reg := model.Registration{ID: "reg-1", EventID: "evt-1", ParticipantEmail: "a@x.io"}

		Convey("When a ticket is issued", func() {
			tk, err := issuer.Issue(reg)
			So(err, ShouldBeNil)

			Convey("Then it is active and bound to the registration", func() {
				So(tk.Status, ShouldEqual, model.TicketActive)
				So(tk.RegistrationID, ShouldEqual, "reg-1")
				So(tk.EventID, ShouldEqual, "evt-1")
				So(tk.ParticipantEmail, ShouldEqual, "a@x.io")
				So(tk.IssuedAt.Equal(now), ShouldBeTrue)
			})

			Convey("Then its id is a prefixed UUIDv7", func() {
				So(strings.HasPrefix(tk.ID, TicketPrefix), ShouldBeTrue)
				id, err := uuid.Parse(strings.TrimPrefix(tk.ID, TicketPrefix))
				So(err, ShouldBeNil)
				So(id.Version(), ShouldEqual, uuid.Version(7))
			})

			Convey("Then the scan payload round-trips", func() {
				So(tk.ScanPayload, ShouldEqual, "evt-1:reg-1:1700000000456")
				p, err := ParseScanPayload(tk.ScanPayload)
				So(err, ShouldBeNil)
				So(p.RegistrationID, ShouldEqual, "reg-1")
				So(p.IssuedAt.Equal(now), ShouldBeTrue)
			})
		})

		Convey("When many tickets are issued", func() {
			seen := map[string]bool{}
			for i := 0; i < 1000; i++ {
				tk, err := issuer.Issue(reg)
				So(err, ShouldBeNil)
				seen[tk.ID] = true
			}

			Convey("Then every id is distinct", func() {
				So(len(seen), ShouldEqual, 1000)
			})
		})
	})
}

func TestParseScanPayload(t *testing.T) {
	Convey("Given scan payload strings", t, func() {
		Convey("When the event id contains colons", func() {
			p, err := ParseScanPayload("org:evt:7:reg-2:42")
			So(err, ShouldBeNil)
			So(p.EventID, ShouldEqual, "org:evt:7")
			So(p.RegistrationID, ShouldEqual, "reg-2")
			So(p.IssuedAt.UnixMilli(), ShouldEqual, 42)
		})

		Convey("When the payload is malformed", func() {
			for _, bad := range []string{"", "abc", ":reg:1", "evt:reg:", "evt::1", "evt:reg:x", "evt:reg:-5"} {
				_, err := ParseScanPayload(bad)
				So(errors.Is(err, ErrInvalidPayload), ShouldBeTrue)
			}
		})
	})
}

func TestRenderQR(t *testing.T) {
	Convey("Given a scan payload", t, func() {
		Convey("When rendered at a valid size", func() {
			png, err := RenderQR("evt-1:reg-1:1700000000456", 256)

			Convey("Then a PNG is returned", func() {
				So(err, ShouldBeNil)
				So(bytes.HasPrefix(png, []byte("\x89PNG")), ShouldBeTrue)
			})
		})

		Convey("When the size is out of range", func() {
			_, err := RenderQR("x", 10)
			So(errors.Is(err, ErrInvalidSize), ShouldBeTrue)
		})
	})
}
