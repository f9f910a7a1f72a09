package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/happenin/internal/adapters/http/api"
	"github.com/okian/happenin/internal/adapters/repository"
	"github.com/okian/happenin/internal/domain/analytics"
	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/internal/domain/retryledger"
	"github.com/okian/happenin/internal/domain/settlement"
	"github.com/okian/happenin/internal/domain/signature"
	"github.com/okian/happenin/internal/domain/types"
	"github.com/okian/happenin/pkg/cache"
	"github.com/okian/happenin/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// Mock implementations for testing.
type mockSettler struct {
	result   settlement.Result
	err      error
	lastConf model.PaymentConfirmation
	lastUser model.Member
}

func (m *mockSettler) Confirm(_ context.Context, conf model.PaymentConfirmation) (settlement.Result, error) {
	m.lastConf = conf
	return m.result, m.err
}

func (m *mockSettler) ConfirmSingle(_ context.Context, conf model.PaymentConfirmation, participant model.Member) (settlement.Result, error) {
	m.lastConf = conf
	m.lastUser = participant
	return m.result, m.err
}

type mockLedger struct {
	record  model.RetryRecord
	records []model.RetryRecord
	err     error
	user    string
}

func (m *mockLedger) RecordFailure(_ context.Context, participant, eventID, orderRef string) (model.RetryRecord, error) {
	m.user = participant
	if m.err != nil {
		return model.RetryRecord{}, m.err
	}
	return model.RetryRecord{ID: "rec-1", ParticipantEmail: participant, EventID: eventID,
		GatewayOrderRef: orderRef, Status: model.RetryFailed}, nil
}

func (m *mockLedger) Retry(_ context.Context, participant, _ string) (model.RetryRecord, error) {
	m.user = participant
	return m.record, m.err
}

func (m *mockLedger) ListFailed(_ context.Context, participant string) ([]model.RetryRecord, error) {
	m.user = participant
	return m.records, m.err
}

type mockAnalytics struct {
	value  types.Analytics
	result cache.Result
	err    error
}

func (m *mockAnalytics) EventAnalytics(_ context.Context, _ string) (types.Analytics, cache.Result, error) {
	return m.value, m.result, m.err
}

type mockTickets struct {
	tickets map[string]model.Ticket
	regs    map[string]model.Registration
}

func (m *mockTickets) GetTicket(_ context.Context, id string) (model.Ticket, error) {
	t, ok := m.tickets[id]
	if !ok {
		return model.Ticket{}, repository.ErrNotFound
	}
	return t, nil
}

func (m *mockTickets) GetRegistration(_ context.Context, id string) (model.Registration, error) {
	r, ok := m.regs[id]
	if !ok {
		return model.Registration{}, repository.ErrNotFound
	}
	return r, nil
}

func (m *mockTickets) TicketForRegistration(_ context.Context, regID string) (model.Ticket, error) {
	for _, t := range m.tickets {
		if t.RegistrationID == regID {
			return t, nil
		}
	}
	return model.Ticket{}, repository.ErrNotFound
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(context.Context) error { return m.err }

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any {
	return m.stats
}

type fixture struct {
	mux       *http.ServeMux
	settler   *mockSettler
	ledger    *mockLedger
	analytics *mockAnalytics
	tickets   *mockTickets
	pinger    *mockPinger
}

func newFixture() *fixture {
	f := &fixture{
		mux:       http.NewServeMux(),
		settler:   &mockSettler{},
		ledger:    &mockLedger{},
		analytics: &mockAnalytics{},
		tickets:   &mockTickets{tickets: map[string]model.Ticket{}, regs: map[string]model.Registration{}},
		pinger:    &mockPinger{},
	}
	server := api.NewServer(api.Dependencies{
		Settlement: f.settler,
		Retries:    f.ledger,
		Analytics:  f.analytics,
		Tickets:    f.tickets,
		Store:      f.pinger,
		Stats:      &mockStatsProvider{stats: map[string]any{"uptime": "1s"}},
	})
	server.Register(context.Background(), f.mux)
	return f
}

func (f *fixture) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(api.HeaderParticipantEmail, user)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

const verifyBody = `{"gateway_order_ref":"order_1","gateway_payment_ref":"pay_1","signature":"abc","event_id":"evt-1"}`

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		f := newFixture()

		Convey("Then the health endpoint reports ok", func() {
			w := f.do("GET", "/health", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["status"], ShouldEqual, "ok")
		})

		Convey("And the health endpoint reports an unreachable store", func() {
			f.pinger.err = errors.New("disk gone")
			w := f.do("GET", "/health", "", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("And the metrics endpoint is served", func() {
			w := f.do("GET", "/healthz", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("And the stats endpoint is served", func() {
			w := f.do("GET", "/stats", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["uptime"], ShouldEqual, "1s")
		})

		Convey("And unknown methods are rejected", func() {
			w := f.do("GET", "/payments/verify", "", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestPaymentsHandler(t *testing.T) {
	Convey("Given the payment routes", t, func() {
		f := newFixture()

		Convey("When the caller is anonymous", func() {
			w := f.do("POST", "/payments/verify", "", verifyBody)

			Convey("Then it returns 401", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(decodeBody(w)["code"], ShouldEqual, "unauthorized")
			})
		})

		Convey("When the body is not JSON", func() {
			w := f.do("POST", "/payments/verify", "ada@example.com", "{")

			Convey("Then it returns 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody(w)["code"], ShouldEqual, "bad_request")
			})
		})

		Convey("When a single payment settles", func() {
			f.settler.result = settlement.Result{Registered: 1, Tickets: 1, TicketIDs: []string{"TKT-1"}}
			w := f.do("POST", "/payments/verify", "Ada@Example.com", verifyBody)

			Convey("Then it returns the summary for the caller", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decodeBody(w)
				So(body["success"], ShouldEqual, true)
				So(body["duplicate"], ShouldEqual, false)
				So(body["registrations"], ShouldEqual, 1.0)
				So(body["tickets"], ShouldEqual, 1.0)
				So(body["message"], ShouldEqual, "Payment verified and registration confirmed")
				So(f.settler.lastUser.Email, ShouldEqual, "ada@example.com")
				So(f.settler.lastConf.GatewayOrderRef, ShouldEqual, "order_1")
			})
		})

		Convey("When the payment was already processed", func() {
			f.settler.result = settlement.Result{Duplicate: true}
			w := f.do("POST", "/payments/verify", "ada@example.com", verifyBody)

			Convey("Then it reports a duplicate with 200", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["duplicate"], ShouldEqual, true)
				So(decodeBody(w)["message"], ShouldEqual, "Payment already processed")
			})
		})

		Convey("When a team payment is confirmed without team_size", func() {
			f.settler.result = settlement.Result{Registered: 3, Tickets: 3}
			body := `{"gateway_order_ref":"o","gateway_payment_ref":"p","signature":"s","event_id":"evt-1",
				"members":[{"email":"a@x.io","full_name":"A"},{"email":"b@x.io"},{"email":"c@x.io"}]}`
			w := f.do("POST", "/payments/verify-bulk", "a@x.io", body)

			Convey("Then the members are passed through with the derived size", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(f.settler.lastConf.TeamSize, ShouldEqual, 3)
				So(len(f.settler.lastConf.Members), ShouldEqual, 3)
				So(f.settler.lastConf.Members[0].FullName, ShouldEqual, "A")
			})
		})

		Convey("When the pipeline fails", func() {
			cases := []struct {
				err    error
				status int
				code   string
			}{
				{signature.ErrMismatch, http.StatusBadRequest, "invalid_signature"},
				{signature.ErrMissingInput, http.StatusBadRequest, "bad_request"},
				{fmt.Errorf("%w: no members", settlement.ErrInvalidConfirmation), http.StatusBadRequest, "bad_request"},
				{fmt.Errorf("%w: evt-9", settlement.ErrEventNotFound), http.StatusNotFound, "event_not_found"},
				{settlement.ErrPaymentAlreadyUsed, http.StatusConflict, "payment_already_used"},
				{signature.ErrMisconfigured, http.StatusInternalServerError, "server_misconfigured"},
				{settlement.ErrNothingRegistered, http.StatusInternalServerError, "registration_failed"},
				{errors.New("database is locked"), http.StatusInternalServerError, "internal_error"},
			}

			Convey("Then each error maps to its status and code", func() {
				for _, tc := range cases {
					f.settler.err = tc.err
					w := f.do("POST", "/payments/verify", "ada@example.com", verifyBody)
					So(w.Code, ShouldEqual, tc.status)
					So(decodeBody(w)["code"], ShouldEqual, tc.code)
				}
			})

			Convey("And internal causes are not leaked", func() {
				f.settler.err = errors.New("database is locked")
				w := f.do("POST", "/payments/verify", "ada@example.com", verifyBody)
				So(decodeBody(w)["message"], ShouldEqual, "internal error")
			})
		})
	})
}

func TestRetryHandler(t *testing.T) {
	Convey("Given the retry routes", t, func() {
		f := newFixture()

		Convey("When a failure is reported", func() {
			w := f.do("POST", "/payments/failed", "ada@example.com", `{"event_id":"evt-1","gateway_order_ref":"order_1"}`)

			Convey("Then a record is created for the caller", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				body := decodeBody(w)
				So(body["id"], ShouldEqual, "rec-1")
				So(body["status"], ShouldEqual, "failed")
				So(f.ledger.user, ShouldEqual, "ada@example.com")
			})
		})

		Convey("When a retry is accepted", func() {
			f.ledger.record = model.RetryRecord{ID: "rec-1", Status: model.RetryPending, RetryCount: 1}
			w := f.do("POST", "/payments/retry", "ada@example.com", `{"payment_record_id":"rec-1"}`)

			Convey("Then the updated record is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decodeBody(w)
				So(body["success"], ShouldEqual, true)
				So(body["record"].(map[string]any)["retry_count"], ShouldEqual, 1.0)
			})
		})

		Convey("When the ceiling was reached", func() {
			f.ledger.err = retryledger.ErrRetryExhausted
			w := f.do("POST", "/payments/retry", "ada@example.com", `{"payment_record_id":"rec-1"}`)

			Convey("Then it returns the terminal message", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				body := decodeBody(w)
				So(body["code"], ShouldEqual, "retry_exhausted")
				So(body["message"], ShouldEqual, "Maximum retry attempts exceeded. Please contact support.")
			})
		})

		Convey("When the record is unknown or already processed", func() {
			f.ledger.err = retryledger.ErrNotRetryable
			w := f.do("POST", "/payments/retry", "ada@example.com", `{"payment_record_id":"rec-x"}`)
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeBody(w)["code"], ShouldEqual, "not_found")
		})

		Convey("When the record id is missing", func() {
			w := f.do("POST", "/payments/retry", "ada@example.com", `{}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When listing failed payments", func() {
			f.ledger.records = []model.RetryRecord{{ID: "a"}, {ID: "b"}}
			w := f.do("GET", "/payments/retry", "ada@example.com", "")

			Convey("Then the caller's records are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(len(decodeBody(w)["records"].([]any)), ShouldEqual, 2)
			})
		})
	})
}

func TestAnalyticsHandler(t *testing.T) {
	Convey("Given the analytics route", t, func() {
		f := newFixture()

		Convey("When the breaker serves the fallback", func() {
			f.analytics.value = types.FallbackAnalytics("evt-1")
			f.analytics.result = cache.ResultFallback
			w := f.do("GET", "/events/evt-1/analytics", "", "")

			Convey("Then it answers 200 with zeros", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decodeBody(w)
				So(body["cache"], ShouldEqual, "fallback")
				So(body["event_id"], ShouldEqual, "evt-1")
				So(body["registrations"], ShouldEqual, 0.0)
			})
		})

		Convey("When a fresh aggregate is cached", func() {
			f.analytics.value = types.Analytics{EventID: "evt-1", Registrations: 4, Tickets: 4, Revenue: 2000, Conversion: 1}
			f.analytics.result = cache.ResultFresh
			w := f.do("GET", "/events/evt-1/analytics", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["revenue"], ShouldEqual, 2000.0)
			So(decodeBody(w)["cache"], ShouldEqual, "fresh")
		})

		Convey("When the event is unknown", func() {
			f.analytics.err = fmt.Errorf("%w: evt-9", analytics.ErrEventNotFound)
			w := f.do("GET", "/events/evt-9/analytics", "", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeBody(w)["code"], ShouldEqual, "event_not_found")
		})

		Convey("When the computation fails with the breaker closed", func() {
			f.analytics.err = errors.New("timeout")
			w := f.do("GET", "/events/evt-1/analytics", "", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestTicketsHandler(t *testing.T) {
	Convey("Given an issued ticket", t, func() {
		f := newFixture()
		issued := time.UnixMilli(1767225600000).UTC()
		payload := model.ScanPayload{EventID: "evt-1", RegistrationID: "reg-1", IssuedAt: issued}.String()
		f.tickets.regs["reg-1"] = model.Registration{ID: "reg-1", EventID: "evt-1",
			ParticipantEmail: "ada@example.com", ParticipantName: "Ada"}
		f.tickets.tickets["TKT-1"] = model.Ticket{ID: "TKT-1", RegistrationID: "reg-1", EventID: "evt-1",
			ParticipantEmail: "ada@example.com", ScanPayload: payload, Status: model.TicketActive, IssuedAt: issued}

		Convey("When the holder fetches the QR code", func() {
			w := f.do("GET", "/tickets/TKT-1/qr?size=128", "ada@example.com", "")

			Convey("Then a PNG is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldEqual, "image/png")
				So(bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")), ShouldBeTrue)
			})
		})

		Convey("When someone else fetches it", func() {
			w := f.do("GET", "/tickets/TKT-1/qr", "eve@example.com", "")
			So(w.Code, ShouldEqual, http.StatusForbidden)
		})

		Convey("When the size is out of range", func() {
			w := f.do("GET", "/tickets/TKT-1/qr?size=9", "ada@example.com", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the ticket does not exist", func() {
			w := f.do("GET", "/tickets/TKT-404/qr", "ada@example.com", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the issued payload is scanned", func() {
			w := f.do("GET", "/tickets/scan?payload="+payload, "", "")

			Convey("Then the registration is resolved", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decodeBody(w)
				So(body["ticket_id"], ShouldEqual, "TKT-1")
				So(body["participant_name"], ShouldEqual, "Ada")
				So(body["ticket_status"], ShouldEqual, "active")
			})
		})

		Convey("When a payload with a forged timestamp is scanned", func() {
			w := f.do("GET", "/tickets/scan?payload=evt-1:reg-1:1", "", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When a malformed payload is scanned", func() {
			w := f.do("GET", "/tickets/scan?payload=garbage", "", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}
