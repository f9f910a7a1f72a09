package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/internal/domain/types"
	"github.com/okian/happenin/pkg/metrics"
)

const (
	defaultMaxOpenConns = 4
	defaultBusyTimeout  = 5 * time.Second
)

// schema is applied on Open. UNIQUE(participant_email, event_id) and the
// unique gateway references are the idempotency backstop; SQLite lets any
// number of rows hold NULL references. A payment is bound to its event and
// team by its payments row, which does not depend on the lead's insert.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		price INTEGER NOT NULL DEFAULT 0,
		date INTEGER NOT NULL DEFAULT 0,
		location TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS registrations (
		id TEXT PRIMARY KEY,
		participant_email TEXT NOT NULL,
		participant_name TEXT NOT NULL DEFAULT '',
		event_id TEXT NOT NULL REFERENCES events(id),
		liability INTEGER NOT NULL DEFAULT 0,
		gateway_order_ref TEXT UNIQUE,
		gateway_payment_ref TEXT UNIQUE,
		signature TEXT,
		claim_order_ref TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (participant_email, event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		order_ref TEXT NOT NULL UNIQUE,
		payment_ref TEXT NOT NULL UNIQUE,
		event_id TEXT NOT NULL REFERENCES events(id),
		lead_email TEXT NOT NULL,
		members TEXT NOT NULL,
		team_size INTEGER NOT NULL,
		claimed_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS registrations_by_claim ON registrations (claim_order_ref)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		registration_id TEXT NOT NULL UNIQUE REFERENCES registrations(id),
		event_id TEXT NOT NULL,
		participant_email TEXT NOT NULL,
		scan_payload TEXT NOT NULL,
		status TEXT NOT NULL,
		issued_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_attempts (
		id TEXT PRIMARY KEY,
		participant_email TEXT NOT NULL,
		event_id TEXT NOT NULL,
		gateway_order_ref TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_retry_at INTEGER,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS payment_attempts_by_participant
		ON payment_attempts (participant_email, status, created_at)`,
	`CREATE INDEX IF NOT EXISTS tickets_by_event ON tickets (event_id)`,
}

// SQLiteStore implements Store on database/sql with the sqlite3 driver.
type SQLiteStore struct {
	db           *sql.DB
	maxOpenConns int
	busyTimeout  time.Duration
	closed       atomic.Bool
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database at dsn and applies the schema.
// dsn is a file path or ":memory:".
func Open(ctx context.Context, dsn string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		maxOpenConns: defaultMaxOpenConns,
		busyTimeout:  defaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	memory := strings.Contains(dsn, ":memory:")
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	full := fmt.Sprintf("%s%s_foreign_keys=on&_busy_timeout=%d", dsn, sep, s.busyTimeout.Milliseconds())
	if !memory {
		full += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.maxOpenConns)
	}
	s.db = db

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close releases the database handle. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// observe records latency and errors of one store operation.
func observe(op string, start time.Time, err error) {
	metrics.RecordRepositoryLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDuplicate) {
		metrics.RecordRepositoryError(op)
	}
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// Events.

// UpsertEvent writes a catalog row.
func (s *SQLiteStore) UpsertEvent(ctx context.Context, ev model.Event) (err error) {
	defer func(start time.Time) { observe("upsert_event", start, err) }(time.Now())
	_, err = s.db.ExecContext(ctx, `INSERT INTO events (id, title, price, date, location) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, price = excluded.price,
		date = excluded.date, location = excluded.location`,
		ev.ID, ev.Title, ev.Price, ev.Date.UnixMilli(), ev.Location)
	return classify(err)
}

// GetEvent returns a catalog row.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (ev model.Event, err error) {
	defer func(start time.Time) { observe("get_event", start, err) }(time.Now())
	var date int64
	err = s.db.QueryRowContext(ctx, `SELECT id, title, price, date, location FROM events WHERE id = ?`, id).
		Scan(&ev.ID, &ev.Title, &ev.Price, &date, &ev.Location)
	if err != nil {
		return model.Event{}, classify(err)
	}
	ev.Date = time.UnixMilli(date).UTC()
	return ev, nil
}

// Registrations.

const registrationColumns = `id, participant_email, participant_name, event_id, liability,
	gateway_order_ref, gateway_payment_ref, signature, claim_order_ref, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (model.Registration, error) {
	var (
		r                     model.Registration
		orderRef, payRef, sig sql.NullString
		claim                 sql.NullString
		status                string
		created               int64
	)
	if err := row.Scan(&r.ID, &r.ParticipantEmail, &r.ParticipantName, &r.EventID, &r.Liability,
		&orderRef, &payRef, &sig, &claim, &status, &created); err != nil {
		return model.Registration{}, err
	}
	r.GatewayOrderRef = nullable(orderRef)
	r.GatewayPaymentRef = nullable(payRef)
	r.Signature = nullable(sig)
	r.ClaimOrderRef = claim.String
	r.Status = model.RegistrationStatus(status)
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Payments.

// ClaimPayment binds a payment to its event and team. Either reference
// already being claimed returns ErrDuplicate.
func (s *SQLiteStore) ClaimPayment(ctx context.Context, c model.PaymentClaim) (err error) {
	defer func(start time.Time) { observe("claim_payment", start, err) }(time.Now())
	_, err = s.db.ExecContext(ctx, `INSERT INTO payments
		(order_ref, payment_ref, event_id, lead_email, members, team_size, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.OrderRef, c.PaymentRef, c.EventID, c.LeadEmail, strings.Join(c.Members, "\n"),
		c.TeamSize, c.ClaimedAt.UnixMilli())
	return classify(err)
}

// FindPayment returns the claim holding either reference, with the number
// of registrations created under it.
func (s *SQLiteStore) FindPayment(ctx context.Context, orderRef, paymentRef string) (c model.PaymentClaim, err error) {
	defer func(start time.Time) { observe("find_payment", start, err) }(time.Now())
	var (
		members string
		claimed int64
	)
	err = s.db.QueryRowContext(ctx, `SELECT p.order_ref, p.payment_ref, p.event_id, p.lead_email,
		p.members, p.team_size, p.claimed_at,
		(SELECT COUNT(*) FROM registrations r WHERE r.claim_order_ref = p.order_ref)
		FROM payments p WHERE p.order_ref = ? OR p.payment_ref = ? LIMIT 1`, orderRef, paymentRef).
		Scan(&c.OrderRef, &c.PaymentRef, &c.EventID, &c.LeadEmail, &members, &c.TeamSize, &claimed, &c.Registrations)
	if err != nil {
		return model.PaymentClaim{}, classify(err)
	}
	c.Members = strings.Split(members, "\n")
	c.ClaimedAt = time.UnixMilli(claimed).UTC()
	return c, nil
}

// FindByGatewayRefs looks a registration up by either gateway reference.
func (s *SQLiteStore) FindByGatewayRefs(ctx context.Context, orderRef, paymentRef string) (r model.Registration, err error) {
	defer func(start time.Time) { observe("find_by_gateway_refs", start, err) }(time.Now())
	row := s.db.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations
		WHERE gateway_order_ref = ? OR gateway_payment_ref = ? LIMIT 1`, orderRef, paymentRef)
	r, err = scanRegistration(row)
	return r, classify(err)
}

// IsRegistered reports whether a registration exists for the pair.
func (s *SQLiteStore) IsRegistered(ctx context.Context, participantEmail, eventID string) (ok bool, err error) {
	defer func(start time.Time) { observe("is_registered", start, err) }(time.Now())
	var n int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations WHERE participant_email = ? AND event_id = ?`,
		participantEmail, eventID).Scan(&n)
	return n > 0, err
}

// CreateRegistration inserts the registration and its ticket atomically.
func (s *SQLiteStore) CreateRegistration(ctx context.Context, reg model.Registration, ticket model.Ticket) (err error) {
	defer func(start time.Time) { observe("create_registration", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, `INSERT INTO registrations (`+registrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reg.ID, reg.ParticipantEmail, reg.ParticipantName, reg.EventID, reg.Liability,
		reg.GatewayOrderRef, reg.GatewayPaymentRef, reg.Signature, nullString(reg.ClaimOrderRef),
		string(reg.Status), reg.CreatedAt.UnixMilli(),
	); err != nil {
		return classify(err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO tickets
		(id, registration_id, event_id, participant_email, scan_payload, status, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ticket.ID, ticket.RegistrationID, ticket.EventID, ticket.ParticipantEmail,
		ticket.ScanPayload, string(ticket.Status), ticket.IssuedAt.UnixMilli(),
	); err != nil {
		return classify(err)
	}
	return tx.Commit()
}

// GetRegistration returns a registration by primary key.
func (s *SQLiteStore) GetRegistration(ctx context.Context, id string) (r model.Registration, err error) {
	defer func(start time.Time) { observe("get_registration", start, err) }(time.Now())
	r, err = scanRegistration(s.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = ?`, id))
	return r, classify(err)
}

// Tickets.

const ticketColumns = `id, registration_id, event_id, participant_email, scan_payload, status, issued_at`

func scanTicket(row rowScanner) (model.Ticket, error) {
	var (
		t      model.Ticket
		status string
		issued int64
	)
	if err := row.Scan(&t.ID, &t.RegistrationID, &t.EventID, &t.ParticipantEmail,
		&t.ScanPayload, &status, &issued); err != nil {
		return model.Ticket{}, err
	}
	t.Status = model.TicketStatus(status)
	t.IssuedAt = time.UnixMilli(issued).UTC()
	return t, nil
}

// GetTicket returns a ticket by id.
func (s *SQLiteStore) GetTicket(ctx context.Context, id string) (t model.Ticket, err error) {
	defer func(start time.Time) { observe("get_ticket", start, err) }(time.Now())
	t, err = scanTicket(s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	return t, classify(err)
}

// TicketForRegistration returns the ticket bound to a registration.
func (s *SQLiteStore) TicketForRegistration(ctx context.Context, registrationID string) (t model.Ticket, err error) {
	defer func(start time.Time) { observe("ticket_for_registration", start, err) }(time.Now())
	t, err = scanTicket(s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE registration_id = ?`, registrationID))
	return t, classify(err)
}

// Retry ledger.

const retryColumns = `id, participant_email, event_id, gateway_order_ref, status, retry_count, last_retry_at, created_at`

func scanRetry(row rowScanner) (model.RetryRecord, error) {
	var (
		r         model.RetryRecord
		status    string
		lastRetry sql.NullInt64
		created   int64
	)
	if err := row.Scan(&r.ID, &r.ParticipantEmail, &r.EventID, &r.GatewayOrderRef,
		&status, &r.RetryCount, &lastRetry, &created); err != nil {
		return model.RetryRecord{}, err
	}
	r.Status = model.RetryStatus(status)
	if lastRetry.Valid {
		at := time.UnixMilli(lastRetry.Int64).UTC()
		r.LastRetryAt = &at
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, nil
}

// CreateRetryRecord inserts a ledger row.
func (s *SQLiteStore) CreateRetryRecord(ctx context.Context, rec model.RetryRecord) (err error) {
	defer func(start time.Time) { observe("create_retry_record", start, err) }(time.Now())
	var last any
	if rec.LastRetryAt != nil {
		last = rec.LastRetryAt.UnixMilli()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO payment_attempts (`+retryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ParticipantEmail, rec.EventID, rec.GatewayOrderRef, string(rec.Status),
		rec.RetryCount, last, rec.CreatedAt.UnixMilli())
	return classify(err)
}

// GetRetryRecord returns a ledger row by id.
func (s *SQLiteStore) GetRetryRecord(ctx context.Context, id string) (r model.RetryRecord, err error) {
	defer func(start time.Time) { observe("get_retry_record", start, err) }(time.Now())
	r, err = scanRetry(s.db.QueryRowContext(ctx, `SELECT `+retryColumns+` FROM payment_attempts WHERE id = ?`, id))
	return r, classify(err)
}

// FindRetryByOrder returns the newest ledger row for an order.
func (s *SQLiteStore) FindRetryByOrder(ctx context.Context, participantEmail, orderRef string) (r model.RetryRecord, err error) {
	defer func(start time.Time) { observe("find_retry_by_order", start, err) }(time.Now())
	r, err = scanRetry(s.db.QueryRowContext(ctx, `SELECT `+retryColumns+` FROM payment_attempts
		WHERE participant_email = ? AND gateway_order_ref = ? ORDER BY created_at DESC LIMIT 1`,
		participantEmail, orderRef))
	return r, classify(err)
}

// SetRetryStatus is a guarded status transition.
func (s *SQLiteStore) SetRetryStatus(ctx context.Context, id string, to model.RetryStatus, from ...model.RetryStatus) (changed bool, err error) {
	defer func(start time.Time) { observe("set_retry_status", start, err) }(time.Now())
	if len(from) == 0 {
		return false, nil
	}
	args := []any{string(to), id}
	for _, f := range from {
		args = append(args, string(f))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_attempts SET status = ? WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IncrementRetry is the compare-and-set that enforces the retry ceiling.
func (s *SQLiteStore) IncrementRetry(ctx context.Context, id string, ceiling int, now time.Time) (applied bool, err error) {
	defer func(start time.Time) { observe("increment_retry", start, err) }(time.Now())
	res, err := s.db.ExecContext(ctx, `UPDATE payment_attempts
		SET status = ?, retry_count = retry_count + 1, last_retry_at = ?
		WHERE id = ? AND status = ? AND retry_count < ?`,
		string(model.RetryPending), now.UnixMilli(), id, string(model.RetryFailed), ceiling)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListRetryRecords lists a participant's ledger rows in one status.
func (s *SQLiteStore) ListRetryRecords(ctx context.Context, participantEmail string, status model.RetryStatus) (out []model.RetryRecord, err error) {
	defer func(start time.Time) { observe("list_retry_records", start, err) }(time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT `+retryColumns+` FROM payment_attempts
		WHERE participant_email = ? AND status = ? ORDER BY created_at DESC, id DESC`,
		participantEmail, string(status))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		r, err := scanRetry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SettleRetryRecords closes open ledger rows once a payment went through.
func (s *SQLiteStore) SettleRetryRecords(ctx context.Context, participantEmail, eventID string) (n int, err error) {
	defer func(start time.Time) { observe("settle_retry_records", start, err) }(time.Now())
	res, err := s.db.ExecContext(ctx, `UPDATE payment_attempts SET status = ?
		WHERE participant_email = ? AND event_id = ? AND status IN (?, ?)`,
		string(model.RetrySettled), participantEmail, eventID,
		string(model.RetryFailed), string(model.RetryPending))
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// Analytics.

// EventAnalytics aggregates registrations, tickets and revenue for an event.
func (s *SQLiteStore) EventAnalytics(ctx context.Context, eventID string) (a types.Analytics, err error) {
	defer func(start time.Time) { observe("event_analytics", start, err) }(time.Now())
	if _, err = s.GetEvent(ctx, eventID); err != nil {
		return types.Analytics{}, err
	}
	a.EventID = eventID
	err = s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM registrations WHERE event_id = ?),
		(SELECT COUNT(*) FROM tickets WHERE event_id = ?),
		(SELECT COALESCE(SUM(liability), 0) FROM registrations WHERE event_id = ?)`,
		eventID, eventID, eventID).Scan(&a.Registrations, &a.Tickets, &a.Revenue)
	if err != nil {
		return types.Analytics{}, err
	}
	a.Conversion = types.ConversionRate(a.Registrations, a.Tickets)
	return a, nil
}
