// Package repository defines the durable settlement store and its SQLite
// implementation.
package repository

import (
	"context"
	"time"

	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/internal/domain/types"
)

// EventReader reads the event catalog.
type EventReader interface {
	// GetEvent returns ErrNotFound for unknown ids.
	GetEvent(ctx context.Context, id string) (model.Event, error)
}

// PaymentStore binds gateway payments to the event and team they settle.
type PaymentStore interface {
	// ClaimPayment records the binding. Either reference already being
	// claimed returns ErrDuplicate.
	ClaimPayment(ctx context.Context, claim model.PaymentClaim) error

	// FindPayment returns the claim holding either reference, or
	// ErrNotFound.
	FindPayment(ctx context.Context, orderRef, paymentRef string) (model.PaymentClaim, error)
}

// RegistrationStore persists registrations and their tickets.
type RegistrationStore interface {
	// FindByGatewayRefs returns the registration carrying either reference,
	// or ErrNotFound.
	FindByGatewayRefs(ctx context.Context, orderRef, paymentRef string) (model.Registration, error)

	// IsRegistered reports whether participant already holds a registration
	// for event.
	IsRegistered(ctx context.Context, participantEmail, eventID string) (bool, error)

	// CreateRegistration inserts the registration and its ticket in one
	// transaction. A unique constraint violation returns ErrDuplicate and
	// leaves nothing behind.
	CreateRegistration(ctx context.Context, reg model.Registration, ticket model.Ticket) error

	GetRegistration(ctx context.Context, id string) (model.Registration, error)
	GetTicket(ctx context.Context, id string) (model.Ticket, error)
	TicketForRegistration(ctx context.Context, registrationID string) (model.Ticket, error)
}

// RetryStore persists the retry ledger.
type RetryStore interface {
	CreateRetryRecord(ctx context.Context, rec model.RetryRecord) error
	GetRetryRecord(ctx context.Context, id string) (model.RetryRecord, error)

	// FindRetryByOrder returns the most recent record of participant for
	// orderRef, or ErrNotFound.
	FindRetryByOrder(ctx context.Context, participantEmail, orderRef string) (model.RetryRecord, error)

	// SetRetryStatus moves a record to status if its current status is one
	// of from. It reports whether a row changed.
	SetRetryStatus(ctx context.Context, id string, to model.RetryStatus, from ...model.RetryStatus) (bool, error)

	// IncrementRetry atomically moves a failed record whose count is below
	// ceiling to pending and bumps the count. It reports whether the
	// compare-and-set applied.
	IncrementRetry(ctx context.Context, id string, ceiling int, now time.Time) (bool, error)

	// ListRetryRecords returns participant's records in status, newest first.
	ListRetryRecords(ctx context.Context, participantEmail string, status model.RetryStatus) ([]model.RetryRecord, error)

	// SettleRetryRecords marks participant's failed and pending records for
	// event settled and returns how many changed.
	SettleRetryRecords(ctx context.Context, participantEmail, eventID string) (int, error)
}

// AnalyticsSource computes per-event aggregates.
type AnalyticsSource interface {
	EventAnalytics(ctx context.Context, eventID string) (types.Analytics, error)
}

// Store is the full settlement store.
type Store interface {
	EventReader
	PaymentStore
	RegistrationStore
	RetryStore
	AnalyticsSource

	// UpsertEvent writes a catalog row. The catalog is owned by event
	// management; this exists for seeding.
	UpsertEvent(ctx context.Context, ev model.Event) error

	Ping(ctx context.Context) error
	Close() error
}
