package model

import (
	"strconv"
	"time"
)

// RegistrationStatus is the lifecycle state of a registration.
type RegistrationStatus string

// Registrations are only ever written as confirmed.
const RegistrationConfirmed RegistrationStatus = "confirmed"

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

// Tickets are issued active.
const TicketActive TicketStatus = "active"

// Registration is one participant's confirmed seat at one event. Only the
// lead of a batch carries the gateway references and a non-zero liability;
// every member carries the order reference of the claim it settled under.
type Registration struct {
	ID                string
	ParticipantEmail  string
	ParticipantName   string
	EventID           string
	Liability         int64
	GatewayOrderRef   *string
	GatewayPaymentRef *string
	Signature         *string
	ClaimOrderRef     string
	Status            RegistrationStatus
	CreatedAt         time.Time
}

// IsLead reports whether the registration carries payment liability.
func (r Registration) IsLead() bool {
	return r.GatewayOrderRef != nil || r.GatewayPaymentRef != nil
}

// Ticket is the admission artifact bound to exactly one registration.
type Ticket struct {
	ID               string
	RegistrationID   string
	EventID          string
	ParticipantEmail string
	ScanPayload      string
	Status           TicketStatus
	IssuedAt         time.Time
}

// ScanPayload is the content encoded into a ticket's QR code.
type ScanPayload struct {
	EventID        string
	RegistrationID string
	IssuedAt       time.Time
}

// String renders the payload as eventID:registrationID:unixMillis.
func (s ScanPayload) String() string {
	return s.EventID + ":" + s.RegistrationID + ":" + strconv.FormatInt(s.IssuedAt.UnixMilli(), 10)
}
