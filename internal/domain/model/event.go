// Package model contains domain models passed between layers.
package model

import "time"

// Event is a read-only catalog row. The settlement pipeline only reads the
// price and title; event CRUD lives elsewhere.
type Event struct {
	ID       string
	Title    string
	Price    int64 // minor currency units per participant
	Date     time.Time
	Location string
}

// Member is one participant listed in a payment confirmation.
type Member struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// PaymentConfirmation is the transient claim a client makes after the
// gateway reports success. It is never stored as-is.
type PaymentConfirmation struct {
	GatewayOrderRef   string
	GatewayPaymentRef string
	Signature         string
	EventID           string
	TeamSize          int
	Members           []Member // index 0 is the lead
}

// Lead returns the paying member.
func (p PaymentConfirmation) Lead() Member {
	if len(p.Members) == 0 {
		return Member{}
	}
	return p.Members[0]
}
