package model

import (
	"slices"
	"time"
)

// PaymentClaim binds one gateway payment to the event and team it was first
// confirmed for. It is written before any registration so the payment stays
// bound even when its lead is skipped or fails to insert.
type PaymentClaim struct {
	OrderRef   string
	PaymentRef string
	EventID    string
	LeadEmail  string
	Members    []string // normalized emails, lead first
	TeamSize   int
	ClaimedAt  time.Time

	// Registrations counts the rows created under the claim. Read-only.
	Registrations int
}

// Settled reports whether any registration was created under the claim.
func (c PaymentClaim) Settled() bool {
	return c.Registrations > 0
}

// SameBinding reports whether other claims the same payment for the same
// event, team size and member list.
func (c PaymentClaim) SameBinding(other PaymentClaim) bool {
	return c.OrderRef == other.OrderRef &&
		c.PaymentRef == other.PaymentRef &&
		c.EventID == other.EventID &&
		c.LeadEmail == other.LeadEmail &&
		c.TeamSize == other.TeamSize &&
		slices.Equal(c.Members, other.Members)
}
