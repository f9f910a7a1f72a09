package model

import "time"

// ActionKind names a user intent captured by the offline queue.
type ActionKind string

// The closed set of queueable intents.
const (
	ActionRegisterEvent ActionKind = "register-event"
	ActionSaveProfile   ActionKind = "save-profile"
	ActionAddMembership ActionKind = "add-membership"
)

// Valid reports whether k is one of the known kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionRegisterEvent, ActionSaveProfile, ActionAddMembership:
		return true
	}
	return false
}

// QueuedAction is a user intent persisted on the device until the server
// acknowledges it.
type QueuedAction struct {
	ID         string
	Kind       ActionKind
	Payload    []byte
	CreatedAt  time.Time
	RetryCount int
}

// RegistrationIntent is the payload of a register-event action: a payment
// confirmation captured while offline.
type RegistrationIntent struct {
	GatewayOrderRef   string   `cbor:"1,keyasint" json:"gateway_order_ref"`
	GatewayPaymentRef string   `cbor:"2,keyasint" json:"gateway_payment_ref"`
	Signature         string   `cbor:"3,keyasint" json:"signature"`
	EventID           string   `cbor:"4,keyasint" json:"event_id"`
	TeamSize          int      `cbor:"5,keyasint,omitempty" json:"team_size,omitempty"`
	Members           []Member `cbor:"6,keyasint,omitempty" json:"members,omitempty"`
}
