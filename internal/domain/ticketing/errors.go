package ticketing

import "errors"

// Sentinel errors for ticket issuance and scanning.
var (
	ErrInvalidPayload = errors.New("invalid scan payload")
	ErrInvalidSize    = errors.New("invalid qr size")
)
