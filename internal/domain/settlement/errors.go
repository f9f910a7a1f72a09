package settlement

import "errors"

// Sentinel errors returned by the settlement pipeline. Signature failures
// are returned as the signature package's errors.
var (
	ErrInvalidConfirmation = errors.New("invalid payment confirmation")
	ErrEventNotFound       = errors.New("event not found")
	ErrPaymentAlreadyUsed  = errors.New("payment already used")
	ErrNothingRegistered   = errors.New("no registrations were created")
)
