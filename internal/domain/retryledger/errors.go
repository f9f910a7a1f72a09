package retryledger

import "errors"

// Sentinel errors for the retry ledger.
var (
	ErrInvalidInput   = errors.New("participant, event and order reference are required")
	ErrNotRetryable   = errors.New("payment not found or already processed")
	ErrRetryExhausted = errors.New("Maximum retry attempts exceeded. Please contact support.") //nolint:staticcheck // user-facing message
)
