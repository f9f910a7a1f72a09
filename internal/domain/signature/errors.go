package signature

import "errors"

// Sentinel errors returned by the verification gate.
var (
	ErrMisconfigured = errors.New("gateway secret is not configured")
	ErrMissingInput  = errors.New("gateway reference or signature missing")
	ErrMismatch      = errors.New("payment could not be verified")
)
