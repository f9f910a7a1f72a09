package client

import (
	"errors"
	"fmt"
)

// ErrMissingParticipant is returned when no participant identity is set.
var ErrMissingParticipant = errors.New("participant email is not configured")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server answered %d", e.StatusCode)
	}
	return fmt.Sprintf("server answered %d %s: %s", e.StatusCode, e.Code, e.Message)
}
