package offlinequeue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrNotFound    = errors.New("queued action not found")
	ErrUnknownKind = errors.New("unknown action kind")
	ErrClosed      = errors.New("queue is closed")
)
