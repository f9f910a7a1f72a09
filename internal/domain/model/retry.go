package model

import "time"

// RetryStatus is the state of a failed payment attempt in the retry ledger.
type RetryStatus string

// Retry record states.
const (
	RetryFailed    RetryStatus = "failed"
	RetryPending   RetryStatus = "pending"
	RetrySettled   RetryStatus = "settled"
	RetryExhausted RetryStatus = "exhausted"
)

// DefaultRetryCeiling is the number of client retries allowed per record.
const DefaultRetryCeiling = 3

// RetryRecord tracks a failed payment attempt and how often the client has
// retried it.
type RetryRecord struct {
	ID               string      `json:"id"`
	ParticipantEmail string      `json:"participant_email"`
	EventID          string      `json:"event_id"`
	GatewayOrderRef  string      `json:"gateway_order_ref"`
	Status           RetryStatus `json:"status"`
	RetryCount       int         `json:"retry_count"`
	LastRetryAt      *time.Time  `json:"last_retry_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}
