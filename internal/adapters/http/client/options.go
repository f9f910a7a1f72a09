package client

import (
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithParticipantName sets the display name sent with requests.
func WithParticipantName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}
