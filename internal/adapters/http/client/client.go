// Package client is the device-side HTTP client of the settlement API. It
// delivers queued intents and classifies failures for the replayer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/happenin/internal/adapters/mq/offlinequeue"
	"github.com/okian/happenin/internal/adapters/mq/worker"
	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/pkg/retry"
)

// Identity headers understood by the server.
const (
	headerParticipantEmail = "X-Participant-Email"
	headerParticipantName  = "X-Participant-Name"
)

// Settlement is the server's answer to a payment confirmation.
type Settlement struct {
	Success       bool     `json:"success"`
	Duplicate     bool     `json:"duplicate"`
	Registrations int      `json:"registrations"`
	Tickets       int      `json:"tickets"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	TicketIDs     []string `json:"ticket_ids"`
	Message       string   `json:"message"`
}

// Client talks to one settlement server on behalf of one participant.
type Client struct {
	baseURL string
	email   string
	name    string
	http    *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL, participantEmail string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   strings.TrimSpace(participantEmail),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConfirmRegistration posts a captured payment confirmation. Intents with
// members go to the bulk route, others register the participant alone.
func (c *Client) ConfirmRegistration(ctx context.Context, intent model.RegistrationIntent) (Settlement, error) {
	path := "/payments/verify"
	if len(intent.Members) > 0 {
		path = "/payments/verify-bulk"
	}
	var out Settlement
	if err := c.post(ctx, path, intent, &out); err != nil {
		return Settlement{}, err
	}
	return out, nil
}

// RegisterEventHandler delivers register-event actions. Malformed payloads
// and client errors other than 408 and 429 are permanent; everything else
// is retried.
func (c *Client) RegisterEventHandler() worker.Handler {
	return func(ctx context.Context, action model.QueuedAction) error {
		intent, err := offlinequeue.DecodeRegistration(action)
		if err != nil {
			return retry.Permanent(err)
		}
		_, err = c.ConfirmRegistration(ctx, intent)
		return Classify(err)
	}
}

// Classify marks errors that a later attempt cannot fix as permanent.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrMissingParticipant) {
		return retry.Permanent(err)
	}
	var se *StatusError
	if errors.As(err, &se) && Permanent(se.StatusCode) {
		return retry.Permanent(err)
	}
	return err
}

// Permanent reports whether a response status will not change on retry.
func Permanent(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.email == "" {
		return ErrMissingParticipant
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerParticipantEmail, c.email)
	if c.name != "" {
		req.Header.Set(headerParticipantName, c.name)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil {
			se.Code, se.Message = body.Code, body.Message
		}
		return se
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
