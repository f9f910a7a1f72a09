// Package ticketing issues tickets for confirmed registrations and encodes
// their scan payloads.
package ticketing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/pkg/clock"
)

// TicketPrefix marks ticket identifiers.
const TicketPrefix = "TKT-"

const (
	minQRSize = 64
	maxQRSize = 1024
)

// Issuer builds tickets. It does not persist them; the store writes the
// ticket in the same transaction as its registration.
type Issuer struct {
	clock clock.Clock
}

// NewIssuer returns an Issuer stamping tickets with clk.
func NewIssuer(clk clock.Clock) *Issuer {
	if clk == nil {
		clk = clock.Real()
	}
	return &Issuer{clock: clk}
}

// NewTicketID returns a platform-unique ticket id: a time-ordered UUIDv7
// (48-bit millisecond timestamp plus 74 random bits).
func NewTicketID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("ticket id: %w", err)
	}
	return TicketPrefix + id.String(), nil
}

// Issue builds the active ticket for reg.
func (i *Issuer) Issue(reg model.Registration) (model.Ticket, error) {
	id, err := NewTicketID()
	if err != nil {
		return model.Ticket{}, err
	}
	now := i.clock.Now().UTC()
	payload := model.ScanPayload{EventID: reg.EventID, RegistrationID: reg.ID, IssuedAt: now}
	return model.Ticket{
		ID:               id,
		RegistrationID:   reg.ID,
		EventID:          reg.EventID,
		ParticipantEmail: reg.ParticipantEmail,
		ScanPayload:      payload.String(),
		Status:           model.TicketActive,
		IssuedAt:         now,
	}, nil
}

// ParseScanPayload decodes eventID:registrationID:unixMillis. The event id
// may itself contain colons; the last two fields never do.
func ParseScanPayload(s string) (model.ScanPayload, error) {
	last := strings.LastIndexByte(s, ':')
	if last <= 0 {
		return model.ScanPayload{}, fmt.Errorf("%w: %q", ErrInvalidPayload, s)
	}
	mid := strings.LastIndexByte(s[:last], ':')
	if mid <= 0 {
		return model.ScanPayload{}, fmt.Errorf("%w: %q", ErrInvalidPayload, s)
	}
	eventID, regID, millis := s[:mid], s[mid+1:last], s[last+1:]
	if regID == "" {
		return model.ScanPayload{}, fmt.Errorf("%w: empty registration id", ErrInvalidPayload)
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil || ms < 0 {
		return model.ScanPayload{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidPayload, millis)
	}
	return model.ScanPayload{EventID: eventID, RegistrationID: regID, IssuedAt: time.UnixMilli(ms).UTC()}, nil
}

// RenderQR encodes payload as a PNG QR code of size x size pixels.
func RenderQR(payload string, size int) ([]byte, error) {
	if size < minQRSize || size > maxQRSize {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidSize, size, minQRSize, maxQRSize)
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
