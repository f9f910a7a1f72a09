// Package retryledger tracks failed payment attempts and bounds how often a
// participant may retry each one.
package retryledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/happenin/internal/adapters/repository"
	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
	"github.com/okian/happenin/pkg/metrics"
)

// Retry request outcomes reported to metrics.
const (
	outcomeAccepted  = "accepted"
	outcomeExhausted = "exhausted"
	outcomeRejected  = "not_retryable"
)

// Ledger is the retry ledger service.
type Ledger struct {
	store   repository.RetryStore
	clock   clock.Clock
	logger  logger.Logger
	ceiling int
}

// New creates a Ledger over store.
func New(store repository.RetryStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		clock:   clock.Real(),
		ceiling: model.DefaultRetryCeiling,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.Named("retryledger")
	}
	return l
}

// Ceiling returns the configured retry ceiling.
func (l *Ledger) Ceiling() int { return l.ceiling }

// RecordFailure notes a failed payment attempt. A pending record for the
// same order (a retry that failed again) goes back to failed; otherwise a
// new failed record is created. Reporting an already failed order is a no-op.
func (l *Ledger) RecordFailure(ctx context.Context, participant, eventID, orderRef string) (model.RetryRecord, error) {
	participant = strings.ToLower(strings.TrimSpace(participant))
	if participant == "" || eventID == "" || orderRef == "" {
		return model.RetryRecord{}, ErrInvalidInput
	}

	existing, err := l.store.FindRetryByOrder(ctx, participant, orderRef)
	switch {
	case err == nil && existing.EventID == eventID:
		if existing.Status == model.RetryPending {
			if _, err := l.store.SetRetryStatus(ctx, existing.ID, model.RetryFailed, model.RetryPending); err != nil {
				return model.RetryRecord{}, fmt.Errorf("record failure: %w", err)
			}
			metrics.RecordRetryFailure()
			return l.store.GetRetryRecord(ctx, existing.ID)
		}
		return existing, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return model.RetryRecord{}, fmt.Errorf("record failure: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.RetryRecord{}, fmt.Errorf("record failure: %w", err)
	}
	rec := model.RetryRecord{
		ID:               id.String(),
		ParticipantEmail: participant,
		EventID:          eventID,
		GatewayOrderRef:  orderRef,
		Status:           model.RetryFailed,
		CreatedAt:        l.clock.Now().UTC(),
	}
	if err := l.store.CreateRetryRecord(ctx, rec); err != nil {
		return model.RetryRecord{}, fmt.Errorf("record failure: %w", err)
	}
	metrics.RecordRetryFailure()
	return rec, nil
}

// Retry marks a failed record pending and counts the attempt. At the
// ceiling the record becomes exhausted and ErrRetryExhausted is returned
// without incrementing.
func (l *Ledger) Retry(ctx context.Context, participant, recordID string) (model.RetryRecord, error) {
	participant = strings.ToLower(strings.TrimSpace(participant))

	rec, err := l.store.GetRetryRecord(ctx, recordID)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.RecordRetryRequest(outcomeRejected)
		return model.RetryRecord{}, ErrNotRetryable
	}
	if err != nil {
		return model.RetryRecord{}, fmt.Errorf("retry: %w", err)
	}
	if rec.ParticipantEmail != participant {
		metrics.RecordRetryRequest(outcomeRejected)
		return model.RetryRecord{}, ErrNotRetryable
	}

	switch rec.Status {
	case model.RetryExhausted:
		metrics.RecordRetryRequest(outcomeExhausted)
		return rec, ErrRetryExhausted
	case model.RetryFailed:
	default:
		metrics.RecordRetryRequest(outcomeRejected)
		return model.RetryRecord{}, ErrNotRetryable
	}

	if rec.RetryCount >= l.ceiling {
		return l.exhaust(ctx, rec)
	}

	applied, err := l.store.IncrementRetry(ctx, rec.ID, l.ceiling, l.clock.Now().UTC())
	if err != nil {
		return model.RetryRecord{}, fmt.Errorf("retry: %w", err)
	}
	updated, err := l.store.GetRetryRecord(ctx, rec.ID)
	if err != nil {
		return model.RetryRecord{}, fmt.Errorf("retry: %w", err)
	}
	if !applied {
		// Lost the compare-and-set to a concurrent retry.
		if updated.Status == model.RetryFailed && updated.RetryCount >= l.ceiling {
			return l.exhaust(ctx, updated)
		}
		metrics.RecordRetryRequest(outcomeRejected)
		return model.RetryRecord{}, ErrNotRetryable
	}

	metrics.RecordRetryRequest(outcomeAccepted)
	l.logger.Info(ctx, "payment retry initiated",
		logger.String("record_id", updated.ID),
		logger.Int("retry_count", updated.RetryCount))
	return updated, nil
}

func (l *Ledger) exhaust(ctx context.Context, rec model.RetryRecord) (model.RetryRecord, error) {
	if _, err := l.store.SetRetryStatus(ctx, rec.ID, model.RetryExhausted, model.RetryFailed); err != nil {
		return model.RetryRecord{}, fmt.Errorf("retry: %w", err)
	}
	rec.Status = model.RetryExhausted
	metrics.RecordRetryRequest(outcomeExhausted)
	l.logger.Warn(ctx, "retry ceiling reached",
		logger.String("record_id", rec.ID),
		logger.String("participant", rec.ParticipantEmail),
		logger.Int("retry_count", rec.RetryCount))
	return rec, ErrRetryExhausted
}

// ListFailed returns participant's failed records, newest first.
func (l *Ledger) ListFailed(ctx context.Context, participant string) ([]model.RetryRecord, error) {
	participant = strings.ToLower(strings.TrimSpace(participant))
	recs, err := l.store.ListRetryRecords(ctx, participant, model.RetryFailed)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	if recs == nil {
		recs = []model.RetryRecord{}
	}
	return recs, nil
}

// Settle closes participant's open records for event after a successful
// settlement.
func (l *Ledger) Settle(ctx context.Context, participant, eventID string) (int, error) {
	participant = strings.ToLower(strings.TrimSpace(participant))
	n, err := l.store.SettleRetryRecords(ctx, participant, eventID)
	if err != nil {
		return 0, fmt.Errorf("settle: %w", err)
	}
	return n, nil
}
