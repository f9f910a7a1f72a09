// Package service provides the core business service that wires the
// settlement components and implements the dependencies of the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/happenin/internal/adapters/http/api"
	"github.com/okian/happenin/internal/adapters/repository"
	"github.com/okian/happenin/internal/domain/analytics"
	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/internal/domain/retryledger"
	"github.com/okian/happenin/internal/domain/settlement"
	"github.com/okian/happenin/internal/domain/signature"
	"github.com/okian/happenin/internal/domain/ticketing"
	"github.com/okian/happenin/internal/domain/types"
	"github.com/okian/happenin/pkg/cache"
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
	"github.com/okian/happenin/pkg/metrics"
)

// ErrNotStarted is returned by operations that need a started service.
var ErrNotStarted = errors.New("service not started")

const analyticsCacheName = "analytics"

// Service owns the settlement store and every component built on it.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	ownsStore  bool
	ledger     *retryledger.Ledger
	settlement *settlement.Service
	analytics  *analytics.Service
	cache      *cache.Cache[types.Analytics]

	// Configuration
	databasePath     string
	gatewaySecret    string
	retryCeiling     int
	analyticsTTL     time.Duration
	staleWindow      time.Duration
	breakerThreshold int
	breakerReset     time.Duration
	slowCall         time.Duration
	clock            clock.Clock

	// State
	started   bool
	startedAt time.Time

	// Logging
	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		databasePath:     "happenin.db",
		retryCeiling:     model.DefaultRetryCeiling,
		analyticsTTL:     time.Minute,
		staleWindow:      2 * time.Minute,
		breakerThreshold: 10,
		breakerReset:     45 * time.Second,
		slowCall:         3 * time.Second,
		clock:            clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and wires the components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting settlement service...")

	if s.store == nil {
		store, err := repository.Open(ctx, s.databasePath)
		if err != nil {
			return fmt.Errorf("open settlement store: %w", err)
		}
		s.store = store
		s.ownsStore = true
	}
	if s.gatewaySecret == "" {
		s.logger.Warn(ctx, "gateway secret is empty; every settlement will be rejected as misconfigured")
	}

	s.ledger = retryledger.New(s.store,
		retryledger.WithCeiling(s.retryCeiling),
		retryledger.WithClock(s.clock),
		retryledger.WithLogger(s.logger.Named("retryledger")),
	)
	s.settlement = settlement.New(
		signature.NewVerifier(s.gatewaySecret),
		s.store,
		ticketing.NewIssuer(s.clock),
		settlement.WithClock(s.clock),
		settlement.WithLogger(s.logger.Named("settlement")),
		settlement.WithRetrySettler(s.ledger),
	)
	s.cache = cache.New[types.Analytics](analyticsCacheName,
		cache.WithClock(s.clock),
		cache.WithLogger(s.logger.Named("cache")),
		cache.WithTTL(s.analyticsTTL),
		cache.WithStaleWindow(s.staleWindow),
		cache.WithBreaker(s.breakerThreshold, s.breakerReset),
		cache.WithSlowCallThreshold(s.slowCall),
		cache.WithNonFailures(repository.ErrNotFound),
	)
	s.analytics = analytics.New(s.store, s.cache)

	s.started = true
	s.startedAt = s.clock.Now()
	s.logger.Info(ctx, "settlement service started",
		logger.String("database", s.databasePath),
		logger.Int("retryCeiling", s.retryCeiling),
		logger.Duration("analyticsTTL", s.analyticsTTL),
	)
	return nil
}

// Stop waits for background cache work and closes the store it opened.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping settlement service...")

	s.cache.Wait()
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Error(ctx, "failed to close settlement store", logger.Error(err))
		}
		s.store = nil
	}

	s.started = false
	s.logger.Info(ctx, "settlement service stopped")
}

// APIDependencies returns the handler dependencies backed by the service.
func (s *Service) APIDependencies() api.Dependencies {
	return api.Dependencies{
		Settlement: s,
		Retries:    s,
		Analytics:  s,
		Tickets:    s,
		Store:      s,
		Stats:      s,
	}
}

// Confirm settles a team payment.
func (s *Service) Confirm(ctx context.Context, conf model.PaymentConfirmation) (settlement.Result, error) {
	svc, err := s.settlementService()
	if err != nil {
		return settlement.Result{}, err
	}
	res, err := svc.Confirm(ctx, conf)
	if err == nil && res.Registered > 0 {
		s.analytics.Invalidate(conf.EventID)
	}
	return res, err
}

// ConfirmSingle settles a one-seat payment for participant.
func (s *Service) ConfirmSingle(ctx context.Context, conf model.PaymentConfirmation, participant model.Member) (settlement.Result, error) {
	svc, err := s.settlementService()
	if err != nil {
		return settlement.Result{}, err
	}
	res, err := svc.ConfirmSingle(ctx, conf, participant)
	if err == nil && res.Registered > 0 {
		s.analytics.Invalidate(conf.EventID)
	}
	return res, err
}

// RecordFailure records a failed payment attempt of participant.
func (s *Service) RecordFailure(ctx context.Context, participant, eventID, orderRef string) (model.RetryRecord, error) {
	if err := s.ready(); err != nil {
		return model.RetryRecord{}, err
	}
	return s.ledger.RecordFailure(ctx, participant, eventID, orderRef)
}

// Retry retries a failed payment attempt of participant.
func (s *Service) Retry(ctx context.Context, participant, recordID string) (model.RetryRecord, error) {
	if err := s.ready(); err != nil {
		return model.RetryRecord{}, err
	}
	return s.ledger.Retry(ctx, participant, recordID)
}

// ListFailed lists participant's failed payment attempts.
func (s *Service) ListFailed(ctx context.Context, participant string) ([]model.RetryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.ledger.ListFailed(ctx, participant)
}

// EventAnalytics returns the cached aggregate of an event.
func (s *Service) EventAnalytics(ctx context.Context, eventID string) (types.Analytics, cache.Result, error) {
	if err := s.ready(); err != nil {
		return types.Analytics{}, "", err
	}
	return s.analytics.EventAnalytics(ctx, eventID)
}

// GetTicket returns a ticket by id.
func (s *Service) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	if err := s.ready(); err != nil {
		return model.Ticket{}, err
	}
	return s.store.GetTicket(ctx, id)
}

// GetRegistration returns a registration by id.
func (s *Service) GetRegistration(ctx context.Context, id string) (model.Registration, error) {
	if err := s.ready(); err != nil {
		return model.Registration{}, err
	}
	return s.store.GetRegistration(ctx, id)
}

// TicketForRegistration returns the ticket issued for a registration.
func (s *Service) TicketForRegistration(ctx context.Context, registrationID string) (model.Ticket, error) {
	if err := s.ready(); err != nil {
		return model.Ticket{}, err
	}
	return s.store.TicketForRegistration(ctx, registrationID)
}

// SeedEvents writes catalog rows. The catalog is owned by event management.
func (s *Service) SeedEvents(ctx context.Context, events ...model.Event) error {
	if err := s.ready(); err != nil {
		return err
	}
	for _, ev := range events {
		if err := s.store.UpsertEvent(ctx, ev); err != nil {
			return fmt.Errorf("seed event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":      s.started,
		"retryCeiling": s.retryCeiling,
		"analyticsTTL": s.analyticsTTL.String(),
	}
	if s.started {
		entries := s.cache.Len()
		stats["uptime"] = s.clock.Now().Sub(s.startedAt).Round(time.Second).String()
		stats["analyticsCacheEntries"] = entries
		stats["analyticsBreaker"] = s.cache.BreakerState()
		metrics.UpdateCacheEntries(analyticsCacheName, entries)
	}
	return stats
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

func (s *Service) settlementService() (*settlement.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.settlement, nil
}
