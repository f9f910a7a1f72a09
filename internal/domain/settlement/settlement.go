// Package settlement turns a verified payment confirmation into confirmed
// registrations and tickets, exactly once per participant and event.
//
// The pipeline is: signature gate, payment claim, then a sequential
// per-member batch where each member's registration and ticket are written
// in one transaction. A member whose insert fails is counted and skipped;
// the batch carries on.
//
// The claim binds the gateway references to the event and member list
// before anything is written, so a payment can settle one team only, even
// when its lead was already registered or failed to insert.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/happenin/internal/adapters/repository"
	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/internal/domain/signature"
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
	"github.com/okian/happenin/pkg/metrics"
)

// Verifier checks gateway signatures.
type Verifier interface {
	Verify(orderRef, paymentRef, signature string) error
}

// TicketIssuer builds the ticket for a registration.
type TicketIssuer interface {
	Issue(reg model.Registration) (model.Ticket, error)
}

// Store is the subset of the repository the pipeline needs.
type Store interface {
	repository.EventReader
	repository.PaymentStore
	IsRegistered(ctx context.Context, participantEmail, eventID string) (bool, error)
	CreateRegistration(ctx context.Context, reg model.Registration, ticket model.Ticket) error
}

// RetrySettler closes open retry records of a participant for an event.
type RetrySettler interface {
	Settle(ctx context.Context, participant, eventID string) (int, error)
}

// Result summarizes one settlement.
type Result struct {
	Registered int
	Tickets    int
	Skipped    int
	Failed     int
	Duplicate  bool
	TicketIDs  []string
}

// Message is the human-readable summary returned to clients.
func (r Result) Message() string {
	switch {
	case r.Duplicate:
		return "Payment already processed"
	case r.Failed > 0:
		return fmt.Sprintf("Registered %d of %d members", r.Registered, r.Registered+r.Skipped+r.Failed)
	default:
		return "Payment verified and registration confirmed"
	}
}

// Service runs the settlement pipeline.
type Service struct {
	verifier Verifier
	store    Store
	issuer   TicketIssuer
	retries  RetrySettler
	clock    clock.Clock
	logger   logger.Logger
}

// New creates a settlement Service.
func New(verifier Verifier, store Store, issuer TicketIssuer, opts ...Option) *Service {
	s := &Service{
		verifier: verifier,
		store:    store,
		issuer:   issuer,
		clock:    clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("settlement")
	}
	return s
}

// ConfirmSingle settles a one-seat payment for participant. It is the
// bulk path with the participant as the only member.
func (s *Service) ConfirmSingle(ctx context.Context, conf model.PaymentConfirmation, participant model.Member) (Result, error) {
	conf.Members = []model.Member{participant}
	conf.TeamSize = 1
	return s.Confirm(ctx, conf)
}

// Confirm settles a payment confirmation. Re-delivering a confirmation that
// already settled returns a Duplicate result and writes nothing; the same
// references for another event or team return ErrPaymentAlreadyUsed.
func (s *Service) Confirm(ctx context.Context, conf model.PaymentConfirmation) (res Result, err error) {
	start := time.Now()
	defer func() { s.observe(res, err, start) }()

	if err := s.verifier.Verify(conf.GatewayOrderRef, conf.GatewayPaymentRef, conf.Signature); err != nil {
		if errors.Is(err, signature.ErrMismatch) {
			metrics.RecordSignatureRejection()
			s.logger.Warn(ctx, "payment signature rejected",
				logger.String("order_ref", conf.GatewayOrderRef),
				logger.String("event_id", conf.EventID))
		}
		return Result{}, err
	}

	conf, err = normalize(conf)
	if err != nil {
		return Result{}, err
	}

	event, err := s.store.GetEvent(ctx, conf.EventID)
	if errors.Is(err, repository.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %s", ErrEventNotFound, conf.EventID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load event: %w", err)
	}

	lead := conf.Lead()
	claim := s.newClaim(conf)
	settled, err := s.claim(ctx, claim)
	if err != nil {
		return Result{}, err
	}
	if settled {
		return Result{Duplicate: true}, nil
	}

	// The batch must not be cut short by a client disconnect: members written
	// before the cut would settle the claim and a retry would be a duplicate.
	res = s.registerMembers(context.WithoutCancel(ctx), conf, event)

	if res.Registered == 0 {
		// Skips only count as success when a concurrent delivery of this
		// same payment registered the members.
		if current, ferr := s.store.FindPayment(ctx, conf.GatewayOrderRef, conf.GatewayPaymentRef); ferr == nil && current.Settled() {
			return Result{Duplicate: true}, nil
		}
		return res, ErrNothingRegistered
	}

	if s.retries != nil {
		if _, err := s.retries.Settle(ctx, lead.Email, conf.EventID); err != nil {
			s.logger.Warn(ctx, "failed to settle retry records",
				logger.String("participant", lead.Email), logger.Error(err))
		}
	}
	return res, nil
}

// claim binds the payment to conf's event and team. It reports whether the
// payment already settled under the same binding; a claim that exists but
// registered nobody is resumed.
func (s *Service) claim(ctx context.Context, claim model.PaymentClaim) (bool, error) {
	existing, err := s.store.FindPayment(ctx, claim.OrderRef, claim.PaymentRef)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		err = s.store.ClaimPayment(ctx, claim)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return false, fmt.Errorf("claim payment: %w", err)
		}
		// Claimed concurrently; compare against the winner.
		if existing, err = s.store.FindPayment(ctx, claim.OrderRef, claim.PaymentRef); err != nil {
			return false, fmt.Errorf("idempotency lookup: %w", err)
		}
	default:
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}

	if !existing.SameBinding(claim) {
		s.logger.Warn(ctx, "payment references reused",
			logger.String("order_ref", claim.OrderRef),
			logger.String("event_id", claim.EventID),
			logger.String("claimed_event_id", existing.EventID))
		return false, ErrPaymentAlreadyUsed
	}
	return existing.Settled(), nil
}

func (s *Service) newClaim(conf model.PaymentConfirmation) model.PaymentClaim {
	members := make([]string, len(conf.Members))
	for i, m := range conf.Members {
		members[i] = m.Email
	}
	return model.PaymentClaim{
		OrderRef:   conf.GatewayOrderRef,
		PaymentRef: conf.GatewayPaymentRef,
		EventID:    conf.EventID,
		LeadEmail:  conf.Lead().Email,
		Members:    members,
		TeamSize:   conf.TeamSize,
		ClaimedAt:  s.clock.Now().UTC(),
	}
}

// registerMembers runs the sequential per-member batch.
func (s *Service) registerMembers(ctx context.Context, conf model.PaymentConfirmation, event model.Event) Result {
	var res Result
	liability := max(event.Price, 0) * int64(conf.TeamSize)

	for i, member := range conf.Members {
		log := s.logger.With(logger.String("participant", member.Email), logger.String("event_id", event.ID))

		registered, err := s.store.IsRegistered(ctx, member.Email, event.ID)
		if err != nil {
			res.Failed++
			metrics.RecordMemberFailure()
			log.Error(ctx, "registration lookup failed", logger.Error(err))
			continue
		}
		if registered {
			res.Skipped++
			metrics.RecordMemberSkipped()
			log.Info(ctx, "member already registered, skipping")
			continue
		}

		reg, err := s.newRegistration(conf, member, i == 0, liability)
		if err != nil {
			res.Failed++
			metrics.RecordMemberFailure()
			log.Error(ctx, "registration id generation failed", logger.Error(err))
			continue
		}
		ticket, err := s.issuer.Issue(reg)
		if err != nil {
			res.Failed++
			metrics.RecordMemberFailure()
			log.Error(ctx, "ticket issuance failed", logger.Error(err))
			continue
		}

		err = s.store.CreateRegistration(ctx, reg, ticket)
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			// Lost a race with a concurrent delivery of the same confirmation.
			res.Skipped++
			metrics.RecordMemberSkipped()
			log.Info(ctx, "member registered concurrently, skipping")
		case err != nil:
			res.Failed++
			metrics.RecordMemberFailure()
			log.Error(ctx, "registration insert failed", logger.Error(err))
		default:
			res.Registered++
			res.Tickets++
			res.TicketIDs = append(res.TicketIDs, ticket.ID)
			metrics.RecordRegistrationCreated()
			metrics.RecordTicketIssued()
		}
	}
	return res
}

func (s *Service) newRegistration(conf model.PaymentConfirmation, member model.Member, lead bool, liability int64) (model.Registration, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return model.Registration{}, err
	}
	reg := model.Registration{
		ID:               id.String(),
		ParticipantEmail: member.Email,
		ParticipantName:  member.FullName,
		EventID:          conf.EventID,
		ClaimOrderRef:    conf.GatewayOrderRef,
		Status:           model.RegistrationConfirmed,
		CreatedAt:        s.clock.Now().UTC(),
	}
	if lead {
		order, payment, sig := conf.GatewayOrderRef, conf.GatewayPaymentRef, conf.Signature
		reg.Liability = liability
		reg.GatewayOrderRef = &order
		reg.GatewayPaymentRef = &payment
		reg.Signature = &sig
	}
	return reg, nil
}

func (s *Service) observe(res Result, err error, start time.Time) {
	latency := float64(time.Since(start).Microseconds()) / 1000
	switch {
	case errors.Is(err, signature.ErrMismatch), errors.Is(err, signature.ErrMissingInput),
		errors.Is(err, ErrInvalidConfirmation), errors.Is(err, ErrPaymentAlreadyUsed),
		errors.Is(err, ErrEventNotFound):
		metrics.RecordSettlement(metrics.OutcomeRejected, latency)
	case err != nil:
		metrics.RecordSettlement(metrics.OutcomeFailed, latency)
	case res.Duplicate:
		metrics.RecordSettlement(metrics.OutcomeDuplicate, latency)
	case res.Failed > 0:
		metrics.RecordSettlement(metrics.OutcomePartial, latency)
	default:
		metrics.RecordSettlement(metrics.OutcomeSettled, latency)
	}
}

// normalize validates conf and canonicalizes member emails.
func normalize(conf model.PaymentConfirmation) (model.PaymentConfirmation, error) {
	if conf.EventID == "" {
		return conf, fmt.Errorf("%w: event id is required", ErrInvalidConfirmation)
	}
	if len(conf.Members) == 0 {
		return conf, fmt.Errorf("%w: at least one member is required", ErrInvalidConfirmation)
	}
	if conf.TeamSize < 1 {
		return conf, fmt.Errorf("%w: team size must be at least 1", ErrInvalidConfirmation)
	}
	if conf.TeamSize < len(conf.Members) {
		return conf, fmt.Errorf("%w: team size %d is smaller than %d members",
			ErrInvalidConfirmation, conf.TeamSize, len(conf.Members))
	}

	members := make([]model.Member, len(conf.Members))
	for i, m := range conf.Members {
		email := strings.ToLower(strings.TrimSpace(m.Email))
		if email == "" {
			return conf, fmt.Errorf("%w: member %d has no email", ErrInvalidConfirmation, i)
		}
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return conf, fmt.Errorf("%w: member %d has an invalid email", ErrInvalidConfirmation, i)
		}
		members[i] = model.Member{Email: email, FullName: strings.TrimSpace(m.FullName)}
	}
	conf.Members = members
	return conf, nil
}
