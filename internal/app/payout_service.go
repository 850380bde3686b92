package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bullionclear/clearing/internal/clock"
	"github.com/bullionclear/clearing/internal/domain"
	"github.com/bullionclear/clearing/internal/events"
	"github.com/bullionclear/clearing/internal/rail"
)

type PayoutRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindAttemptByKey(ctx context.Context, key string) (*domain.PayoutAttempt, error)
	FindLatestAttemptByCase(ctx context.Context, caseID string) (*domain.PayoutAttempt, error)
	CreateAttempt(ctx context.Context, attempt domain.PayoutAttempt) error
	UpdateAttemptStatus(ctx context.Context, attemptID string, status domain.AttemptStatus, externalID string) error
	FindFinality(ctx context.Context, caseID, railName string) (*domain.FinalityRecord, error)
	RecordFinality(ctx context.Context, rec domain.FinalityRecord) error
}

const actionSellerPayout = "seller_payout"
const actionFallbackPayout = "seller_payout_fallback"

// PayoutService routes money movement through an external rail exactly
// once per settlement. Rails are not atomic with the caller: a request
// can fail locally while the money has actually moved, so "did it
// happen" is unknown until proven, never assumed.
type PayoutService struct {
	repo       PayoutRepository
	settlement *SettlementService
	ledger     *LedgerService
	primary    rail.Rail
	secondary  rail.Rail
	publisher  events.Publisher
	clock      clock.Clock
	logger     *zap.Logger
}

func NewPayoutService(repo PayoutRepository, settlement *SettlementService, primary rail.Rail, publisher events.Publisher, clk clock.Clock, logger *zap.Logger, opts ...PayoutOption) *PayoutService {
	svc := &PayoutService{
		repo:       repo,
		settlement: settlement,
		primary:    primary,
		publisher:  publisher,
		clock:      clk,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type PayoutOption func(*PayoutService)

// WithSecondaryRail enables dual-rail failover. The secondary is used
// only when the primary's failure is definitively confirmed.
func WithSecondaryRail(r rail.Rail) PayoutOption {
	return func(s *PayoutService) {
		s.secondary = r
	}
}

// WithLedger makes a confirmed settlement post its dvp_executed journal
// and release escrow as part of resolution.
func WithLedger(ledger *LedgerService) PayoutOption {
	return func(s *PayoutService) {
		s.ledger = ledger
	}
}

type RoutePayoutInput struct {
	SettlementCaseID string
	PayeeID          string
	AmountCents      int64
	FeeCents         int64
	IdempotencyKey   string
}

type RoutePayoutResult struct {
	Attempt     domain.PayoutAttempt
	ExternalIDs []string
	Rail        string
}

// RoutePayout executes the settlement payout. Replays refuse with
// ErrIdempotencyConflict rather than silently no-opping, because the
// caller must know a transfer may already be in flight. Nothing here
// auto-retries; retries are the caller's responsibility and must reuse
// the same idempotency key.
func (s *PayoutService) RoutePayout(ctx context.Context, in RoutePayoutInput) (RoutePayoutResult, error) {
	if in.AmountCents <= 0 {
		return RoutePayoutResult{}, domain.ErrInvalidAmount
	}

	sc, err := s.settlement.GetCase(ctx, in.SettlementCaseID)
	if err != nil {
		return RoutePayoutResult{}, err
	}
	if sc.Status == domain.CaseProcessingRail {
		return RoutePayoutResult{}, domain.ErrCaseMidFlight
	}
	if sc.Status != domain.CaseAuthorized {
		return RoutePayoutResult{}, domain.ErrInvalidTransition
	}

	key := in.IdempotencyKey
	if key == "" {
		key = DerivePayoutKey(in.SettlementCaseID, in.PayeeID, in.AmountCents, actionSellerPayout)
	}

	if err := s.refuseReplay(ctx, key, in.SettlementCaseID, s.primary.Name()); err != nil {
		return RoutePayoutResult{}, err
	}

	attempt := domain.PayoutAttempt{
		ID:               newID(),
		SettlementCaseID: in.SettlementCaseID,
		PayeeID:          in.PayeeID,
		AmountCents:      in.AmountCents,
		FeeCents:         in.FeeCents,
		Currency:         sc.Currency,
		Rail:             s.primary.Name(),
		IdempotencyKey:   key,
		Status:           domain.AttemptPending,
		AttemptCount:     1,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.CreateAttempt(ctx, attempt); err != nil {
		return RoutePayoutResult{}, err
	}
	if err := s.settlement.repo.UpdateStatus(ctx, in.SettlementCaseID, domain.CaseAuthorized, domain.CaseProcessingRail); err != nil {
		return RoutePayoutResult{}, err
	}

	result, err := s.execute(ctx, s.primary, attempt)
	if err == nil {
		return result, nil
	}

	if errors.Is(err, rail.ErrDeclined) {
		if s.secondary != nil {
			return s.failover(ctx, in, sc)
		}
		if terr := s.settlement.MarkFailed(ctx, in.SettlementCaseID, domain.CaseProcessingRail); terr != nil {
			s.logger.Error("mark failed after decline", zap.String("case_id", in.SettlementCaseID), zap.Error(terr))
		}
		return RoutePayoutResult{}, err
	}

	// Outcome unknown: park the case; an external finality check must
	// resolve it before anything else touches this settlement.
	if terr := s.settlement.MarkAmbiguous(ctx, in.SettlementCaseID, domain.CaseProcessingRail); terr != nil {
		s.logger.Error("mark ambiguous", zap.String("case_id", in.SettlementCaseID), zap.Error(terr))
	}
	return RoutePayoutResult{}, fmt.Errorf("%w: %v", domain.ErrPayoutAmbiguous, err)
}

// execute performs the external call and records the attempt outcome.
func (s *PayoutService) execute(ctx context.Context, r rail.Rail, attempt domain.PayoutAttempt) (RoutePayoutResult, error) {
	res, err := r.ExecutePayout(ctx, rail.PayoutRequest{
		SettlementCaseID: attempt.SettlementCaseID,
		PayeeID:          attempt.PayeeID,
		AmountCents:      attempt.AmountCents,
		FeeCents:         attempt.FeeCents,
		Currency:         attempt.Currency,
		IdempotencyKey:   attempt.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, rail.ErrDeclined) {
			if uerr := s.repo.UpdateAttemptStatus(ctx, attempt.ID, domain.AttemptFailed, ""); uerr != nil {
				s.logger.Error("record declined attempt", zap.String("attempt_id", attempt.ID), zap.Error(uerr))
			}
			return RoutePayoutResult{}, err
		}
		// Ambiguous local failure: mark the attempt submitted with no
		// external id so replays refuse until finality is known.
		if uerr := s.repo.UpdateAttemptStatus(ctx, attempt.ID, domain.AttemptSubmitted, ""); uerr != nil {
			s.logger.Error("record ambiguous attempt", zap.String("attempt_id", attempt.ID), zap.Error(uerr))
		}
		return RoutePayoutResult{}, err
	}

	externalID := ""
	if len(res.ExternalIDs) > 0 {
		externalID = res.ExternalIDs[0]
	}
	if err := s.repo.UpdateAttemptStatus(ctx, attempt.ID, domain.AttemptSubmitted, externalID); err != nil {
		return RoutePayoutResult{}, err
	}
	if err := s.repo.RecordFinality(ctx, domain.FinalityRecord{
		ID:               newID(),
		SettlementCaseID: attempt.SettlementCaseID,
		Rail:             r.Name(),
		Status:           domain.FinalityPending,
		ExternalID:       externalID,
		RecordedAt:       s.clock.Now(),
	}); err != nil {
		return RoutePayoutResult{}, err
	}

	s.logger.Info("payout submitted",
		zap.String("case_id", attempt.SettlementCaseID),
		zap.String("rail", r.Name()),
		zap.String("external_id", externalID),
		zap.Int64("amount_cents", attempt.AmountCents),
	)
	s.publishEvent(ctx, events.Event{
		Type:             events.TypePayoutSubmitted,
		SettlementCaseID: attempt.SettlementCaseID,
		Payload: map[string]any{
			"rail":         r.Name(),
			"external_id":  externalID,
			"amount_cents": attempt.AmountCents,
		},
		OccurredAt: s.clock.Now(),
	})

	attempt.Status = domain.AttemptSubmitted
	attempt.ExternalTransferID = externalID
	return RoutePayoutResult{Attempt: attempt, ExternalIDs: res.ExternalIDs, Rail: r.Name()}, nil
}

// failover routes to the secondary rail, but only after proving the
// primary definitively failed: the latest primary attempt must be
// recorded failed and no pending/completed finality may exist for the
// primary. Anything less than confirmed failure blocks failover.
func (s *PayoutService) failover(ctx context.Context, in RoutePayoutInput, sc domain.SettlementCase) (RoutePayoutResult, error) {
	latest, err := s.repo.FindLatestAttemptByCase(ctx, in.SettlementCaseID)
	if err != nil {
		return RoutePayoutResult{}, err
	}
	finality, err := s.repo.FindFinality(ctx, in.SettlementCaseID, s.primary.Name())
	if err != nil {
		return RoutePayoutResult{}, err
	}
	confirmedFailed := latest != nil && latest.Status == domain.AttemptFailed &&
		(finality == nil || finality.Status == domain.FinalityFailed)
	if !confirmedFailed {
		if terr := s.settlement.MarkAmbiguous(ctx, in.SettlementCaseID, domain.CaseProcessingRail); terr != nil {
			s.logger.Error("mark ambiguous before failover", zap.String("case_id", in.SettlementCaseID), zap.Error(terr))
		}
		return RoutePayoutResult{}, fmt.Errorf("refusing failover without confirmed primary failure: %w", rail.ErrDeclined)
	}

	key := DerivePayoutKey(in.SettlementCaseID, in.PayeeID, in.AmountCents, actionFallbackPayout)
	if err := s.refuseReplay(ctx, key, in.SettlementCaseID, s.secondary.Name()); err != nil {
		return RoutePayoutResult{}, err
	}

	attempt := domain.PayoutAttempt{
		ID:               newID(),
		SettlementCaseID: in.SettlementCaseID,
		PayeeID:          in.PayeeID,
		AmountCents:      in.AmountCents,
		FeeCents:         in.FeeCents,
		Currency:         sc.Currency,
		Rail:             s.secondary.Name(),
		IdempotencyKey:   key,
		Status:           domain.AttemptPending,
		AttemptCount:     1,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.CreateAttempt(ctx, attempt); err != nil {
		return RoutePayoutResult{}, err
	}

	s.logger.Warn("failing over to secondary rail",
		zap.String("case_id", in.SettlementCaseID),
		zap.String("rail", s.secondary.Name()),
	)

	result, err := s.execute(ctx, s.secondary, attempt)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, rail.ErrDeclined) {
		if terr := s.settlement.MarkFailed(ctx, in.SettlementCaseID, domain.CaseProcessingRail); terr != nil {
			s.logger.Error("mark failed after secondary decline", zap.String("case_id", in.SettlementCaseID), zap.Error(terr))
		}
		return RoutePayoutResult{}, err
	}
	if terr := s.settlement.MarkAmbiguous(ctx, in.SettlementCaseID, domain.CaseProcessingRail); terr != nil {
		s.logger.Error("mark ambiguous on secondary", zap.String("case_id", in.SettlementCaseID), zap.Error(terr))
	}
	return RoutePayoutResult{}, fmt.Errorf("%w on secondary rail: %v", domain.ErrPayoutAmbiguous, err)
}

// refuseReplay enforces steps 1 and 2 of the routing algorithm: any
// prior submitted/completed attempt for the key, or pending/completed
// finality for the settlement on the target rail, is a hard stop.
func (s *PayoutService) refuseReplay(ctx context.Context, key, caseID, railName string) error {
	prior, err := s.repo.FindAttemptByKey(ctx, key)
	if err != nil {
		return err
	}
	if prior != nil && (prior.Status == domain.AttemptSubmitted || prior.Status == domain.AttemptCompleted) {
		return domain.ErrIdempotencyConflict
	}

	finality, err := s.repo.FindFinality(ctx, caseID, railName)
	if err != nil {
		return err
	}
	if finality != nil && (finality.Status == domain.FinalityPending || finality.Status == domain.FinalityCompleted) {
		return domain.ErrIdempotencyConflict
	}
	return nil
}

// ResolveCase consults the rail's finality endpoint for a case stuck in
// processing_rail or ambiguous_state and finalizes it when the verdict
// is definitive. UNKNOWN leaves the case untouched.
func (s *PayoutService) ResolveCase(ctx context.Context, caseID string) (rail.Verdict, error) {
	sc, err := s.settlement.GetCase(ctx, caseID)
	if err != nil {
		return rail.Unknown, err
	}
	if sc.Status != domain.CaseProcessingRail && sc.Status != domain.CaseAmbiguous {
		return rail.Unknown, domain.ErrInvalidTransition
	}

	attempt, err := s.repo.FindLatestAttemptByCase(ctx, caseID)
	if err != nil {
		return rail.Unknown, err
	}
	if attempt == nil {
		return rail.Unknown, domain.ErrCaseNotFound
	}

	r := s.primary
	if s.secondary != nil && attempt.Rail == s.secondary.Name() {
		r = s.secondary
	}

	verdict, err := r.CheckFinality(ctx, attempt.ExternalTransferID)
	if err != nil {
		return rail.Unknown, err
	}

	switch verdict {
	case rail.ConfirmedSuccess:
		if err := s.repo.UpdateAttemptStatus(ctx, attempt.ID, domain.AttemptCompleted, attempt.ExternalTransferID); err != nil {
			return verdict, err
		}
		if err := s.repo.RecordFinality(ctx, domain.FinalityRecord{
			ID:               newID(),
			SettlementCaseID: caseID,
			Rail:             attempt.Rail,
			Status:           domain.FinalityCompleted,
			ExternalID:       attempt.ExternalTransferID,
			RecordedAt:       s.clock.Now(),
		}); err != nil {
			return verdict, err
		}
		if err := s.settlement.MarkSettled(ctx, caseID, sc.Status); err != nil {
			return verdict, err
		}
		if s.ledger != nil {
			settled, err := s.settlement.GetCase(ctx, caseID)
			if err != nil {
				return verdict, err
			}
			if _, err := s.ledger.PostDvPJournal(ctx, settled, attempt.FeeCents); err != nil {
				return verdict, err
			}
			if err := s.settlement.ReleaseEscrow(ctx, caseID); err != nil {
				return verdict, err
			}
		}
	case rail.ConfirmedFailed:
		if err := s.repo.UpdateAttemptStatus(ctx, attempt.ID, domain.AttemptFailed, attempt.ExternalTransferID); err != nil {
			return verdict, err
		}
		if err := s.repo.RecordFinality(ctx, domain.FinalityRecord{
			ID:               newID(),
			SettlementCaseID: caseID,
			Rail:             attempt.Rail,
			Status:           domain.FinalityFailed,
			ExternalID:       attempt.ExternalTransferID,
			RecordedAt:       s.clock.Now(),
		}); err != nil {
			return verdict, err
		}
		if err := s.settlement.MarkFailed(ctx, caseID, sc.Status); err != nil {
			return verdict, err
		}
	}
	return verdict, nil
}

func (s *PayoutService) publishEvent(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("type", event.Type),
			zap.String("case_id", event.SettlementCaseID),
			zap.Error(err),
		)
	}
}
