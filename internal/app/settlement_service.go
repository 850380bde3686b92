package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/bullionclear/clearing/internal/clock"
	"github.com/bullionclear/clearing/internal/domain"
	"github.com/bullionclear/clearing/internal/events"
)

type SettlementRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateCase(ctx context.Context, sc domain.SettlementCase) error
	GetCase(ctx context.Context, caseID string) (domain.SettlementCase, error)
	GetCaseByOrderID(ctx context.Context, orderID string) (*domain.SettlementCase, error)
	// UpdateStatus performs the conditional write `SET status = to WHERE
	// id = ? AND status = from`. Zero rows affected means a concurrent
	// actor changed the case and must surface as ErrStatusConflict.
	UpdateStatus(ctx context.Context, caseID string, from, to domain.CaseStatus) error
	SetGate(ctx context.Context, caseID string, gate domain.Gate) error
	SetEscrowReleased(ctx context.Context, caseID string) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
}

// SettlementService advances settlement cases through the guarded state
// machine. Every transition is a compare-and-swap on the current status;
// callers that lose a race refetch and retry the logical operation.
type SettlementService struct {
	repo      SettlementRepository
	publisher events.Publisher
	clock     clock.Clock
	logger    *zap.Logger
}

func NewSettlementService(repo SettlementRepository, publisher events.Publisher, clk clock.Clock, logger *zap.Logger) *SettlementService {
	return &SettlementService{
		repo:      repo,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

type OpenCaseInput struct {
	Order   domain.Order
	Rail    string
	Capital domain.CapitalSnapshot
}

// OpenCase accepts an order for clearing. Idempotent per order: a second
// open returns the existing case.
func (s *SettlementService) OpenCase(ctx context.Context, in OpenCaseInput) (domain.SettlementCase, error) {
	now := s.clock.Now()
	var result domain.SettlementCase

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if existing, err := s.repo.GetCaseByOrderID(txCtx, in.Order.ID); err != nil {
			return err
		} else if existing != nil {
			result = *existing
			return nil
		}

		sc := domain.SettlementCase{
			ID:               newID(),
			OrderID:          in.Order.ID,
			ListingID:        in.Order.ListingID,
			BuyerID:          in.Order.BuyerID,
			SellerID:         in.Order.SellerID,
			Rail:             in.Rail,
			WeightGrams:      in.Order.WeightGrams,
			LockedPriceCents: in.Order.PricePerGramCents,
			NotionalCents:    in.Order.NotionalCents,
			Currency:         in.Order.Currency,
			Status:           domain.CaseEscrowOpen,
			CapitalSnapshot:  in.Capital,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		sc.IdempotencyKey = DerivePayoutKey(sc.ID, sc.SellerID, sc.NotionalCents, "seller_payout")

		// The asset was allocated at checkout; the case opens with that
		// gate already satisfied.
		sc.AssetAllocated = true

		if err := s.repo.CreateCase(txCtx, sc); err != nil {
			if err == domain.ErrIdempotencyConflict {
				existing, rerr := s.repo.GetCaseByOrderID(txCtx, in.Order.ID)
				if rerr != nil {
					return rerr
				}
				if existing != nil {
					result = *existing
					return nil
				}
			}
			return err
		}
		if err := s.repo.UpdateOrderStatus(txCtx, in.Order.ID, domain.OrderSettling); err != nil {
			return err
		}

		result = sc
		return nil
	})
	if err != nil {
		return domain.SettlementCase{}, err
	}
	return result, nil
}

// ConfirmGate marks one of the three settlement gates satisfied and, when
// all three hold, advances the case to ready_to_settle.
func (s *SettlementService) ConfirmGate(ctx context.Context, caseID string, gate domain.Gate) (domain.SettlementCase, error) {
	var result domain.SettlementCase

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		sc, err := s.repo.GetCase(txCtx, caseID)
		if err != nil {
			return err
		}
		if sc.Status == domain.CaseProcessingRail {
			return domain.ErrCaseMidFlight
		}
		if sc.Status.Terminal() || sc.Status == domain.CaseSettled {
			return domain.ErrInvalidTransition
		}

		if err := s.repo.SetGate(txCtx, caseID, gate); err != nil {
			return err
		}
		sc = sc.GateSet(gate)

		if sc.GatesSatisfied() && sc.Status != domain.CaseReadyToSettle &&
			sc.Status != domain.CaseAuthorized {
			if !domain.CanTransition(sc.Status, domain.CaseReadyToSettle) {
				return domain.ErrInvalidTransition
			}
			if err := s.repo.UpdateStatus(txCtx, caseID, sc.Status, domain.CaseReadyToSettle); err != nil {
				return err
			}
			sc.Status = domain.CaseReadyToSettle
		}

		result = sc
		return nil
	})
	if err != nil {
		return domain.SettlementCase{}, err
	}
	return result, nil
}

// Authorize moves a ready case to authorized. All three gates must hold
// simultaneously at the moment of authorization.
func (s *SettlementService) Authorize(ctx context.Context, caseID string) (domain.SettlementCase, error) {
	var result domain.SettlementCase

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		sc, err := s.repo.GetCase(txCtx, caseID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(sc.Status, domain.CaseAuthorized) {
			return domain.ErrInvalidTransition
		}
		if !sc.GatesSatisfied() {
			return domain.ErrGatesNotSatisfied
		}
		if err := s.repo.UpdateStatus(txCtx, caseID, sc.Status, domain.CaseAuthorized); err != nil {
			return err
		}
		sc.Status = domain.CaseAuthorized
		result = sc
		return nil
	})
	if err != nil {
		return domain.SettlementCase{}, err
	}

	s.logger.Info("settlement authorized", zap.String("case_id", caseID))
	return result, nil
}

// Cancel abandons a case that has not begun money movement.
func (s *SettlementService) Cancel(ctx context.Context, caseID string) error {
	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		sc, err := s.repo.GetCase(txCtx, caseID)
		if err != nil {
			return err
		}
		if sc.Status == domain.CaseProcessingRail {
			// Cancellation of in-flight money movement is never inferred locally.
			return domain.ErrCaseMidFlight
		}
		if !domain.CanTransition(sc.Status, domain.CaseCancelled) {
			return domain.ErrInvalidTransition
		}
		if err := s.repo.UpdateStatus(txCtx, caseID, sc.Status, domain.CaseCancelled); err != nil {
			return err
		}
		return s.repo.UpdateOrderStatus(txCtx, sc.OrderID, domain.OrderCancelled)
	})
}

// MarkAmbiguous parks a case whose rail call outcome is unknown. It is
// resolved by ResolveAmbiguous, never by blind retry.
func (s *SettlementService) MarkAmbiguous(ctx context.Context, caseID string, from domain.CaseStatus) error {
	if !domain.CanTransition(from, domain.CaseAmbiguous) {
		return domain.ErrInvalidTransition
	}
	if err := s.repo.UpdateStatus(ctx, caseID, from, domain.CaseAmbiguous); err != nil {
		return err
	}
	s.logger.Warn("settlement ambiguous", zap.String("case_id", caseID))
	s.publish(ctx, events.Event{
		Type:             events.TypeSettlementAmbiguous,
		SettlementCaseID: caseID,
		OccurredAt:       s.clock.Now(),
	})
	return nil
}

// MarkSettled finalizes a case whose money movement is confirmed.
func (s *SettlementService) MarkSettled(ctx context.Context, caseID string, from domain.CaseStatus) error {
	if !domain.CanTransition(from, domain.CaseSettled) {
		return domain.ErrInvalidTransition
	}
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		sc, err := s.repo.GetCase(txCtx, caseID)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(txCtx, caseID, from, domain.CaseSettled); err != nil {
			return err
		}
		return s.repo.UpdateOrderStatus(txCtx, sc.OrderID, domain.OrderSettled)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.Event{
		Type:             events.TypeSettlementSettled,
		SettlementCaseID: caseID,
		OccurredAt:       s.clock.Now(),
	})
	return nil
}

// MarkFailed records a definitively failed settlement.
func (s *SettlementService) MarkFailed(ctx context.Context, caseID string, from domain.CaseStatus) error {
	if !domain.CanTransition(from, domain.CaseFailed) {
		return domain.ErrInvalidTransition
	}
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		sc, err := s.repo.GetCase(txCtx, caseID)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(txCtx, caseID, from, domain.CaseFailed); err != nil {
			return err
		}
		return s.repo.UpdateOrderStatus(txCtx, sc.OrderID, domain.OrderFailed)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.Event{
		Type:             events.TypeSettlementFailed,
		SettlementCaseID: caseID,
		OccurredAt:       s.clock.Now(),
	})
	return nil
}

// ReleaseEscrow flags the escrow as released for a settled case. The
// certificate issuer requires this before issuing.
func (s *SettlementService) ReleaseEscrow(ctx context.Context, caseID string) error {
	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		sc, err := s.repo.GetCase(txCtx, caseID)
		if err != nil {
			return err
		}
		if sc.Status != domain.CaseSettled {
			return domain.ErrNotSettled
		}
		return s.repo.SetEscrowReleased(txCtx, caseID)
	})
}

func (s *SettlementService) GetCase(ctx context.Context, caseID string) (domain.SettlementCase, error) {
	return s.repo.GetCase(ctx, caseID)
}

func (s *SettlementService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

func (s *SettlementService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("type", event.Type),
			zap.String("case_id", event.SettlementCaseID),
			zap.Error(err),
		)
	}
}
