package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bullionclear/clearing/internal/clock"
	"github.com/bullionclear/clearing/internal/domain"
	"github.com/bullionclear/clearing/internal/pricing"
)

type CheckoutRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetListingForUpdate(ctx context.Context, listingID string) (domain.Listing, error)
	GetPosition(ctx context.Context, listingID string) (domain.InventoryPosition, error)
	UpdatePosition(ctx context.Context, pos domain.InventoryPosition) error
	FindReservationByIdempotencyKey(ctx context.Context, listingID, buyerID, key string) (*domain.Reservation, error)
	GetReservationForUpdate(ctx context.Context, reservationID string) (domain.Reservation, error)
	CreateReservation(ctx context.Context, res domain.Reservation) error
	UpdateReservationState(ctx context.Context, reservationID string, from, to domain.ReservationState) error
	ListExpiredActiveReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrderByReservationID(ctx context.Context, reservationID string) (*domain.Order, error)
}

// PolicyEvaluator is the external compliance collaborator. It returns the
// full snapshot even when the request should be rejected.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, in PolicyInput) (domain.PolicySnapshot, error)
}

type PolicyInput struct {
	ListingID     string
	BuyerID       string
	SellerID      string
	WeightGrams   int64
	NotionalCents int64
}

type CheckoutService struct {
	repo   CheckoutRepository
	oracle pricing.Oracle
	policy PolicyEvaluator
	clock  clock.Clock
	logger *zap.Logger

	reservationTTL time.Duration
}

const defaultReservationTTL = 15 * time.Minute

func NewCheckoutService(repo CheckoutRepository, oracle pricing.Oracle, policy PolicyEvaluator, clk clock.Clock, logger *zap.Logger, opts ...CheckoutOption) *CheckoutService {
	svc := &CheckoutService{
		repo:           repo,
		oracle:         oracle,
		policy:         policy,
		clock:          clk,
		logger:         logger,
		reservationTTL: defaultReservationTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CheckoutOption func(*CheckoutService)

// WithReservationTTL overrides the default TTL for two-phase holds.
func WithReservationTTL(d time.Duration) CheckoutOption {
	return func(s *CheckoutService) {
		if d > 0 {
			s.reservationTTL = d
		}
	}
}

type CheckoutInput struct {
	ListingID      string
	BuyerID        string
	WeightGrams    int64
	IdempotencyKey string
}

type CheckoutResult struct {
	Position    domain.InventoryPosition
	Reservation domain.Reservation
	Order       domain.Order
	Created     bool
}

// ExecuteCheckout is the canonical checkout path: one transaction that
// validates the listing, prices the order server-side, evaluates policy,
// moves weight straight from available to allocated, and creates the
// reservation (already converted) plus the order. No partial outcome is
// observable; any precondition failure leaves state untouched.
func (s *CheckoutService) ExecuteCheckout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	if in.WeightGrams <= 0 {
		return CheckoutResult{}, domain.ErrInvalidWeight
	}
	if in.IdempotencyKey == "" {
		return CheckoutResult{}, domain.ErrIdempotencyKeyRequired
	}

	now := s.clock.Now()
	var result CheckoutResult

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if existing, err := s.replay(txCtx, in); err != nil {
			return err
		} else if existing != nil {
			result = *existing
			return nil
		}

		listing, err := s.repo.GetListingForUpdate(txCtx, in.ListingID)
		if err != nil {
			return err
		}
		if listing.Suspended {
			return domain.ErrListingSuspended
		}

		quote, err := s.oracle.SpotQuote(txCtx, listing.Currency)
		if err != nil {
			return err
		}
		pricePerGram := quote.PricePerGramCents + listing.PremiumPerGramCents
		notional := domain.Notional(in.WeightGrams, quote.PricePerGramCents, listing.PremiumPerGramCents)

		snapshot, err := s.policy.Evaluate(txCtx, PolicyInput{
			ListingID:     listing.ID,
			BuyerID:       in.BuyerID,
			SellerID:      listing.SellerID,
			WeightGrams:   in.WeightGrams,
			NotionalCents: notional,
		})
		if err != nil {
			return err
		}
		if snapshot.HasBlocking() {
			return domain.ErrPolicyBlocked
		}

		pos, err := s.repo.GetPosition(txCtx, in.ListingID)
		if err != nil {
			return err
		}
		if err := pos.Validate(); err != nil {
			return err
		}
		if err := pos.LockAllocated(in.WeightGrams); err != nil {
			return err
		}
		pos.UpdatedAt = now
		if err := s.repo.UpdatePosition(txCtx, pos); err != nil {
			return err
		}

		res := domain.Reservation{
			ID:                      newID(),
			ListingID:               listing.ID,
			BuyerID:                 in.BuyerID,
			WeightGrams:             in.WeightGrams,
			LockedPricePerGramCents: pricePerGram,
			State:                   domain.ReservationConverted,
			ExpiresAt:               now,
			IdempotencyKey:          in.IdempotencyKey,
			CreatedAt:               now,
		}
		if err := s.repo.CreateReservation(txCtx, res); err != nil {
			// Re-read on conflict to keep idempotent retries consistent under concurrency.
			if err == domain.ErrIdempotencyConflict {
				if existing, rerr := s.replay(txCtx, in); rerr == nil && existing != nil {
					result = *existing
					return nil
				}
			}
			return err
		}

		order := domain.Order{
			ID:                newID(),
			ListingID:         listing.ID,
			ReservationID:     res.ID,
			BuyerID:           in.BuyerID,
			SellerID:          listing.SellerID,
			WeightGrams:       in.WeightGrams,
			PricePerGramCents: pricePerGram,
			NotionalCents:     notional,
			Currency:          listing.Currency,
			PolicySnapshot:    snapshot,
			Status:            domain.OrderPendingSettlement,
			CreatedAt:         now,
		}
		if err := s.repo.CreateOrder(txCtx, order); err != nil {
			return err
		}

		result = CheckoutResult{Position: pos, Reservation: res, Order: order, Created: true}
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	if result.Created {
		s.logger.Info("checkout executed",
			zap.String("listing_id", in.ListingID),
			zap.String("order_id", result.Order.ID),
			zap.Int64("weight_grams", in.WeightGrams),
			zap.Int64("notional_cents", result.Order.NotionalCents),
		)
	}
	return result, nil
}

func (s *CheckoutService) replay(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	existing, err := s.repo.FindReservationByIdempotencyKey(ctx, in.ListingID, in.BuyerID, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if existing.WeightGrams != in.WeightGrams {
		return nil, domain.ErrIdempotencyConflict
	}
	order, err := s.repo.GetOrderByReservationID(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		// A two-phase hold with the same key but no order yet cannot be
		// replayed through the atomic path.
		return nil, domain.ErrIdempotencyConflict
	}
	pos, err := s.repo.GetPosition(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Position: pos, Reservation: *existing, Order: *order, Created: false}, nil
}

type ReserveInput struct {
	ListingID      string
	BuyerID        string
	WeightGrams    int64
	IdempotencyKey string
}

// ReserveInventory is the legacy hold-without-commit path, retained as an
// explicit opt-in for callers that need a hold window before committing.
func (s *CheckoutService) ReserveInventory(ctx context.Context, in ReserveInput) (domain.Reservation, error) {
	if in.WeightGrams <= 0 {
		return domain.Reservation{}, domain.ErrInvalidWeight
	}
	if in.IdempotencyKey == "" {
		return domain.Reservation{}, domain.ErrIdempotencyKeyRequired
	}

	now := s.clock.Now()
	var result domain.Reservation

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if existing, err := s.repo.FindReservationByIdempotencyKey(txCtx, in.ListingID, in.BuyerID, in.IdempotencyKey); err != nil {
			return err
		} else if existing != nil {
			if existing.WeightGrams != in.WeightGrams {
				return domain.ErrIdempotencyConflict
			}
			result = *existing
			return nil
		}

		listing, err := s.repo.GetListingForUpdate(txCtx, in.ListingID)
		if err != nil {
			return err
		}
		if listing.Suspended {
			return domain.ErrListingSuspended
		}

		quote, err := s.oracle.SpotQuote(txCtx, listing.Currency)
		if err != nil {
			return err
		}

		pos, err := s.repo.GetPosition(txCtx, in.ListingID)
		if err != nil {
			return err
		}
		if err := pos.Validate(); err != nil {
			return err
		}
		if err := pos.LockReserved(in.WeightGrams); err != nil {
			return err
		}
		pos.UpdatedAt = now
		if err := s.repo.UpdatePosition(txCtx, pos); err != nil {
			return err
		}

		res := domain.Reservation{
			ID:                      newID(),
			ListingID:               listing.ID,
			BuyerID:                 in.BuyerID,
			WeightGrams:             in.WeightGrams,
			LockedPricePerGramCents: quote.PricePerGramCents + listing.PremiumPerGramCents,
			State:                   domain.ReservationActive,
			ExpiresAt:               now.Add(s.reservationTTL),
			IdempotencyKey:          in.IdempotencyKey,
			CreatedAt:               now,
		}
		if err := s.repo.CreateReservation(txCtx, res); err != nil {
			return err
		}

		result = res
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return result, nil
}

// ConvertReservation turns an active hold into an order, reattributing
// the locked weight from reserved to allocated.
func (s *CheckoutService) ConvertReservation(ctx context.Context, reservationID, buyerID string) (CheckoutResult, error) {
	now := s.clock.Now()
	var result CheckoutResult

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		res, err := s.repo.GetReservationForUpdate(txCtx, reservationID)
		if err != nil {
			return err
		}
		if res.State == domain.ReservationConverted {
			order, err := s.repo.GetOrderByReservationID(txCtx, res.ID)
			if err != nil {
				return err
			}
			if order != nil && order.BuyerID == buyerID {
				result = CheckoutResult{Reservation: res, Order: *order, Created: false}
				return nil
			}
			return domain.ErrReservationNotActive
		}
		if res.State != domain.ReservationActive {
			return domain.ErrReservationNotActive
		}
		if !res.ExpiresAt.After(now) {
			return domain.ErrReservationExpired
		}

		listing, err := s.repo.GetListingForUpdate(txCtx, res.ListingID)
		if err != nil {
			return err
		}
		if listing.Suspended {
			return domain.ErrListingSuspended
		}

		notional := res.WeightGrams * res.LockedPricePerGramCents
		snapshot, err := s.policy.Evaluate(txCtx, PolicyInput{
			ListingID:     listing.ID,
			BuyerID:       buyerID,
			SellerID:      listing.SellerID,
			WeightGrams:   res.WeightGrams,
			NotionalCents: notional,
		})
		if err != nil {
			return err
		}
		if snapshot.HasBlocking() {
			return domain.ErrPolicyBlocked
		}

		pos, err := s.repo.GetPosition(txCtx, res.ListingID)
		if err != nil {
			return err
		}
		if err := pos.ConvertReserved(res.WeightGrams); err != nil {
			return err
		}
		pos.UpdatedAt = now
		if err := s.repo.UpdatePosition(txCtx, pos); err != nil {
			return err
		}

		if err := s.repo.UpdateReservationState(txCtx, res.ID, domain.ReservationActive, domain.ReservationConverted); err != nil {
			return err
		}
		res.State = domain.ReservationConverted

		order := domain.Order{
			ID:                newID(),
			ListingID:         listing.ID,
			ReservationID:     res.ID,
			BuyerID:           buyerID,
			SellerID:          listing.SellerID,
			WeightGrams:       res.WeightGrams,
			PricePerGramCents: res.LockedPricePerGramCents,
			NotionalCents:     notional,
			Currency:          listing.Currency,
			PolicySnapshot:    snapshot,
			Status:            domain.OrderPendingSettlement,
			CreatedAt:         now,
		}
		if err := s.repo.CreateOrder(txCtx, order); err != nil {
			return err
		}

		result = CheckoutResult{Position: pos, Reservation: res, Order: order, Created: true}
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	return result, nil
}

const sweepBatchSize = 100

// ExpireReservations sweeps active reservations past their deadline,
// releasing the locked weight back to available. This is the only path
// that produces expired reservations.
func (s *CheckoutService) ExpireReservations(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.repo.ListExpiredActiveReservations(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, res := range stale {
		err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
			// Zero rows means a concurrent convert won; skip quietly.
			if err := s.repo.UpdateReservationState(txCtx, res.ID, domain.ReservationActive, domain.ReservationExpired); err != nil {
				if err == domain.ErrVersionConflict || err == domain.ErrReservationNotActive {
					return nil
				}
				return err
			}
			pos, err := s.repo.GetPosition(txCtx, res.ListingID)
			if err != nil {
				return err
			}
			if err := pos.ReleaseReserved(res.WeightGrams); err != nil {
				return err
			}
			pos.UpdatedAt = now
			if err := s.repo.UpdatePosition(txCtx, pos); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			return expired, err
		}
	}

	if expired > 0 {
		s.logger.Info("reservations expired", zap.Int("count", expired))
	}
	return expired, nil
}
