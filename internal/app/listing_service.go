package app

import (
	"context"

	"github.com/bullionclear/clearing/internal/clock"
	"github.com/bullionclear/clearing/internal/domain"
)

type ListingRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateListing(ctx context.Context, listing domain.Listing) error
	CreatePosition(ctx context.Context, pos domain.InventoryPosition) error
	GetListing(ctx context.Context, listingID string) (domain.Listing, error)
	GetPosition(ctx context.Context, listingID string) (domain.InventoryPosition, error)
	SetSuspended(ctx context.Context, listingID string, suspended bool) error
}

type ListingService struct {
	repo  ListingRepository
	clock clock.Clock
}

func NewListingService(repo ListingRepository, clk clock.Clock) *ListingService {
	return &ListingService{repo: repo, clock: clk}
}

type PublishListingInput struct {
	SellerID            string
	Description         string
	TotalGrams          int64
	PremiumPerGramCents int64
	Currency            string
}

// PublishListing creates the listing and its inventory position as one
// unit; a listing never exists without a position.
func (s *ListingService) PublishListing(ctx context.Context, in PublishListingInput) (domain.Listing, domain.InventoryPosition, error) {
	if in.SellerID == "" {
		return domain.Listing{}, domain.InventoryPosition{}, domain.ErrInvalidID
	}
	if in.TotalGrams <= 0 {
		return domain.Listing{}, domain.InventoryPosition{}, domain.ErrInvalidWeight
	}
	if in.PremiumPerGramCents < 0 {
		return domain.Listing{}, domain.InventoryPosition{}, domain.ErrInvalidAmount
	}
	currency := in.Currency
	if currency == "" {
		currency = "usd"
	}

	now := s.clock.Now()
	listing := domain.Listing{
		ID:                  newID(),
		SellerID:            in.SellerID,
		Description:         in.Description,
		PremiumPerGramCents: in.PremiumPerGramCents,
		Currency:            currency,
		CreatedAt:           now,
	}
	pos := domain.NewInventoryPosition(listing.ID, in.TotalGrams, now)

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.CreateListing(txCtx, listing); err != nil {
			return err
		}
		return s.repo.CreatePosition(txCtx, pos)
	})
	if err != nil {
		return domain.Listing{}, domain.InventoryPosition{}, err
	}
	return listing, pos, nil
}

func (s *ListingService) GetListing(ctx context.Context, listingID string) (domain.Listing, domain.InventoryPosition, error) {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return domain.Listing{}, domain.InventoryPosition{}, err
	}
	pos, err := s.repo.GetPosition(ctx, listingID)
	if err != nil {
		return domain.Listing{}, domain.InventoryPosition{}, err
	}
	return listing, pos, nil
}

func (s *ListingService) Suspend(ctx context.Context, listingID string) error {
	return s.repo.SetSuspended(ctx, listingID, true)
}

func (s *ListingService) Unsuspend(ctx context.Context, listingID string) error {
	return s.repo.SetSuspended(ctx, listingID, false)
}
