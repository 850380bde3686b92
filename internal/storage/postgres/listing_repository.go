package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bullionclear/clearing/internal/domain"
)

type ListingRepository struct {
	pool *pgxpool.Pool
}

func NewListingRepository(pool *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{pool: pool}
}

func (r *ListingRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *ListingRepository) CreateListing(ctx context.Context, listing domain.Listing) error {
	const stmt = `
INSERT INTO listings (id, seller_id, description, premium_per_gram_cents, currency, suspended, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := exec(ctx, r.pool, stmt,
		listing.ID,
		listing.SellerID,
		listing.Description,
		listing.PremiumPerGramCents,
		listing.Currency,
		listing.Suspended,
		listing.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	return nil
}

func (r *ListingRepository) CreatePosition(ctx context.Context, pos domain.InventoryPosition) error {
	const stmt = `
INSERT INTO inventory_positions (listing_id, total_grams, available_grams, reserved_grams, allocated_grams, locked_grams, version, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := exec(ctx, r.pool, stmt,
		pos.ListingID,
		pos.TotalGrams,
		pos.AvailableGrams,
		pos.ReservedGrams,
		pos.AllocatedGrams,
		pos.LockedGrams,
		pos.Version,
		pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create position: %w", err)
	}
	return nil
}

func (r *ListingRepository) GetListing(ctx context.Context, listingID string) (domain.Listing, error) {
	const q = `
SELECT id, seller_id, description, premium_per_gram_cents, currency, suspended, created_at
FROM listings
WHERE id = $1`

	var l domain.Listing
	err := queryRow(ctx, r.pool, q, listingID).
		Scan(&l.ID, &l.SellerID, &l.Description, &l.PremiumPerGramCents, &l.Currency, &l.Suspended, &l.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Listing{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Listing{}, domain.ErrListingNotFound
		}
		return domain.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

func (r *ListingRepository) GetPosition(ctx context.Context, listingID string) (domain.InventoryPosition, error) {
	return getPosition(ctx, r.pool, listingID)
}

func (r *ListingRepository) SetSuspended(ctx context.Context, listingID string, suspended bool) error {
	const stmt = `UPDATE listings SET suspended = $2 WHERE id = $1`

	tag, err := exec(ctx, r.pool, stmt, listingID, suspended)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("set suspended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrListingNotFound
	}
	return nil
}

func getPosition(ctx context.Context, pool *pgxpool.Pool, listingID string) (domain.InventoryPosition, error) {
	const q = `
SELECT listing_id, total_grams, available_grams, reserved_grams, allocated_grams, locked_grams, version, updated_at
FROM inventory_positions
WHERE listing_id = $1`

	var p domain.InventoryPosition
	err := queryRow(ctx, pool, q, listingID).
		Scan(&p.ListingID, &p.TotalGrams, &p.AvailableGrams, &p.ReservedGrams, &p.AllocatedGrams, &p.LockedGrams, &p.Version, &p.UpdatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.InventoryPosition{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.InventoryPosition{}, domain.ErrListingNotFound
		}
		return domain.InventoryPosition{}, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}
