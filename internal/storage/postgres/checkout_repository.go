package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bullionclear/clearing/internal/domain"
)

type CheckoutRepository struct {
	pool *pgxpool.Pool
}

func NewCheckoutRepository(pool *pgxpool.Pool) *CheckoutRepository {
	return &CheckoutRepository{pool: pool}
}

func (r *CheckoutRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *CheckoutRepository) GetListingForUpdate(ctx context.Context, listingID string) (domain.Listing, error) {
	const q = `
SELECT id, seller_id, description, premium_per_gram_cents, currency, suspended, created_at
FROM listings
WHERE id = $1
FOR UPDATE`

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
		return domain.Listing{}, fmt.Errorf("get listing for update: %w", err)
	}
	return l, nil
}

func (r *CheckoutRepository) GetPosition(ctx context.Context, listingID string) (domain.InventoryPosition, error) {
	return getPosition(ctx, r.pool, listingID)
}

// UpdatePosition is a compare-and-swap on the position version. Zero
// rows affected means a concurrent writer won; the caller refetches and
// retries the logical operation.
func (r *CheckoutRepository) UpdatePosition(ctx context.Context, pos domain.InventoryPosition) error {
	const stmt = `
UPDATE inventory_positions
SET available_grams = $2,
    reserved_grams = $3,
    allocated_grams = $4,
    locked_grams = $5,
    version = version + 1,
    updated_at = $6
WHERE listing_id = $1 AND version = $7`

	tag, err := exec(ctx, r.pool, stmt,
		pos.ListingID,
		pos.AvailableGrams,
		pos.ReservedGrams,
		pos.AllocatedGrams,
		pos.LockedGrams,
		pos.UpdatedAt,
		pos.Version,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *CheckoutRepository) FindReservationByIdempotencyKey(ctx context.Context, listingID, buyerID, key string) (*domain.Reservation, error) {
	const q = `
SELECT id, listing_id, buyer_id, weight_grams, locked_price_per_gram_cents, state, expires_at, idempotency_key, created_at
FROM reservations
WHERE listing_id = $1 AND buyer_id = $2 AND idempotency_key = $3`

	var res domain.Reservation
	err := queryRow(ctx, r.pool, q, listingID, buyerID, key).
		Scan(&res.ID, &res.ListingID, &res.BuyerID, &res.WeightGrams, &res.LockedPricePerGramCents,
			&res.State, &res.ExpiresAt, &res.IdempotencyKey, &res.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find reservation by idempotency key: %w", err)
	}
	return &res, nil
}

func (r *CheckoutRepository) GetReservationForUpdate(ctx context.Context, reservationID string) (domain.Reservation, error) {
	const q = `
SELECT id, listing_id, buyer_id, weight_grams, locked_price_per_gram_cents, state, expires_at, idempotency_key, created_at
FROM reservations
WHERE id = $1
FOR UPDATE`

	var res domain.Reservation
	err := queryRow(ctx, r.pool, q, reservationID).
		Scan(&res.ID, &res.ListingID, &res.BuyerID, &res.WeightGrams, &res.LockedPricePerGramCents,
			&res.State, &res.ExpiresAt, &res.IdempotencyKey, &res.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Reservation{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("get reservation for update: %w", err)
	}
	return res, nil
}

func (r *CheckoutRepository) CreateReservation(ctx context.Context, res domain.Reservation) error {
	const stmt = `
INSERT INTO reservations (id, listing_id, buyer_id, weight_grams, locked_price_per_gram_cents, state, expires_at, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := exec(ctx, r.pool, stmt,
		res.ID,
		res.ListingID,
		res.BuyerID,
		res.WeightGrams,
		res.LockedPricePerGramCents,
		res.State,
		res.ExpiresAt,
		res.IdempotencyKey,
		res.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create reservation: %w", err)
	}
	return nil
}

// UpdateReservationState is status-guarded; zero rows affected means a
// concurrent actor changed the state first.
func (r *CheckoutRepository) UpdateReservationState(ctx context.Context, reservationID string, from, to domain.ReservationState) error {
	const stmt = `UPDATE reservations SET state = $3 WHERE id = $1 AND state = $2`

	tag, err := exec(ctx, r.pool, stmt, reservationID, from, to)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("update reservation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *CheckoutRepository) ListExpiredActiveReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	const q = `
SELECT id, listing_id, buyer_id, weight_grams, locked_price_per_gram_cents, state, expires_at, idempotency_key, created_at
FROM reservations
WHERE state = 'active' AND expires_at <= $1
ORDER BY expires_at
LIMIT $2`

	rows, err := query(ctx, r.pool, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ID, &res.ListingID, &res.BuyerID, &res.WeightGrams, &res.LockedPricePerGramCents,
			&res.State, &res.ExpiresAt, &res.IdempotencyKey, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *CheckoutRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	const stmt = `
INSERT INTO orders (id, listing_id, reservation_id, buyer_id, seller_id, weight_grams, price_per_gram_cents, notional_cents, currency, policy_snapshot, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	snapshot, err := json.Marshal(order.PolicySnapshot)
	if err != nil {
		return fmt.Errorf("marshal policy snapshot: %w", err)
	}

	_, err = exec(ctx, r.pool, stmt,
		order.ID,
		order.ListingID,
		order.ReservationID,
		order.BuyerID,
		order.SellerID,
		order.WeightGrams,
		order.PricePerGramCents,
		order.NotionalCents,
		order.Currency,
		snapshot,
		order.Status,
		order.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *CheckoutRepository) GetOrderByReservationID(ctx context.Context, reservationID string) (*domain.Order, error) {
	const q = `
SELECT id, listing_id, reservation_id, buyer_id, seller_id, weight_grams, price_per_gram_cents, notional_cents, currency, policy_snapshot, status, created_at
FROM orders
WHERE reservation_id = $1`

	order, err := scanOrder(queryRow(ctx, r.pool, q, reservationID))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by reservation: %w", err)
	}
	return &order, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var snapshot []byte
	err := row.Scan(&o.ID, &o.ListingID, &o.ReservationID, &o.BuyerID, &o.SellerID, &o.WeightGrams,
		&o.PricePerGramCents, &o.NotionalCents, &o.Currency, &snapshot, &o.Status, &o.CreatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(snapshot, &o.PolicySnapshot); err != nil {
		return domain.Order{}, fmt.Errorf("unmarshal policy snapshot: %w", err)
	}
	return o, nil
}
