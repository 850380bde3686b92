package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bullionclear/clearing/internal/domain"
)

type SettlementRepository struct {
	pool *pgxpool.Pool
}

func NewSettlementRepository(pool *pgxpool.Pool) *SettlementRepository {
	return &SettlementRepository{pool: pool}
}

func (r *SettlementRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *SettlementRepository) CreateCase(ctx context.Context, sc domain.SettlementCase) error {
	const stmt = `
INSERT INTO settlement_cases (id, order_id, listing_id, buyer_id, seller_id, rail, weight_grams, locked_price_cents, notional_cents, currency, status, funds_confirmed, asset_allocated, verification_cleared, escrow_released, capital_snapshot, idempotency_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	snapshot, err := json.Marshal(sc.CapitalSnapshot)
	if err != nil {
		return fmt.Errorf("marshal capital snapshot: %w", err)
	}

	_, err = exec(ctx, r.pool, stmt,
		sc.ID, sc.OrderID, sc.ListingID, sc.BuyerID, sc.SellerID, sc.Rail,
		sc.WeightGrams, sc.LockedPriceCents, sc.NotionalCents, sc.Currency, sc.Status,
		sc.FundsConfirmed, sc.AssetAllocated, sc.VerificationCleared, sc.EscrowReleased,
		snapshot, sc.IdempotencyKey, sc.CreatedAt, sc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("create settlement case: %w", err)
	}
	return nil
}

const caseColumns = `id, order_id, listing_id, buyer_id, seller_id, rail, weight_grams, locked_price_cents, notional_cents, currency, status, funds_confirmed, asset_allocated, verification_cleared, escrow_released, capital_snapshot, idempotency_key, created_at, updated_at`

func (r *SettlementRepository) GetCase(ctx context.Context, caseID string) (domain.SettlementCase, error) {
	q := `SELECT ` + caseColumns + ` FROM settlement_cases WHERE id = $1`

	sc, err := scanCase(queryRow(ctx, r.pool, q, caseID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.SettlementCase{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.SettlementCase{}, domain.ErrCaseNotFound
		}
		return domain.SettlementCase{}, fmt.Errorf("get settlement case: %w", err)
	}
	return sc, nil
}

func (r *SettlementRepository) GetCaseByOrderID(ctx context.Context, orderID string) (*domain.SettlementCase, error) {
	q := `SELECT ` + caseColumns + ` FROM settlement_cases WHERE order_id = $1`

	sc, err := scanCase(queryRow(ctx, r.pool, q, orderID))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get settlement case by order: %w", err)
	}
	return &sc, nil
}

// UpdateStatus is the optimistic guard on every transition: it writes
// only when the stored status still matches what the caller read.
func (r *SettlementRepository) UpdateStatus(ctx context.Context, caseID string, from, to domain.CaseStatus) error {
	const stmt = `UPDATE settlement_cases SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`

	tag, err := exec(ctx, r.pool, stmt, caseID, from, to)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("update settlement status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

func (r *SettlementRepository) SetGate(ctx context.Context, caseID string, gate domain.Gate) error {
	var column string
	switch gate {
	case domain.GateFunds:
		column = "funds_confirmed"
	case domain.GateAsset:
		column = "asset_allocated"
	case domain.GateVerification:
		column = "verification_cleared"
	default:
		return domain.ErrInvalidTransition
	}

	stmt := fmt.Sprintf(`UPDATE settlement_cases SET %s = TRUE, updated_at = NOW() WHERE id = $1`, column)
	tag, err := exec(ctx, r.pool, stmt, caseID)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("set gate %s: %w", gate, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCaseNotFound
	}
	return nil
}

func (r *SettlementRepository) SetEscrowReleased(ctx context.Context, caseID string) error {
	const stmt = `UPDATE settlement_cases SET escrow_released = TRUE, updated_at = NOW() WHERE id = $1`

	tag, err := exec(ctx, r.pool, stmt, caseID)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("set escrow released: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCaseNotFound
	}
	return nil
}

func (r *SettlementRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	const q = `
SELECT id, listing_id, reservation_id, buyer_id, seller_id, weight_grams, price_per_gram_cents, notional_cents, currency, policy_snapshot, status, created_at
FROM orders
WHERE id = $1`

	order, err := scanOrder(queryRow(ctx, r.pool, q, orderID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Order{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (r *SettlementRepository) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	const stmt = `UPDATE orders SET status = $2 WHERE id = $1`

	tag, err := exec(ctx, r.pool, stmt, orderID, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func scanCase(row pgx.Row) (domain.SettlementCase, error) {
	var sc domain.SettlementCase
	var snapshot []byte
	err := row.Scan(&sc.ID, &sc.OrderID, &sc.ListingID, &sc.BuyerID, &sc.SellerID, &sc.Rail,
		&sc.WeightGrams, &sc.LockedPriceCents, &sc.NotionalCents, &sc.Currency, &sc.Status,
		&sc.FundsConfirmed, &sc.AssetAllocated, &sc.VerificationCleared, &sc.EscrowReleased,
		&snapshot, &sc.IdempotencyKey, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return domain.SettlementCase{}, err
	}
	if err := json.Unmarshal(snapshot, &sc.CapitalSnapshot); err != nil {
		return domain.SettlementCase{}, fmt.Errorf("unmarshal capital snapshot: %w", err)
	}
	return sc, nil
}
