package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bullionclear/clearing/internal/domain"
)

type PayoutRepository struct {
	pool *pgxpool.Pool
}

func NewPayoutRepository(pool *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{pool: pool}
}

func (r *PayoutRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const attemptColumns = `id, settlement_case_id, payee_id, amount_cents, fee_cents, currency, rail, idempotency_key, status, external_transfer_id, attempt_count, created_at, updated_at`

func (r *PayoutRepository) FindAttemptByKey(ctx context.Context, key string) (*domain.PayoutAttempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM payout_attempts WHERE idempotency_key = $1`

	attempt, err := scanAttempt(queryRow(ctx, r.pool, q, key))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find attempt by key: %w", err)
	}
	return &attempt, nil
}

func (r *PayoutRepository) FindLatestAttemptByCase(ctx context.Context, caseID string) (*domain.PayoutAttempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM payout_attempts WHERE settlement_case_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`

	attempt, err := scanAttempt(queryRow(ctx, r.pool, q, caseID))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest attempt: %w", err)
	}
	return &attempt, nil
}

func (r *PayoutRepository) CreateAttempt(ctx context.Context, a domain.PayoutAttempt) error {
	const stmt = `
INSERT INTO payout_attempts (id, settlement_case_id, payee_id, amount_cents, fee_cents, currency, rail, idempotency_key, status, external_transfer_id, attempt_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`

	_, err := exec(ctx, r.pool, stmt,
		a.ID, a.SettlementCaseID, a.PayeeID, a.AmountCents, a.FeeCents, a.Currency, a.Rail,
		a.IdempotencyKey, a.Status, a.ExternalTransferID, a.AttemptCount, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (r *PayoutRepository) UpdateAttemptStatus(ctx context.Context, attemptID string, status domain.AttemptStatus, externalID string) error {
	const stmt = `
UPDATE payout_attempts
SET status = $2, external_transfer_id = $3, updated_at = NOW()
WHERE id = $1`

	tag, err := exec(ctx, r.pool, stmt, attemptID, status, externalID)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("update attempt status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (r *PayoutRepository) FindFinality(ctx context.Context, caseID, railName string) (*domain.FinalityRecord, error) {
	const q = `
SELECT id, settlement_case_id, rail, status, external_id, recorded_at
FROM finality_records
WHERE settlement_case_id = $1 AND rail = $2`

	var rec domain.FinalityRecord
	err := queryRow(ctx, r.pool, q, caseID, railName).
		Scan(&rec.ID, &rec.SettlementCaseID, &rec.Rail, &rec.Status, &rec.ExternalID, &rec.RecordedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find finality: %w", err)
	}
	return &rec, nil
}

// RecordFinality upserts the per-case, per-rail finality row so a
// pending record can later be confirmed completed or failed.
func (r *PayoutRepository) RecordFinality(ctx context.Context, rec domain.FinalityRecord) error {
	const stmt = `
INSERT INTO finality_records (id, settlement_case_id, rail, status, external_id, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (settlement_case_id, rail)
DO UPDATE SET status = EXCLUDED.status, external_id = EXCLUDED.external_id, recorded_at = EXCLUDED.recorded_at`

	_, err := exec(ctx, r.pool, stmt,
		rec.ID, rec.SettlementCaseID, rec.Rail, rec.Status, rec.ExternalID, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record finality: %w", err)
	}
	return nil
}

func scanAttempt(row pgx.Row) (domain.PayoutAttempt, error) {
	var a domain.PayoutAttempt
	err := row.Scan(&a.ID, &a.SettlementCaseID, &a.PayeeID, &a.AmountCents, &a.FeeCents, &a.Currency,
		&a.Rail, &a.IdempotencyKey, &a.Status, &a.ExternalTransferID, &a.AttemptCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.PayoutAttempt{}, err
	}
	return a, nil
}
