package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bullionclear/clearing/internal/domain"
)

type CertificateRepository struct {
	pool *pgxpool.Pool
}

func NewCertificateRepository(pool *pgxpool.Pool) *CertificateRepository {
	return &CertificateRepository{pool: pool}
}

func (r *CertificateRepository) GetBySettlementID(ctx context.Context, caseID string) (*domain.ClearingCertificate, error) {
	const q = `
SELECT id, settlement_case_id, order_id, number, weight_grams, notional_cents, currency, signature_hash, external_signer, issued_at
FROM certificates
WHERE settlement_case_id = $1`

	var c domain.ClearingCertificate
	err := queryRow(ctx, r.pool, q, caseID).
		Scan(&c.ID, &c.SettlementCaseID, &c.OrderID, &c.Number, &c.WeightGrams, &c.NotionalCents,
			&c.Currency, &c.SignatureHash, &c.ExternalSigner, &c.IssuedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return &c, nil
}

func (r *CertificateRepository) Insert(ctx context.Context, cert domain.ClearingCertificate) error {
	const stmt = `
INSERT INTO certificates (id, settlement_case_id, order_id, number, weight_grams, notional_cents, currency, signature_hash, external_signer, issued_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := exec(ctx, r.pool, stmt,
		cert.ID, cert.SettlementCaseID, cert.OrderID, cert.Number, cert.WeightGrams,
		cert.NotionalCents, cert.Currency, cert.SignatureHash, cert.ExternalSigner, cert.IssuedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}
