package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bullionclear/clearing/internal/domain"
)

type JournalRepository struct {
	pool *pgxpool.Pool
}

func NewJournalRepository(pool *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{pool: pool}
}

// InsertJournal writes the journal header and its entries in one
// transaction. The header insert ignores idempotency-key conflicts;
// entries are written only when the header landed, so a replay leaves
// the stored journal untouched and reports inserted=false.
func (r *JournalRepository) InsertJournal(ctx context.Context, journal domain.ClearingJournal) (bool, error) {
	const headerStmt = `
INSERT INTO clearing_journals (id, settlement_case_id, idempotency_key, journal_type, corrects_id, posted_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (idempotency_key) DO NOTHING`

	const entryStmt = `
INSERT INTO clearing_journal_entries (journal_id, account_code, direction, amount_cents, currency)
VALUES ($1, $2, $3, $4, $5)`

	var corrects *string
	if journal.CorrectsID != "" {
		corrects = &journal.CorrectsID
	}

	inserted := false
	err := withTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := exec(ctx, r.pool, headerStmt,
			journal.ID, journal.SettlementCaseID, journal.IdempotencyKey,
			journal.Type, corrects, journal.PostedAt,
		)
		if err != nil {
			return fmt.Errorf("insert journal: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		inserted = true
		for _, e := range journal.Entries {
			if _, err := exec(ctx, r.pool, entryStmt,
				journal.ID, e.AccountCode, e.Direction, e.AmountCents, e.Currency,
			); err != nil {
				return fmt.Errorf("insert journal entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (r *JournalRepository) GetJournalByIdempotencyKey(ctx context.Context, key string) (*domain.ClearingJournal, error) {
	const q = `
SELECT id, settlement_case_id, idempotency_key, journal_type, corrects_id, posted_at
FROM clearing_journals
WHERE idempotency_key = $1`

	return r.findJournal(ctx, q, key)
}

func (r *JournalRepository) FindJournalByType(ctx context.Context, caseID string, typ domain.JournalType) (*domain.ClearingJournal, error) {
	const q = `
SELECT id, settlement_case_id, idempotency_key, journal_type, corrects_id, posted_at
FROM clearing_journals
WHERE settlement_case_id = $1 AND journal_type = $2
ORDER BY posted_at
LIMIT 1`

	return r.findJournal(ctx, q, caseID, typ)
}

func (r *JournalRepository) findJournal(ctx context.Context, q string, args ...any) (*domain.ClearingJournal, error) {
	var j domain.ClearingJournal
	var corrects *string
	err := queryRow(ctx, r.pool, q, args...).
		Scan(&j.ID, &j.SettlementCaseID, &j.IdempotencyKey, &j.Type, &corrects, &j.PostedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find journal: %w", err)
	}
	if corrects != nil {
		j.CorrectsID = *corrects
	}

	entries, err := r.loadEntries(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	j.Entries = entries
	return &j, nil
}

func (r *JournalRepository) loadEntries(ctx context.Context, journalID string) ([]domain.JournalEntry, error) {
	const q = `
SELECT account_code, direction, amount_cents, currency
FROM clearing_journal_entries
WHERE journal_id = $1
ORDER BY id`

	rows, err := query(ctx, r.pool, q, journalID)
	if err != nil {
		return nil, fmt.Errorf("load journal entries: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		if err := rows.Scan(&e.AccountCode, &e.Direction, &e.AmountCents, &e.Currency); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
