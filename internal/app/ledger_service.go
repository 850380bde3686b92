package app

import (
	"context"

	"github.com/bullionclear/clearing/internal/clock"
	"github.com/bullionclear/clearing/internal/domain"
)

type JournalRepository interface {
	// InsertJournal uses insert-ignore semantics on the idempotency key:
	// it reports whether a row was written.
	InsertJournal(ctx context.Context, journal domain.ClearingJournal) (bool, error)
	GetJournalByIdempotencyKey(ctx context.Context, key string) (*domain.ClearingJournal, error)
	FindJournalByType(ctx context.Context, caseID string, typ domain.JournalType) (*domain.ClearingJournal, error)
}

// LedgerService posts balanced double-entry journals. Journals are never
// updated or deleted; a correction is a new offsetting journal.
type LedgerService struct {
	repo  JournalRepository
	clock clock.Clock
}

func NewLedgerService(repo JournalRepository, clk clock.Clock) *LedgerService {
	return &LedgerService{repo: repo, clock: clk}
}

type PostJournalInput struct {
	SettlementCaseID string
	IdempotencyKey   string
	Type             domain.JournalType
	CorrectsID       string
	Entries          []domain.JournalEntry
}

type PostJournalResult struct {
	Journal domain.ClearingJournal
	Posted  bool
}

// PostJournal validates balance before any row is written, then inserts
// with ignore-on-conflict so a replayed post (a retried webhook, say) is
// a no-op returning the stored journal.
func (s *LedgerService) PostJournal(ctx context.Context, in PostJournalInput) (PostJournalResult, error) {
	if in.IdempotencyKey == "" {
		return PostJournalResult{}, domain.ErrIdempotencyKeyRequired
	}

	journal := domain.ClearingJournal{
		ID:               newID(),
		SettlementCaseID: in.SettlementCaseID,
		IdempotencyKey:   in.IdempotencyKey,
		Type:             in.Type,
		CorrectsID:       in.CorrectsID,
		Entries:          in.Entries,
		PostedAt:         s.clock.Now(),
	}
	if err := journal.Balanced(); err != nil {
		return PostJournalResult{}, err
	}

	inserted, err := s.repo.InsertJournal(ctx, journal)
	if err != nil {
		return PostJournalResult{}, err
	}
	if !inserted {
		existing, err := s.repo.GetJournalByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return PostJournalResult{}, err
		}
		if existing == nil {
			return PostJournalResult{}, domain.ErrJournalNotFound
		}
		return PostJournalResult{Journal: *existing, Posted: false}, nil
	}
	return PostJournalResult{Journal: journal, Posted: true}, nil
}

// PostDvPJournal records the executed delivery-versus-payment for a
// settled case: escrow is debited, the seller clearing account credited
// net of fees, and the fee credited to revenue.
func (s *LedgerService) PostDvPJournal(ctx context.Context, sc domain.SettlementCase, feeCents int64) (PostJournalResult, error) {
	if feeCents < 0 || feeCents >= sc.NotionalCents {
		return PostJournalResult{}, domain.ErrInvalidAmount
	}

	entries := []domain.JournalEntry{
		{AccountCode: domain.AccountEscrow, Direction: domain.Debit, AmountCents: sc.NotionalCents, Currency: sc.Currency},
		{AccountCode: domain.AccountSellerClear, Direction: domain.Credit, AmountCents: sc.NotionalCents - feeCents, Currency: sc.Currency},
	}
	if feeCents > 0 {
		entries = append(entries, domain.JournalEntry{
			AccountCode: domain.AccountFeeRevenue, Direction: domain.Credit, AmountCents: feeCents, Currency: sc.Currency,
		})
	}

	return s.PostJournal(ctx, PostJournalInput{
		SettlementCaseID: sc.ID,
		IdempotencyKey:   sc.IdempotencyKey,
		Type:             domain.JournalDvPExecuted,
		Entries:          entries,
	})
}

// FindDvPJournal returns the dvp_executed journal for a settlement, if
// one has been posted.
func (s *LedgerService) FindDvPJournal(ctx context.Context, caseID string) (*domain.ClearingJournal, error) {
	return s.repo.FindJournalByType(ctx, caseID, domain.JournalDvPExecuted)
}
