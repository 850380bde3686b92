package domain

import "time"

type EntryDirection string

const (
	Debit  EntryDirection = "debit"
	Credit EntryDirection = "credit"
)

// Well-known account codes used by the clearing core.
const (
	AccountEscrow      = "escrow"
	AccountSellerClear = "seller_clearing"
	AccountFeeRevenue  = "fee_revenue"
)

// JournalType classifies what a journal records.
type JournalType string

const (
	JournalDvPExecuted JournalType = "dvp_executed"
	JournalEscrowFund  JournalType = "escrow_funded"
	JournalCorrection  JournalType = "correction"
)

type JournalEntry struct {
	AccountCode string
	Direction   EntryDirection
	AmountCents int64
	Currency    string
}

// ClearingJournal is an immutable double-entry record. Journals are
// append-only; a correction is a new offsetting journal referencing the
// original, never a mutation.
type ClearingJournal struct {
	ID               string
	SettlementCaseID string
	IdempotencyKey   string
	Type             JournalType
	CorrectsID       string
	Entries          []JournalEntry
	PostedAt         time.Time
}

// Balanced verifies every entry amount is positive and debits equal
// credits per currency. A violation is a programming error, not a
// business rejection.
func (j ClearingJournal) Balanced() error {
	if len(j.Entries) == 0 {
		return ErrEmptyJournal
	}
	sums := make(map[string]int64)
	for _, e := range j.Entries {
		if e.AmountCents <= 0 {
			return ErrInvalidAmount
		}
		switch e.Direction {
		case Debit:
			sums[e.Currency] += e.AmountCents
		case Credit:
			sums[e.Currency] -= e.AmountCents
		default:
			return ErrInvalidAmount
		}
	}
	for _, sum := range sums {
		if sum != 0 {
			return ErrUnbalancedJournal
		}
	}
	return nil
}
