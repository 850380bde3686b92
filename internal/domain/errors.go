package domain

import "errors"

var (
	ErrInvalidID              = errors.New("invalid id")
	ErrInvalidWeight          = errors.New("invalid weight")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrIdempotencyConflict    = errors.New("idempotency conflict")

	ErrListingNotFound    = errors.New("listing not found")
	ErrListingSuspended   = errors.New("listing suspended")
	ErrInventoryExhausted = errors.New("inventory exhausted")
	ErrInvariantViolated  = errors.New("inventory invariant violated")

	ErrReservationNotFound  = errors.New("reservation not found")
	ErrReservationNotActive = errors.New("reservation not active")
	ErrReservationExpired   = errors.New("reservation expired")

	ErrPolicyBlocked = errors.New("blocked by compliance policy")

	ErrOrderNotFound = errors.New("order not found")

	ErrVersionConflict = errors.New("concurrent update detected")

	ErrPayoutAmbiguous = errors.New("payout outcome unknown")
	ErrAttemptNotFound = errors.New("payout attempt not found")

	ErrCaseNotFound      = errors.New("settlement case not found")
	ErrInvalidTransition = errors.New("invalid settlement transition")
	ErrStatusConflict    = errors.New("settlement status changed concurrently")
	ErrGatesNotSatisfied = errors.New("settlement gates not satisfied")
	ErrCaseMidFlight     = errors.New("settlement locked while rail call in flight")

	ErrUnbalancedJournal = errors.New("journal debits and credits do not balance")
	ErrEmptyJournal      = errors.New("journal has no entries")
	ErrJournalNotFound   = errors.New("journal not found")

	ErrNotSettled         = errors.New("settlement not in settled state")
	ErrDvPEntryMissing    = errors.New("no dvp_executed journal for settlement")
	ErrEscrowNotReleased  = errors.New("escrow not released")
	ErrCertificateMissing = errors.New("certificate not found")
)
