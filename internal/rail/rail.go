package rail

import (
	"context"
	"errors"
)

// Verdict is the tri-state outcome of a finality check. UNKNOWN is never
// collapsed into success or failure.
type Verdict string

const (
	ConfirmedSuccess Verdict = "CONFIRMED_SUCCESS"
	ConfirmedFailed  Verdict = "CONFIRMED_FAILED"
	Unknown          Verdict = "UNKNOWN"
)

// ErrDeclined marks a definitive refusal by the rail: the transfer did
// not and will not happen. Any other error from ExecutePayout must be
// treated as ambiguous.
var ErrDeclined = errors.New("payout declined by rail")

type PayoutRequest struct {
	SettlementCaseID string
	PayeeID          string
	AmountCents      int64
	FeeCents         int64
	Currency         string
	IdempotencyKey   string
}

type PayoutResult struct {
	ExternalIDs []string
}

// Rail executes money movement against an external payment provider.
// Implementations must pass the idempotency key through to the provider.
type Rail interface {
	Name() string
	ExecutePayout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
	// CheckFinality resolves whether a previously attempted transfer
	// definitively happened. It must return Unknown rather than guess.
	CheckFinality(ctx context.Context, externalID string) (Verdict, error)
}
