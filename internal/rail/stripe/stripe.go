package stripe

import (
	"context"
	"errors"
	"fmt"

	stripego "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/transfer"

	"github.com/bullionclear/clearing/internal/rail"
)

// Rail moves funds through Stripe transfers. The idempotency key is
// forwarded to Stripe, which deduplicates replays on its side as well.
type Rail struct{}

// New configures the global Stripe client key and returns the rail.
func New(secretKey string) *Rail {
	stripego.Key = secretKey
	return &Rail{}
}

func (r *Rail) Name() string {
	return "stripe"
}

func (r *Rail) ExecutePayout(ctx context.Context, req rail.PayoutRequest) (rail.PayoutResult, error) {
	params := &stripego.TransferParams{
		Amount:        stripego.Int64(req.AmountCents - req.FeeCents),
		Currency:      stripego.String(req.Currency),
		Destination:   stripego.String(req.PayeeID),
		TransferGroup: stripego.String(req.SettlementCaseID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	tr, err := transfer.New(params)
	if err != nil {
		if isDefinitiveDecline(err) {
			return rail.PayoutResult{}, fmt.Errorf("%w: %v", rail.ErrDeclined, err)
		}
		// Timeouts and dropped connections leave the outcome unknown.
		return rail.PayoutResult{}, fmt.Errorf("stripe transfer: %w", err)
	}
	return rail.PayoutResult{ExternalIDs: []string{tr.ID}}, nil
}

func (r *Rail) CheckFinality(ctx context.Context, externalID string) (rail.Verdict, error) {
	if externalID == "" {
		return rail.Unknown, nil
	}
	params := &stripego.TransferParams{}
	params.Context = ctx

	tr, err := transfer.Get(externalID, params)
	if err != nil {
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return rail.ConfirmedFailed, nil
		}
		return rail.Unknown, fmt.Errorf("stripe transfer lookup: %w", err)
	}
	if tr.Reversed {
		return rail.ConfirmedFailed, nil
	}
	return rail.ConfirmedSuccess, nil
}

// isDefinitiveDecline reports whether Stripe itself refused the transfer.
// Only a parsed Stripe API error with a 4xx status proves the money did
// not move; anything else stays ambiguous.
func isDefinitiveDecline(err error) bool {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500
}
