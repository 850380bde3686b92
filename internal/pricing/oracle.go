package pricing

import (
	"context"

	"github.com/bullionclear/clearing/internal/clock"
	"github.com/bullionclear/clearing/internal/domain"
)

// Oracle supplies the server-side spot price used for all notional
// computation. Client-supplied prices are never trusted inputs.
type Oracle interface {
	SpotQuote(ctx context.Context, currency string) (domain.SpotQuote, error)
}

type fixedOracle struct {
	perGramCents int64
	clock        clock.Clock
}

// NewFixed returns an oracle pinned to one price, for development and
// tests.
func NewFixed(perGramCents int64, clk clock.Clock) Oracle {
	return fixedOracle{perGramCents: perGramCents, clock: clk}
}

func (o fixedOracle) SpotQuote(_ context.Context, currency string) (domain.SpotQuote, error) {
	return domain.SpotQuote{
		PricePerGramCents: o.perGramCents,
		Currency:          currency,
		Source:            "fixed",
		FetchedAt:         o.clock.Now(),
	}, nil
}
