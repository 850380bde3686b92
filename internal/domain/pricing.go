package domain

import "time"

// SpotQuote is a server-fetched spot price for gold, in cents per gram.
type SpotQuote struct {
	PricePerGramCents int64
	Currency          string
	Source            string
	FetchedAt         time.Time
}

// Notional computes the order notional from server-side inputs: spot
// price plus the seller premium stored on the listing.
func Notional(weightGrams, spotPerGramCents, premiumPerGramCents int64) int64 {
	return weightGrams * (spotPerGramCents + premiumPerGramCents)
}
