package app

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DerivePayoutKey builds the deterministic idempotency key for a payout:
// identical logical requests always produce the identical key, so retries
// deduplicate without coordination.
func DerivePayoutKey(settlementID, payeeID string, amountCents int64, actionType string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", settlementID, payeeID, amountCents, actionType)))
	return hex.EncodeToString(sum[:])
}
