package domain

import "time"

// ClearingCertificate is the signed proof-of-clearing issued once DvP is
// proven complete. At most one certificate exists per settlement, ever.
type ClearingCertificate struct {
	ID               string
	SettlementCaseID string
	OrderID          string
	Number           string
	WeightGrams      int64
	NotionalCents    int64
	Currency         string
	SignatureHash    string
	ExternalSigner   string
	IssuedAt         time.Time
}
