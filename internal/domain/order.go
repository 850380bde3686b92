package domain

import "time"

type OrderStatus string

const (
	OrderPendingSettlement OrderStatus = "pending_settlement"
	OrderSettling          OrderStatus = "settling"
	OrderSettled           OrderStatus = "settled"
	OrderFailed            OrderStatus = "failed"
	OrderCancelled         OrderStatus = "cancelled"
)

// Order is one accepted checkout. Immutable after creation except for
// status transitions driven by the settlement state machine. Notional is
// always server-computed; client-supplied prices are never trusted.
type Order struct {
	ID                string
	ListingID         string
	ReservationID     string
	BuyerID           string
	SellerID          string
	WeightGrams       int64
	PricePerGramCents int64
	NotionalCents     int64
	Currency          string
	PolicySnapshot    PolicySnapshot
	Status            OrderStatus
	CreatedAt         time.Time
}

type BlockerSeverity string

const (
	SeverityInfo   BlockerSeverity = "info"
	SeverityReview BlockerSeverity = "review"
	SeverityBlock  BlockerSeverity = "block"
)

type PolicyBlocker struct {
	Code     string          `json:"code"`
	Severity BlockerSeverity `json:"severity"`
	Detail   string          `json:"detail,omitempty"`
}

// PolicySnapshot is the frozen compliance evaluation taken at order time.
// It is stored on the order regardless of outcome.
type PolicySnapshot struct {
	RiskScore    int             `json:"risk_score"`
	ApprovalTier string          `json:"approval_tier"`
	Blockers     []PolicyBlocker `json:"blockers,omitempty"`
	EvaluatedAt  time.Time       `json:"evaluated_at"`
}

// HasBlocking reports whether any blocker carries block severity.
func (s PolicySnapshot) HasBlocking() bool {
	for _, b := range s.Blockers {
		if b.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
