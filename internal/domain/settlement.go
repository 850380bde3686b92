package domain

import "time"

type CaseStatus string

const (
	CaseDraft                CaseStatus = "draft"
	CaseEscrowOpen           CaseStatus = "escrow_open"
	CaseAwaitingFunds        CaseStatus = "awaiting_funds"
	CaseAwaitingGold         CaseStatus = "awaiting_gold"
	CaseAwaitingVerification CaseStatus = "awaiting_verification"
	CaseReadyToSettle        CaseStatus = "ready_to_settle"
	CaseAuthorized           CaseStatus = "authorized"
	CaseProcessingRail       CaseStatus = "processing_rail"
	CaseSettled              CaseStatus = "settled"
	CaseAmbiguous            CaseStatus = "ambiguous_state"
	CaseReversed             CaseStatus = "reversed"
	CaseFailed               CaseStatus = "failed"
	CaseCancelled            CaseStatus = "cancelled"
)

// caseTransitions is the only source of truth for legal status changes.
var caseTransitions = map[CaseStatus][]CaseStatus{
	CaseDraft:      {CaseEscrowOpen, CaseCancelled},
	CaseEscrowOpen: {CaseAwaitingFunds, CaseAwaitingGold, CaseAwaitingVerification, CaseReadyToSettle, CaseCancelled},
	CaseAwaitingFunds: {
		CaseAwaitingGold, CaseAwaitingVerification, CaseReadyToSettle, CaseCancelled,
	},
	CaseAwaitingGold: {
		CaseAwaitingFunds, CaseAwaitingVerification, CaseReadyToSettle, CaseCancelled,
	},
	CaseAwaitingVerification: {
		CaseAwaitingFunds, CaseAwaitingGold, CaseReadyToSettle, CaseCancelled,
	},
	CaseReadyToSettle:  {CaseAuthorized, CaseCancelled},
	CaseAuthorized:     {CaseProcessingRail, CaseCancelled},
	CaseProcessingRail: {CaseSettled, CaseFailed, CaseAmbiguous},
	CaseAmbiguous:      {CaseSettled, CaseFailed, CaseReversed},
	CaseSettled:        {CaseReversed},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to CaseStatus) bool {
	for _, allowed := range caseTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a case can never advance again.
func (s CaseStatus) Terminal() bool {
	switch s {
	case CaseReversed, CaseFailed, CaseCancelled:
		return true
	}
	return false
}

// Gate names the three independent preconditions for settlement.
type Gate string

const (
	GateFunds        Gate = "funds_confirmed"
	GateAsset        Gate = "asset_allocated"
	GateVerification Gate = "verification_cleared"
)

// CapitalSnapshot freezes the buyer/seller risk picture at case open.
type CapitalSnapshot struct {
	BuyerExposureCents  int64 `json:"buyer_exposure_cents"`
	SellerExposureCents int64 `json:"seller_exposure_cents"`
	MarginBps           int64 `json:"margin_bps"`
}

// SettlementCase is one order entering clearing. Mutated only through the
// guarded transition function; terminal cases are retained for audit.
type SettlementCase struct {
	ID                  string
	OrderID             string
	ListingID           string
	BuyerID             string
	SellerID            string
	Rail                string
	WeightGrams         int64
	LockedPriceCents    int64
	NotionalCents       int64
	Currency            string
	Status              CaseStatus
	FundsConfirmed      bool
	AssetAllocated      bool
	VerificationCleared bool
	EscrowReleased      bool
	CapitalSnapshot     CapitalSnapshot
	IdempotencyKey      string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// GatesSatisfied reports whether all three settlement gates hold.
func (c SettlementCase) GatesSatisfied() bool {
	return c.FundsConfirmed && c.AssetAllocated && c.VerificationCleared
}

// GateSet returns a copy of the case with the named gate set.
func (c SettlementCase) GateSet(g Gate) SettlementCase {
	switch g {
	case GateFunds:
		c.FundsConfirmed = true
	case GateAsset:
		c.AssetAllocated = true
	case GateVerification:
		c.VerificationCleared = true
	}
	return c
}
