package app

import (
	"context"

	"github.com/bullionclear/clearing/internal/clock"
	"github.com/bullionclear/clearing/internal/domain"
)

// ThresholdPolicy is the built-in evaluator: risk scales with notional,
// large trades are flagged for review, and trades above the hard cap are
// blocked. Deployments with an external compliance engine swap in their
// own PolicyEvaluator.
type ThresholdPolicy struct {
	ReviewThresholdCents int64
	BlockThresholdCents  int64
	clock                clock.Clock
}

const (
	defaultReviewThresholdCents int64 = 50_000_00
	defaultBlockThresholdCents  int64 = 1_000_000_00
)

func NewThresholdPolicy(clk clock.Clock) *ThresholdPolicy {
	return &ThresholdPolicy{
		ReviewThresholdCents: defaultReviewThresholdCents,
		BlockThresholdCents:  defaultBlockThresholdCents,
		clock:                clk,
	}
}

func (p *ThresholdPolicy) Evaluate(_ context.Context, in PolicyInput) (domain.PolicySnapshot, error) {
	snapshot := domain.PolicySnapshot{
		ApprovalTier: "standard",
		EvaluatedAt:  p.clock.Now(),
	}

	score := int(in.NotionalCents / 1_000_00)
	if score > 100 {
		score = 100
	}
	snapshot.RiskScore = score

	if in.NotionalCents >= p.BlockThresholdCents {
		snapshot.ApprovalTier = "blocked"
		snapshot.Blockers = append(snapshot.Blockers, domain.PolicyBlocker{
			Code:     "notional_above_cap",
			Severity: domain.SeverityBlock,
			Detail:   "trade notional exceeds the clearing cap",
		})
		return snapshot, nil
	}
	if in.NotionalCents >= p.ReviewThresholdCents {
		snapshot.ApprovalTier = "enhanced"
		snapshot.Blockers = append(snapshot.Blockers, domain.PolicyBlocker{
			Code:     "notional_review",
			Severity: domain.SeverityReview,
			Detail:   "trade notional requires post-trade review",
		})
	}
	return snapshot, nil
}
