package events

import (
	"context"
	"time"
)

// Event types emitted by the clearing core. Consumers subscribe for
// audit and notification; publication is fire-and-forget.
const (
	TypePayoutSubmitted     = "clearing.payout_submitted"
	TypeSettlementSettled   = "clearing.settlement_settled"
	TypeSettlementFailed    = "clearing.settlement_failed"
	TypeCertificateIssued   = "clearing.certificate_issued"
	TypeSettlementAmbiguous = "clearing.settlement_ambiguous"
)

type Event struct {
	Type             string    `json:"type"`
	SettlementCaseID string    `json:"settlement_case_id,omitempty"`
	OrderID          string    `json:"order_id,omitempty"`
	Payload          any       `json:"payload,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type nopPublisher struct{}

// NewNop returns a publisher that drops every event.
func NewNop() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
func (nopPublisher) Close() error                         { return nil }
