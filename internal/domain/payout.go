package domain

import "time"

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSubmitted AttemptStatus = "submitted"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
	AttemptReversed  AttemptStatus = "reversed"
)

// PayoutAttempt tracks the lifecycle of one idempotency key. Replay
// detection reads attempts before any external call is made.
type PayoutAttempt struct {
	ID                 string
	SettlementCaseID   string
	PayeeID            string
	AmountCents        int64
	FeeCents           int64
	Currency           string
	Rail               string
	IdempotencyKey     string
	Status             AttemptStatus
	ExternalTransferID string
	AttemptCount       int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type FinalityStatus string

const (
	FinalityPending   FinalityStatus = "pending"
	FinalityCompleted FinalityStatus = "completed"
	FinalityFailed    FinalityStatus = "failed"
)

// FinalityRecord is the confirmed outcome of money movement on a rail for
// a settlement, as distinct from the caller's local observation.
type FinalityRecord struct {
	ID               string
	SettlementCaseID string
	Rail             string
	Status           FinalityStatus
	ExternalID       string
	RecordedAt       time.Time
}
