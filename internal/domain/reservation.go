package domain

import "time"

type ReservationState string

const (
	ReservationActive    ReservationState = "active"
	ReservationExpired   ReservationState = "expired"
	ReservationConverted ReservationState = "converted"
)

// Reservation is a time-boxed claim on listing inventory. The atomic
// checkout path creates reservations directly in the converted state;
// only the two-phase hold path produces a transient active reservation.
// A converted or expired reservation is immutable.
type Reservation struct {
	ID                      string
	ListingID               string
	BuyerID                 string
	WeightGrams             int64
	LockedPricePerGramCents int64
	State                   ReservationState
	ExpiresAt               time.Time
	IdempotencyKey          string
	CreatedAt               time.Time
}
