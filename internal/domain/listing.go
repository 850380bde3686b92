package domain

import "time"

// Listing represents a published lot of physical gold offered for sale.
type Listing struct {
	ID                  string
	SellerID            string
	Description         string
	PremiumPerGramCents int64
	Currency            string
	Suspended           bool
	CreatedAt           time.Time
}

// InventoryPosition tracks the quantity ledger for a single listing.
// All weights are integral grams.
type InventoryPosition struct {
	ListingID      string
	TotalGrams     int64
	AvailableGrams int64
	ReservedGrams  int64
	AllocatedGrams int64
	LockedGrams    int64
	Version        int64
	UpdatedAt      time.Time
}

// NewInventoryPosition returns the position created at listing publication.
func NewInventoryPosition(listingID string, totalGrams int64, now time.Time) InventoryPosition {
	return InventoryPosition{
		ListingID:      listingID,
		TotalGrams:     totalGrams,
		AvailableGrams: totalGrams,
		UpdatedAt:      now,
	}
}

// Validate asserts the conservation invariant. Every mutation must leave
// the position in a state where this returns nil.
func (p InventoryPosition) Validate() error {
	if p.TotalGrams < 0 || p.AvailableGrams < 0 || p.ReservedGrams < 0 || p.AllocatedGrams < 0 {
		return ErrInvariantViolated
	}
	if p.LockedGrams != p.ReservedGrams+p.AllocatedGrams {
		return ErrInvariantViolated
	}
	if p.AvailableGrams != p.TotalGrams-p.LockedGrams {
		return ErrInvariantViolated
	}
	if p.LockedGrams > p.TotalGrams {
		return ErrInvariantViolated
	}
	return nil
}

// LockReserved moves grams from available to reserved (two-phase hold path).
func (p *InventoryPosition) LockReserved(grams int64) error {
	if err := p.lock(grams); err != nil {
		return err
	}
	p.ReservedGrams += grams
	return p.Validate()
}

// LockAllocated moves grams straight from available to allocated
// (atomic checkout path).
func (p *InventoryPosition) LockAllocated(grams int64) error {
	if err := p.lock(grams); err != nil {
		return err
	}
	p.AllocatedGrams += grams
	return p.Validate()
}

func (p *InventoryPosition) lock(grams int64) error {
	if grams <= 0 {
		return ErrInvalidWeight
	}
	if grams > p.AvailableGrams {
		return ErrInventoryExhausted
	}
	p.AvailableGrams -= grams
	p.LockedGrams += grams
	return nil
}

// ReleaseReserved returns reserved grams to available (reservation expiry).
func (p *InventoryPosition) ReleaseReserved(grams int64) error {
	if grams <= 0 {
		return ErrInvalidWeight
	}
	if grams > p.ReservedGrams {
		return ErrInvariantViolated
	}
	p.ReservedGrams -= grams
	p.LockedGrams -= grams
	p.AvailableGrams += grams
	return p.Validate()
}

// ConvertReserved reattributes reserved grams to allocated when a
// two-phase reservation is converted into an order.
func (p *InventoryPosition) ConvertReserved(grams int64) error {
	if grams <= 0 {
		return ErrInvalidWeight
	}
	if grams > p.ReservedGrams {
		return ErrInvariantViolated
	}
	p.ReservedGrams -= grams
	p.AllocatedGrams += grams
	return p.Validate()
}
