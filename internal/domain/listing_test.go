package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInventoryPosition_Conservation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("every mutation preserves the invariant", func(t *testing.T) {
		p := NewInventoryPosition("listing-1", 100, now)
		require.NoError(t, p.Validate())

		require.NoError(t, p.LockReserved(30))
		require.NoError(t, p.Validate())
		require.Equal(t, int64(70), p.AvailableGrams)
		require.Equal(t, int64(30), p.LockedGrams)

		require.NoError(t, p.ConvertReserved(20))
		require.NoError(t, p.Validate())
		require.Equal(t, int64(10), p.ReservedGrams)
		require.Equal(t, int64(20), p.AllocatedGrams)

		require.NoError(t, p.ReleaseReserved(10))
		require.NoError(t, p.Validate())
		require.Equal(t, int64(80), p.AvailableGrams)

		require.NoError(t, p.LockAllocated(80))
		require.NoError(t, p.Validate())
		require.Equal(t, int64(0), p.AvailableGrams)
		require.Equal(t, int64(100), p.AllocatedGrams)
	})

	t.Run("locking beyond available is exhaustion, not saturation", func(t *testing.T) {
		p := NewInventoryPosition("listing-1", 10, now)

		require.ErrorIs(t, p.LockAllocated(11), ErrInventoryExhausted)
		require.NoError(t, p.Validate())
		require.Equal(t, int64(10), p.AvailableGrams)
	})

	t.Run("releasing more than reserved is a violation", func(t *testing.T) {
		p := NewInventoryPosition("listing-1", 10, now)
		require.NoError(t, p.LockReserved(5))

		require.ErrorIs(t, p.ReleaseReserved(6), ErrInvariantViolated)
	})

	t.Run("zero and negative weights are rejected", func(t *testing.T) {
		p := NewInventoryPosition("listing-1", 10, now)

		require.ErrorIs(t, p.LockReserved(0), ErrInvalidWeight)
		require.ErrorIs(t, p.LockAllocated(-1), ErrInvalidWeight)
	})

	t.Run("validate detects a corrupted ledger", func(t *testing.T) {
		p := NewInventoryPosition("listing-1", 10, now)
		p.LockedGrams = 3

		require.ErrorIs(t, p.Validate(), ErrInvariantViolated)
	})
}
