package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	t.Run("happy path is legal end to end", func(t *testing.T) {
		path := []CaseStatus{
			CaseDraft, CaseEscrowOpen, CaseAwaitingFunds, CaseReadyToSettle,
			CaseAuthorized, CaseProcessingRail, CaseSettled,
		}
		for i := 0; i < len(path)-1; i++ {
			require.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
		}
	})

	t.Run("terminal states never advance", func(t *testing.T) {
		all := []CaseStatus{
			CaseDraft, CaseEscrowOpen, CaseAwaitingFunds, CaseAwaitingGold,
			CaseAwaitingVerification, CaseReadyToSettle, CaseAuthorized,
			CaseProcessingRail, CaseSettled, CaseAmbiguous, CaseReversed,
			CaseFailed, CaseCancelled,
		}
		for _, terminal := range []CaseStatus{CaseReversed, CaseFailed, CaseCancelled} {
			require.True(t, terminal.Terminal())
			for _, to := range all {
				require.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
			}
		}
	})

	t.Run("no skipping authorization", func(t *testing.T) {
		require.False(t, CanTransition(CaseReadyToSettle, CaseProcessingRail))
		require.False(t, CanTransition(CaseEscrowOpen, CaseAuthorized))
		require.False(t, CanTransition(CaseAuthorized, CaseSettled))
	})

	t.Run("ambiguous resolves to settled, failed, or reversed only", func(t *testing.T) {
		require.True(t, CanTransition(CaseAmbiguous, CaseSettled))
		require.True(t, CanTransition(CaseAmbiguous, CaseFailed))
		require.True(t, CanTransition(CaseAmbiguous, CaseReversed))
		require.False(t, CanTransition(CaseAmbiguous, CaseAuthorized))
		require.False(t, CanTransition(CaseAmbiguous, CaseCancelled))
	})
}

func TestGates(t *testing.T) {
	t.Parallel()

	sc := SettlementCase{}
	require.False(t, sc.GatesSatisfied())

	sc = sc.GateSet(GateFunds)
	sc = sc.GateSet(GateAsset)
	require.False(t, sc.GatesSatisfied())

	sc = sc.GateSet(GateVerification)
	require.True(t, sc.GatesSatisfied())
}
