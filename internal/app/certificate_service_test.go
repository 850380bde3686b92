package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bullionclear/clearing/internal/clock"
	"github.com/bullionclear/clearing/internal/domain"
	"github.com/bullionclear/clearing/internal/events"
)

func settledCase() domain.SettlementCase {
	return domain.SettlementCase{
		ID:             "case-1",
		OrderID:        "order-1",
		SellerID:       "seller-1",
		WeightGrams:    40,
		NotionalCents:  302_800,
		Currency:       "usd",
		Status:         domain.CaseSettled,
		EscrowReleased: true,
		IdempotencyKey: "case-key-1",
	}
}

func TestCertificateService_IssueCertificate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	order := testOrder()

	newFixture := func(t *testing.T) (*CertificateService, *fakeCertificateRepo, *LedgerService, *capturePublisher) {
		t.Helper()
		repo := newFakeCertificateRepo()
		ledger := NewLedgerService(newFakeJournalRepo(), clock.NewFixed(now))
		pub := &capturePublisher{}
		svc := NewCertificateService(repo, ledger, pub, clock.NewFixed(now), zap.NewNop())
		return svc, repo, ledger, pub
	}

	postDvP := func(t *testing.T, ledger *LedgerService, sc domain.SettlementCase) {
		t.Helper()
		_, err := ledger.PostDvPJournal(context.Background(), sc, 0)
		require.NoError(t, err)
	}

	t.Run("issues once all preconditions hold", func(t *testing.T) {
		svc, repo, ledger, pub := newFixture(t)
		sc := settledCase()
		postDvP(t, ledger, sc)

		cert, err := svc.IssueCertificate(context.Background(), sc, order)
		require.NoError(t, err)

		require.True(t, strings.HasPrefix(cert.Number, "PC-20260301-"))
		require.Equal(t, sc.WeightGrams, cert.WeightGrams)
		require.Equal(t, sc.NotionalCents, cert.NotionalCents)
		require.NotEmpty(t, cert.SignatureHash)
		require.Equal(t, 1, repo.insertCalls)
		require.Contains(t, pub.types(), events.TypeCertificateIssued)
	})

	t.Run("reissue returns the stored certificate unchanged", func(t *testing.T) {
		svc, repo, ledger, _ := newFixture(t)
		sc := settledCase()
		postDvP(t, ledger, sc)

		first, err := svc.IssueCertificate(context.Background(), sc, order)
		require.NoError(t, err)
		second, err := svc.IssueCertificate(context.Background(), sc, order)
		require.NoError(t, err)

		require.Equal(t, first.ID, second.ID)
		require.Equal(t, first.Number, second.Number)
		require.Equal(t, 1, repo.insertCalls)
	})

	t.Run("unsettled case persists nothing", func(t *testing.T) {
		svc, repo, ledger, _ := newFixture(t)
		sc := settledCase()
		sc.Status = domain.CaseProcessingRail
		postDvP(t, ledger, sc)

		_, err := svc.IssueCertificate(context.Background(), sc, order)
		require.ErrorIs(t, err, domain.ErrNotSettled)
		require.Zero(t, repo.insertCalls)
	})

	t.Run("missing dvp journal persists nothing", func(t *testing.T) {
		svc, repo, _, _ := newFixture(t)
		sc := settledCase()

		_, err := svc.IssueCertificate(context.Background(), sc, order)
		require.ErrorIs(t, err, domain.ErrDvPEntryMissing)
		require.Zero(t, repo.insertCalls)
	})

	t.Run("unreleased escrow persists nothing", func(t *testing.T) {
		svc, repo, ledger, _ := newFixture(t)
		sc := settledCase()
		sc.EscrowReleased = false
		postDvP(t, ledger, sc)

		_, err := svc.IssueCertificate(context.Background(), sc, order)
		require.ErrorIs(t, err, domain.ErrEscrowNotReleased)
		require.Zero(t, repo.insertCalls)
	})

	t.Run("reissue after a failed insert keeps the settlement-day number", func(t *testing.T) {
		inner := newFakeCertificateRepo()
		repo := &crashingCertRepo{inner: inner, failures: 1}
		ledger := NewLedgerService(newFakeJournalRepo(), clock.NewFixed(now))
		sc := settledCase()
		postDvP(t, ledger, sc)

		svc := NewCertificateService(repo, ledger, &capturePublisher{}, clock.NewFixed(now), zap.NewNop())
		_, err := svc.IssueCertificate(context.Background(), sc, order)
		require.Error(t, err)
		require.Zero(t, inner.insertCalls)

		// Retry lands after midnight; the number keeps the day the DvP
		// journal posted, not the retry date.
		lateClock := clock.NewFixed(now.Add(16 * time.Hour))
		retry := NewCertificateService(repo, ledger, &capturePublisher{}, lateClock, zap.NewNop())
		cert, err := retry.IssueCertificate(context.Background(), sc, order)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(cert.Number, "PC-20260301-"))
	})

	t.Run("insert conflict returns the concurrent winner", func(t *testing.T) {
		inner := newFakeCertificateRepo()
		ledger := NewLedgerService(newFakeJournalRepo(), clock.NewFixed(now))
		sc := settledCase()
		postDvP(t, ledger, sc)

		winner := domain.ClearingCertificate{
			ID:               "cert-0",
			SettlementCaseID: sc.ID,
			OrderID:          order.ID,
			Number:           "PC-20260301-AAAAAAAAAAAA",
		}
		repo := &racingCertRepo{inner: inner, winner: winner}
		svc := NewCertificateService(repo, ledger, &capturePublisher{}, clock.NewFixed(now), zap.NewNop())

		cert, err := svc.IssueCertificate(context.Background(), sc, order)
		require.NoError(t, err)
		require.Equal(t, winner.ID, cert.ID)
	})
}

// crashingCertRepo fails the first insert, simulating a crash after the
// number was derived but before the row landed.
type crashingCertRepo struct {
	inner    *fakeCertificateRepo
	failures int
}

func (r *crashingCertRepo) GetBySettlementID(ctx context.Context, caseID string) (*domain.ClearingCertificate, error) {
	return r.inner.GetBySettlementID(ctx, caseID)
}

func (r *crashingCertRepo) Insert(ctx context.Context, cert domain.ClearingCertificate) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("connection reset")
	}
	return r.inner.Insert(ctx, cert)
}

// racingCertRepo simulates another issuer landing its insert between
// our read and our write.
type racingCertRepo struct {
	inner  *fakeCertificateRepo
	winner domain.ClearingCertificate
	raced  bool
}

func (r *racingCertRepo) GetBySettlementID(ctx context.Context, caseID string) (*domain.ClearingCertificate, error) {
	if !r.raced {
		return nil, nil
	}
	return r.inner.GetBySettlementID(ctx, caseID)
}

func (r *racingCertRepo) Insert(ctx context.Context, cert domain.ClearingCertificate) error {
	if !r.raced {
		r.raced = true
		_ = r.inner.Insert(ctx, r.winner)
	}
	return r.inner.Insert(ctx, cert)
}
