package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bullionclear/clearing/internal/clock"
	"github.com/bullionclear/clearing/internal/domain"
	"github.com/bullionclear/clearing/internal/events"
)

type CertificateRepository interface {
	GetBySettlementID(ctx context.Context, caseID string) (*domain.ClearingCertificate, error)
	// Insert enforces the one-certificate-per-settlement unique
	// constraint, returning ErrIdempotencyConflict on a duplicate.
	Insert(ctx context.Context, cert domain.ClearingCertificate) error
}

// CertificateService issues the signed proof-of-clearing once DvP is
// proven complete: the case settled, the dvp_executed journal posted,
// and escrow released. At most one certificate exists per settlement.
type CertificateService struct {
	repo      CertificateRepository
	ledger    *LedgerService
	publisher events.Publisher
	clock     clock.Clock
	logger    *zap.Logger
}

func NewCertificateService(repo CertificateRepository, ledger *LedgerService, publisher events.Publisher, clk clock.Clock, logger *zap.Logger) *CertificateService {
	return &CertificateService{
		repo:      repo,
		ledger:    ledger,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// IssueCertificate verifies every precondition before issuing; a missing
// one raises a named error and persists nothing. Re-running issuance
// after a crash reproduces the same certificate number, never a new one.
func (s *CertificateService) IssueCertificate(ctx context.Context, sc domain.SettlementCase, order domain.Order) (domain.ClearingCertificate, error) {
	if existing, err := s.repo.GetBySettlementID(ctx, sc.ID); err != nil {
		return domain.ClearingCertificate{}, err
	} else if existing != nil {
		return *existing, nil
	}

	if sc.Status != domain.CaseSettled {
		return domain.ClearingCertificate{}, domain.ErrNotSettled
	}
	journal, err := s.ledger.FindDvPJournal(ctx, sc.ID)
	if err != nil {
		return domain.ClearingCertificate{}, err
	}
	if journal == nil {
		return domain.ClearingCertificate{}, domain.ErrDvPEntryMissing
	}
	if !sc.EscrowReleased {
		return domain.ClearingCertificate{}, domain.ErrEscrowNotReleased
	}

	now := s.clock.Now()
	number := certificateNumber(sc.ID, order.ID, journal.ID, journal.PostedAt)

	cert := domain.ClearingCertificate{
		ID:               newID(),
		SettlementCaseID: sc.ID,
		OrderID:          order.ID,
		Number:           number,
		WeightGrams:      sc.WeightGrams,
		NotionalCents:    sc.NotionalCents,
		Currency:         sc.Currency,
		SignatureHash:    signatureHash(sc, order, number),
		IssuedAt:         now,
	}

	if err := s.repo.Insert(ctx, cert); err != nil {
		// A concurrent issue won; the stored certificate is canonical.
		if err == domain.ErrIdempotencyConflict {
			existing, rerr := s.repo.GetBySettlementID(ctx, sc.ID)
			if rerr != nil {
				return domain.ClearingCertificate{}, rerr
			}
			if existing != nil {
				return *existing, nil
			}
		}
		return domain.ClearingCertificate{}, err
	}

	s.logger.Info("certificate issued",
		zap.String("case_id", sc.ID),
		zap.String("number", cert.Number),
	)
	if err := s.publisher.Publish(ctx, events.Event{
		Type:             events.TypeCertificateIssued,
		SettlementCaseID: sc.ID,
		OrderID:          order.ID,
		Payload:          map[string]any{"number": cert.Number},
		OccurredAt:       now,
	}); err != nil {
		s.logger.Warn("event publish failed", zap.String("case_id", sc.ID), zap.Error(err))
	}
	return cert, nil
}

// certificateNumber derives a deterministic number from settlement,
// order, and ledger identifiers plus the settlement date (the DvP
// journal's posting time, never the wall clock), so reissuance after a
// crash reproduces the same number even across a date boundary.
func certificateNumber(caseID, orderID, journalID string, settledAt time.Time) string {
	day := settledAt.Format("20060102")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", caseID, orderID, journalID, day)))
	return fmt.Sprintf("PC-%s-%s", day, strings.ToUpper(hex.EncodeToString(sum[:6])))
}

func signatureHash(sc domain.SettlementCase, order domain.Order, number string) string {
	payload := fmt.Sprintf("%s|%s|%s|%d|%d|%s",
		number, sc.ID, order.ID, sc.WeightGrams, sc.NotionalCents, sc.Currency)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
