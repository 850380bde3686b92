package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bullionclear/clearing/internal/app"
	"github.com/bullionclear/clearing/internal/domain"
	"github.com/bullionclear/clearing/internal/rail"
)

// SettlementCoordinator drives the settlement state machine.
type SettlementCoordinator interface {
	GetCase(ctx context.Context, caseID string) (domain.SettlementCase, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ConfirmGate(ctx context.Context, caseID string, gate domain.Gate) (domain.SettlementCase, error)
	Authorize(ctx context.Context, caseID string) (domain.SettlementCase, error)
	Cancel(ctx context.Context, caseID string) error
}

// PayoutRouter moves money and resolves in-flight outcomes.
type PayoutRouter interface {
	RoutePayout(ctx context.Context, in app.RoutePayoutInput) (app.RoutePayoutResult, error)
	ResolveCase(ctx context.Context, caseID string) (rail.Verdict, error)
}

// CertificateIssuer issues the proof-of-clearing for a settled case.
type CertificateIssuer interface {
	IssueCertificate(ctx context.Context, sc domain.SettlementCase, order domain.Order) (domain.ClearingCertificate, error)
}

// SettlementHandler dispatches everything under /settlements/.
type SettlementHandler struct {
	settlements  SettlementCoordinator
	payouts      PayoutRouter
	certificates CertificateIssuer
}

func NewSettlementHandler(settlements SettlementCoordinator, payouts PayoutRouter, certificates CertificateIssuer) *SettlementHandler {
	return &SettlementHandler{
		settlements:  settlements,
		payouts:      payouts,
		certificates: certificates,
	}
}

func (h *SettlementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "settlements" || parts[1] == "" {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
		return
	}
	caseID := parts[1]

	switch {
	case len(parts) == 2:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		h.getCase(w, r, caseID)
	case len(parts) == 4 && parts[2] == "gates":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		h.confirmGate(w, r, caseID, parts[3])
	case len(parts) == 3:
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		switch parts[2] {
		case "authorize":
			h.authorize(w, r, caseID)
		case "payout":
			h.payout(w, r, caseID)
		case "resolve":
			h.resolve(w, r, caseID)
		case "certificate":
			h.certificate(w, r, caseID)
		case "cancel":
			h.cancel(w, r, caseID)
		default:
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
		}
	default:
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	}
}

func (h *SettlementHandler) getCase(w http.ResponseWriter, r *http.Request, caseID string) {
	sc, err := h.settlements.GetCase(r.Context(), caseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeCase(w, http.StatusOK, sc)
}

func (h *SettlementHandler) confirmGate(w http.ResponseWriter, r *http.Request, caseID, gateName string) {
	gate := domain.Gate(gateName)
	switch gate {
	case domain.GateFunds, domain.GateAsset, domain.GateVerification:
	default:
		writeError(w, http.StatusNotFound, codeNotFound, "unknown gate")
		return
	}

	sc, err := h.settlements.ConfirmGate(r.Context(), caseID, gate)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeCase(w, http.StatusOK, sc)
}

func (h *SettlementHandler) authorize(w http.ResponseWriter, r *http.Request, caseID string) {
	sc, err := h.settlements.Authorize(r.Context(), caseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeCase(w, http.StatusOK, sc)
}

func (h *SettlementHandler) cancel(w http.ResponseWriter, r *http.Request, caseID string) {
	if err := h.settlements.Cancel(r.Context(), caseID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SettlementHandler) payout(w http.ResponseWriter, r *http.Request, caseID string) {
	var req payoutRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	if req.PayeeID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidID, "payee_id is required")
		return
	}

	res, err := h.payouts.RoutePayout(r.Context(), app.RoutePayoutInput{
		SettlementCaseID: caseID,
		PayeeID:          req.PayeeID,
		AmountCents:      req.AmountCents,
		FeeCents:         req.FeeCents,
		IdempotencyKey:   r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(payoutResponse{
		AttemptID:   res.Attempt.ID,
		Rail:        res.Rail,
		Status:      string(res.Attempt.Status),
		ExternalIDs: res.ExternalIDs,
		AmountCents: res.Attempt.AmountCents,
	})
}

func (h *SettlementHandler) resolve(w http.ResponseWriter, r *http.Request, caseID string) {
	verdict, err := h.payouts.ResolveCase(r.Context(), caseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	sc, err := h.settlements.GetCase(r.Context(), caseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resolveResponse{
		Verdict:    string(verdict),
		CaseStatus: string(sc.Status),
	})
}

func (h *SettlementHandler) certificate(w http.ResponseWriter, r *http.Request, caseID string) {
	sc, err := h.settlements.GetCase(r.Context(), caseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	order, err := h.settlements.GetOrder(r.Context(), sc.OrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	cert, err := h.certificates.IssueCertificate(r.Context(), sc, order)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(certificateResponse{
		ID:               cert.ID,
		SettlementCaseID: cert.SettlementCaseID,
		OrderID:          cert.OrderID,
		Number:           cert.Number,
		WeightGrams:      cert.WeightGrams,
		NotionalCents:    cert.NotionalCents,
		Currency:         cert.Currency,
		SignatureHash:    cert.SignatureHash,
		IssuedAt:         cert.IssuedAt,
	})
}

func writeCase(w http.ResponseWriter, status int, sc domain.SettlementCase) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(caseResponse{
		ID:                  sc.ID,
		OrderID:             sc.OrderID,
		ListingID:           sc.ListingID,
		Rail:                sc.Rail,
		Status:              string(sc.Status),
		WeightGrams:         sc.WeightGrams,
		NotionalCents:       sc.NotionalCents,
		Currency:            sc.Currency,
		FundsConfirmed:      sc.FundsConfirmed,
		AssetAllocated:      sc.AssetAllocated,
		VerificationCleared: sc.VerificationCleared,
		EscrowReleased:      sc.EscrowReleased,
		CreatedAt:           sc.CreatedAt,
		UpdatedAt:           sc.UpdatedAt,
	})
}

type payoutRequest struct {
	PayeeID     string `json:"payee_id"`
	AmountCents int64  `json:"amount_cents"`
	FeeCents    int64  `json:"fee_cents"`
}

type payoutResponse struct {
	AttemptID   string   `json:"attempt_id"`
	Rail        string   `json:"rail"`
	Status      string   `json:"status"`
	ExternalIDs []string `json:"external_ids"`
	AmountCents int64    `json:"amount_cents"`
}

type resolveResponse struct {
	Verdict    string `json:"verdict"`
	CaseStatus string `json:"case_status"`
}

type certificateResponse struct {
	ID               string    `json:"id"`
	SettlementCaseID string    `json:"settlement_case_id"`
	OrderID          string    `json:"order_id"`
	Number           string    `json:"number"`
	WeightGrams      int64     `json:"weight_grams"`
	NotionalCents    int64     `json:"notional_cents"`
	Currency         string    `json:"currency"`
	SignatureHash    string    `json:"signature_hash"`
	IssuedAt         time.Time `json:"issued_at"`
}

type caseResponse struct {
	ID                  string    `json:"id"`
	OrderID             string    `json:"order_id"`
	ListingID           string    `json:"listing_id"`
	Rail                string    `json:"rail"`
	Status              string    `json:"status"`
	WeightGrams         int64     `json:"weight_grams"`
	NotionalCents       int64     `json:"notional_cents"`
	Currency            string    `json:"currency"`
	FundsConfirmed      bool      `json:"funds_confirmed"`
	AssetAllocated      bool      `json:"asset_allocated"`
	VerificationCleared bool      `json:"verification_cleared"`
	EscrowReleased      bool      `json:"escrow_released"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
