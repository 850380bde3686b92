package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bullionclear/clearing/internal/app"
	"github.com/bullionclear/clearing/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

// CheckoutExecutor is the minimal interface needed to run a checkout.
type CheckoutExecutor interface {
	ExecuteCheckout(ctx context.Context, in app.CheckoutInput) (app.CheckoutResult, error)
}

// CaseOpener accepts a completed order for clearing.
type CaseOpener interface {
	OpenCase(ctx context.Context, in app.OpenCaseInput) (domain.SettlementCase, error)
}

// HandleCheckout returns an HTTP handler for the atomic checkout path.
// A successful checkout immediately opens the settlement case on the
// configured rail; replays return the existing order and case.
func HandleCheckout(checkout CheckoutExecutor, settlements CaseOpener, railName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		var req checkoutRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get(idempotencyHeader)
		}
		if req.ListingID == "" || req.BuyerID == "" {
			writeError(w, http.StatusBadRequest, codeInvalidID, "listing_id and buyer_id are required")
			return
		}

		res, err := checkout.ExecuteCheckout(r.Context(), app.CheckoutInput{
			ListingID:      req.ListingID,
			BuyerID:        req.BuyerID,
			WeightGrams:    req.WeightGrams,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		sc, err := settlements.OpenCase(r.Context(), app.OpenCaseInput{
			Order: res.Order,
			Rail:  railName,
			Capital: domain.CapitalSnapshot{
				BuyerExposureCents: res.Order.NotionalCents,
			},
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := checkoutResponse{
			OrderID:           res.Order.ID,
			ReservationID:     res.Reservation.ID,
			SettlementCaseID:  sc.ID,
			ListingID:         res.Order.ListingID,
			WeightGrams:       res.Order.WeightGrams,
			PricePerGramCents: res.Order.PricePerGramCents,
			NotionalCents:     res.Order.NotionalCents,
			Currency:          res.Order.Currency,
			CaseStatus:        string(sc.Status),
			CreatedAt:         res.Order.CreatedAt,
		}

		w.Header().Set("Content-Type", "application/json")
		if res.Created {
			w.WriteHeader(http.StatusCreated)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

type checkoutRequest struct {
	ListingID      string `json:"listing_id"`
	BuyerID        string `json:"buyer_id"`
	WeightGrams    int64  `json:"weight_grams"`
	IdempotencyKey string `json:"idempotency_key"`
}

type checkoutResponse struct {
	OrderID           string    `json:"order_id"`
	ReservationID     string    `json:"reservation_id"`
	SettlementCaseID  string    `json:"settlement_case_id"`
	ListingID         string    `json:"listing_id"`
	WeightGrams       int64     `json:"weight_grams"`
	PricePerGramCents int64     `json:"price_per_gram_cents"`
	NotionalCents     int64     `json:"notional_cents"`
	Currency          string    `json:"currency"`
	CaseStatus        string    `json:"case_status"`
	CreatedAt         time.Time `json:"created_at"`
}
