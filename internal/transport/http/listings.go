package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bullionclear/clearing/internal/app"
	"github.com/bullionclear/clearing/internal/domain"
)

// ListingAdmin is the minimal interface the listing routes need.
type ListingAdmin interface {
	PublishListing(ctx context.Context, in app.PublishListingInput) (domain.Listing, domain.InventoryPosition, error)
	GetListing(ctx context.Context, listingID string) (domain.Listing, domain.InventoryPosition, error)
	Suspend(ctx context.Context, listingID string) error
	Unsuspend(ctx context.Context, listingID string) error
}

// HandleCreateListing returns an HTTP handler for publishing listings.
func HandleCreateListing(svc ListingAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		var req createListingRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		listing, pos, err := svc.PublishListing(r.Context(), app.PublishListingInput{
			SellerID:            req.SellerID,
			Description:         req.Description,
			TotalGrams:          req.TotalGrams,
			PremiumPerGramCents: req.PremiumPerGramCents,
			Currency:            req.Currency,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(listingResponse{
			ID:                  listing.ID,
			SellerID:            listing.SellerID,
			Description:         listing.Description,
			PremiumPerGramCents: listing.PremiumPerGramCents,
			Currency:            listing.Currency,
			Suspended:           listing.Suspended,
			TotalGrams:          pos.TotalGrams,
			AvailableGrams:      pos.AvailableGrams,
			CreatedAt:           listing.CreatedAt,
		})
	}
}

// HandleListing dispatches GET /listings/{id} and POST
// /listings/{id}/suspend or /listings/{id}/unsuspend.
func HandleListing(svc ListingAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "listings" || parts[1] == "" {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}
		listingID := parts[1]

		switch {
		case len(parts) == 2 && r.Method == http.MethodGet:
			listing, pos, err := svc.GetListing(r.Context(), listingID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(listingResponse{
				ID:                  listing.ID,
				SellerID:            listing.SellerID,
				Description:         listing.Description,
				PremiumPerGramCents: listing.PremiumPerGramCents,
				Currency:            listing.Currency,
				Suspended:           listing.Suspended,
				TotalGrams:          pos.TotalGrams,
				AvailableGrams:      pos.AvailableGrams,
				ReservedGrams:       pos.ReservedGrams,
				AllocatedGrams:      pos.AllocatedGrams,
				CreatedAt:           listing.CreatedAt,
			})
		case len(parts) == 3 && parts[2] == "suspend" && r.Method == http.MethodPost:
			if err := svc.Suspend(r.Context(), listingID); err != nil {
				writeDomainError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case len(parts) == 3 && parts[2] == "unsuspend" && r.Method == http.MethodPost:
			if err := svc.Unsuspend(r.Context(), listingID); err != nil {
				writeDomainError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case len(parts) == 2 || (len(parts) == 3 && (parts[2] == "suspend" || parts[2] == "unsuspend")):
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		default:
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
		}
	}
}

type createListingRequest struct {
	SellerID            string `json:"seller_id"`
	Description         string `json:"description"`
	TotalGrams          int64  `json:"total_grams"`
	PremiumPerGramCents int64  `json:"premium_per_gram_cents"`
	Currency            string `json:"currency"`
}

type listingResponse struct {
	ID                  string    `json:"id"`
	SellerID            string    `json:"seller_id"`
	Description         string    `json:"description"`
	PremiumPerGramCents int64     `json:"premium_per_gram_cents"`
	Currency            string    `json:"currency"`
	Suspended           bool      `json:"suspended"`
	TotalGrams          int64     `json:"total_grams"`
	AvailableGrams      int64     `json:"available_grams"`
	ReservedGrams       int64     `json:"reserved_grams"`
	AllocatedGrams      int64     `json:"allocated_grams"`
	CreatedAt           time.Time `json:"created_at"`
}
