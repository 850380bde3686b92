package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bullionclear/clearing/internal/domain"
	"github.com/bullionclear/clearing/internal/rail"
)

const (
	codeMethodNotAllowed    = "method_not_allowed"
	codeNotFound            = "not_found"
	codeInvalidRequestBody  = "invalid_request_body"
	codeInvalidID           = "invalid_id"
	codeInvalidWeight       = "invalid_weight"
	codeInvalidAmount       = "invalid_amount"
	codeIdempotencyRequired = "idempotency_key_required"
	codeIdempotencyConflict = "idempotency_conflict"
	codeListingNotFound     = "listing_not_found"
	codeListingSuspended    = "listing_suspended"
	codeInventoryExhausted  = "inventory_exhausted"
	codeReservationNotFound = "reservation_not_found"
	codeReservationInactive = "reservation_not_active"
	codeReservationExpired  = "reservation_expired"
	codePolicyBlocked       = "policy_blocked"
	codeOrderNotFound       = "order_not_found"
	codeCaseNotFound        = "case_not_found"
	codeAttemptNotFound     = "payout_attempt_not_found"
	codeInvalidTransition   = "invalid_state_transition"
	codeStatusConflict      = "status_conflict"
	codeGatesNotSatisfied   = "gates_not_satisfied"
	codeCaseMidFlight       = "case_mid_flight"
	codeNotSettled          = "not_settled"
	codeDvPEntryMissing     = "dvp_entry_missing"
	codeEscrowNotReleased   = "escrow_not_released"
	codeRailDeclined        = "rail_declined"
	codeRailOutcomeUnknown  = "rail_outcome_unknown"
	codeForbidden           = "forbidden"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeDomainError maps domain sentinels onto the JSON error envelope.
// Unrecognized errors become opaque 500s; their detail stays in the logs.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, codeInternalError
	msg := err.Error()

	switch {
	case errors.Is(err, domain.ErrInvalidID):
		status, code = http.StatusBadRequest, codeInvalidID
	case errors.Is(err, domain.ErrInvalidWeight):
		status, code = http.StatusBadRequest, codeInvalidWeight
	case errors.Is(err, domain.ErrInvalidAmount):
		status, code = http.StatusBadRequest, codeInvalidAmount
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		status, code = http.StatusBadRequest, codeIdempotencyRequired
	case errors.Is(err, domain.ErrIdempotencyConflict):
		status, code = http.StatusConflict, codeIdempotencyConflict
	case errors.Is(err, domain.ErrListingNotFound):
		status, code = http.StatusNotFound, codeListingNotFound
	case errors.Is(err, domain.ErrListingSuspended):
		status, code = http.StatusConflict, codeListingSuspended
	case errors.Is(err, domain.ErrInventoryExhausted):
		status, code = http.StatusConflict, codeInventoryExhausted
	case errors.Is(err, domain.ErrReservationNotFound):
		status, code = http.StatusNotFound, codeReservationNotFound
	case errors.Is(err, domain.ErrReservationNotActive):
		status, code = http.StatusConflict, codeReservationInactive
	case errors.Is(err, domain.ErrReservationExpired):
		status, code = http.StatusConflict, codeReservationExpired
	case errors.Is(err, domain.ErrPolicyBlocked):
		status, code = http.StatusForbidden, codePolicyBlocked
	case errors.Is(err, domain.ErrOrderNotFound):
		status, code = http.StatusNotFound, codeOrderNotFound
	case errors.Is(err, domain.ErrCaseNotFound):
		status, code = http.StatusNotFound, codeCaseNotFound
	case errors.Is(err, domain.ErrAttemptNotFound):
		status, code = http.StatusNotFound, codeAttemptNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = http.StatusConflict, codeInvalidTransition
	case errors.Is(err, domain.ErrStatusConflict), errors.Is(err, domain.ErrVersionConflict):
		status, code = http.StatusConflict, codeStatusConflict
	case errors.Is(err, domain.ErrGatesNotSatisfied):
		status, code = http.StatusConflict, codeGatesNotSatisfied
	case errors.Is(err, domain.ErrCaseMidFlight):
		status, code = http.StatusConflict, codeCaseMidFlight
	case errors.Is(err, domain.ErrNotSettled):
		status, code = http.StatusConflict, codeNotSettled
	case errors.Is(err, domain.ErrDvPEntryMissing):
		status, code = http.StatusConflict, codeDvPEntryMissing
	case errors.Is(err, domain.ErrEscrowNotReleased):
		status, code = http.StatusConflict, codeEscrowNotReleased
	case errors.Is(err, domain.ErrPayoutAmbiguous):
		// A rail call may have fired before the error surfaced; an
		// opaque 500 would invite a blind retry.
		status, code = http.StatusBadGateway, codeRailOutcomeUnknown
		msg = "payout outcome unknown; resolve before retrying"
	case errors.Is(err, rail.ErrDeclined):
		status, code = http.StatusBadGateway, codeRailDeclined
	}

	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}
