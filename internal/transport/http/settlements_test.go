package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bullionclear/clearing/internal/app"
	"github.com/bullionclear/clearing/internal/domain"
	"github.com/bullionclear/clearing/internal/rail"
)

func newStubHandler() (*SettlementHandler, *stubCoordinator, *stubPayouts, *stubIssuer) {
	coord := &stubCoordinator{sc: domain.SettlementCase{
		ID:      "case-1",
		OrderID: "order-1",
		Status:  domain.CaseEscrowOpen,
	}}
	payouts := &stubPayouts{
		result: app.RoutePayoutResult{
			Attempt: domain.PayoutAttempt{
				ID:          "attempt-1",
				Status:      domain.AttemptSubmitted,
				AmountCents: 300_000,
			},
			Rail:        "stripe",
			ExternalIDs: []string{"tr_123"},
		},
		verdict: rail.ConfirmedSuccess,
	}
	issuer := &stubIssuer{cert: domain.ClearingCertificate{
		ID:               "cert-1",
		SettlementCaseID: "case-1",
		OrderID:          "order-1",
		Number:           "PC-20260301-AAAAAAAAAAAA",
	}}
	return NewSettlementHandler(coord, payouts, issuer), coord, payouts, issuer
}

func doRequest(h *SettlementHandler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSettlementHandler_Routing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
		expectedSubstr string
	}{
		{"get case", http.MethodGet, "/settlements/case-1", http.StatusOK, `"id":"case-1"`},
		{"get case wrong method", http.MethodPost, "/settlements/case-1", http.StatusMethodNotAllowed, ""},
		{"missing id", http.MethodGet, "/settlements/", http.StatusNotFound, ""},
		{"unknown action", http.MethodPost, "/settlements/case-1/explode", http.StatusNotFound, ""},
		{"unknown gate", http.MethodPost, "/settlements/case-1/gates/vibes_checked", http.StatusNotFound, "unknown gate"},
		{"gate wrong method", http.MethodGet, "/settlements/case-1/gates/funds_confirmed", http.StatusMethodNotAllowed, ""},
		{"too deep", http.MethodPost, "/settlements/case-1/gates/funds_confirmed/extra", http.StatusNotFound, ""},
		{"cancel", http.MethodPost, "/settlements/case-1/cancel", http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, _, _, _ := newStubHandler()
			rec := doRequest(h, tt.method, tt.path, "", nil)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d (body %s)", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.expectedSubstr != "" && !strings.Contains(rec.Body.String(), tt.expectedSubstr) {
				t.Fatalf("expected response to contain %q, got %q", tt.expectedSubstr, rec.Body.String())
			}
		})
	}
}

func TestSettlementHandler_ConfirmGate(t *testing.T) {
	t.Parallel()

	for _, gate := range []string{"funds_confirmed", "asset_allocated", "verification_cleared"} {
		gate := gate
		t.Run(gate, func(t *testing.T) {
			t.Parallel()
			h, coord, _, _ := newStubHandler()
			rec := doRequest(h, http.MethodPost, "/settlements/case-1/gates/"+gate, "", nil)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d (body %s)", rec.Code, rec.Body.String())
			}
			if coord.gotGate != domain.Gate(gate) {
				t.Fatalf("expected gate %q passed through, got %q", gate, coord.gotGate)
			}
		})
	}

	t.Run("domain errors map to conflict", func(t *testing.T) {
		t.Parallel()
		h, coord, _, _ := newStubHandler()
		coord.gateErr = domain.ErrCaseMidFlight

		rec := doRequest(h, http.MethodPost, "/settlements/case-1/gates/funds_confirmed", "", nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), codeCaseMidFlight) {
			t.Fatalf("expected code %s, got %s", codeCaseMidFlight, rec.Body.String())
		}
	})
}

func TestSettlementHandler_Authorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedSubstr string
	}{
		{"success", nil, http.StatusOK, `"status":"escrow_open"`},
		{"gates not satisfied", domain.ErrGatesNotSatisfied, http.StatusConflict, codeGatesNotSatisfied},
		{"case not found", domain.ErrCaseNotFound, http.StatusNotFound, codeCaseNotFound},
		{"illegal transition", domain.ErrInvalidTransition, http.StatusConflict, codeInvalidTransition},
		{"lost race", domain.ErrStatusConflict, http.StatusConflict, codeStatusConflict},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, coord, _, _ := newStubHandler()
			coord.authorizeErr = tt.err

			rec := doRequest(h, http.MethodPost, "/settlements/case-1/authorize", "", nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedSubstr != "" && !strings.Contains(rec.Body.String(), tt.expectedSubstr) {
				t.Fatalf("expected response to contain %q, got %q", tt.expectedSubstr, rec.Body.String())
			}
		})
	}
}

func TestSettlementHandler_Payout(t *testing.T) {
	t.Parallel()

	validBody := `{"payee_id":"seller-1","amount_cents":300000,"fee_cents":2800}`
	header := map[string]string{idempotencyHeader: "payout-key-1"}

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		h, _, payouts, _ := newStubHandler()

		rec := doRequest(h, http.MethodPost, "/settlements/case-1/payout", validBody, header)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d (body %s)", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"attempt_id":"attempt-1"`) {
			t.Fatalf("unexpected body %s", rec.Body.String())
		}
		if payouts.gotInput.IdempotencyKey != "payout-key-1" {
			t.Fatalf("expected key from header, got %q", payouts.gotInput.IdempotencyKey)
		}
		if payouts.gotInput.SettlementCaseID != "case-1" {
			t.Fatalf("expected case id from path, got %q", payouts.gotInput.SettlementCaseID)
		}
	})

	t.Run("missing payee", func(t *testing.T) {
		t.Parallel()
		h, _, _, _ := newStubHandler()

		rec := doRequest(h, http.MethodPost, "/settlements/case-1/payout", `{"amount_cents":1}`, header)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("replay refused", func(t *testing.T) {
		t.Parallel()
		h, _, payouts, _ := newStubHandler()
		payouts.routeErr = domain.ErrIdempotencyConflict

		rec := doRequest(h, http.MethodPost, "/settlements/case-1/payout", validBody, header)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rec.Code)
		}
	})

	t.Run("rail declined", func(t *testing.T) {
		t.Parallel()
		h, _, payouts, _ := newStubHandler()
		payouts.routeErr = rail.ErrDeclined

		rec := doRequest(h, http.MethodPost, "/settlements/case-1/payout", validBody, header)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), codeRailDeclined) {
			t.Fatalf("expected code %s, got %s", codeRailDeclined, rec.Body.String())
		}
	})

	t.Run("ambiguous outcome tells the caller to resolve", func(t *testing.T) {
		t.Parallel()
		h, _, payouts, _ := newStubHandler()
		payouts.routeErr = fmt.Errorf("%w: context deadline exceeded", domain.ErrPayoutAmbiguous)

		rec := doRequest(h, http.MethodPost, "/settlements/case-1/payout", validBody, header)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), codeRailOutcomeUnknown) {
			t.Fatalf("expected code %s, got %s", codeRailOutcomeUnknown, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "resolve before retrying") {
			t.Fatalf("expected resolve hint, got %s", rec.Body.String())
		}
	})
}

func TestSettlementHandler_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("reports verdict and resulting status", func(t *testing.T) {
		t.Parallel()
		h, coord, payouts, _ := newStubHandler()
		payouts.verdict = rail.ConfirmedSuccess
		coord.sc.Status = domain.CaseSettled

		rec := doRequest(h, http.MethodPost, "/settlements/case-1/resolve", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, `"verdict":"CONFIRMED_SUCCESS"`) || !strings.Contains(body, `"case_status":"settled"`) {
			t.Fatalf("unexpected body %s", body)
		}
	})

	t.Run("nothing to resolve", func(t *testing.T) {
		t.Parallel()
		h, _, payouts, _ := newStubHandler()
		payouts.resolveErr = domain.ErrInvalidTransition

		rec := doRequest(h, http.MethodPost, "/settlements/case-1/resolve", "", nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rec.Code)
		}
	})
}

func TestSettlementHandler_Certificate(t *testing.T) {
	t.Parallel()

	t.Run("issued", func(t *testing.T) {
		t.Parallel()
		h, coord, _, issuer := newStubHandler()
		coord.sc.Status = domain.CaseSettled

		rec := doRequest(h, http.MethodPost, "/settlements/case-1/certificate", "", nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d (body %s)", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"number":"PC-20260301-AAAAAAAAAAAA"`) {
			t.Fatalf("unexpected body %s", rec.Body.String())
		}
		if issuer.gotOrderID != "order-1" {
			t.Fatalf("expected issuer to receive the case order, got %q", issuer.gotOrderID)
		}
	})

	t.Run("preconditions surface as conflicts", func(t *testing.T) {
		t.Parallel()
		for _, tc := range []struct {
			err  error
			code string
		}{
			{domain.ErrNotSettled, codeNotSettled},
			{domain.ErrDvPEntryMissing, codeDvPEntryMissing},
			{domain.ErrEscrowNotReleased, codeEscrowNotReleased},
		} {
			h, _, _, issuer := newStubHandler()
			issuer.err = tc.err

			rec := doRequest(h, http.MethodPost, "/settlements/case-1/certificate", "", nil)
			if rec.Code != http.StatusConflict {
				t.Fatalf("%v: expected status 409, got %d", tc.err, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tc.code) {
				t.Fatalf("expected code %s, got %s", tc.code, rec.Body.String())
			}
		}
	})

	t.Run("order lookup failure", func(t *testing.T) {
		t.Parallel()
		h, coord, _, _ := newStubHandler()
		coord.orderErr = domain.ErrOrderNotFound

		rec := doRequest(h, http.MethodPost, "/settlements/case-1/certificate", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rec.Code)
		}
	})
}

type stubCoordinator struct {
	sc           domain.SettlementCase
	order        domain.Order
	getErr       error
	orderErr     error
	gateErr      error
	authorizeErr error
	cancelErr    error
	gotGate      domain.Gate
}

func (s *stubCoordinator) GetCase(_ context.Context, _ string) (domain.SettlementCase, error) {
	return s.sc, s.getErr
}

func (s *stubCoordinator) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	if s.order.ID == "" {
		s.order = domain.Order{ID: orderID}
	}
	return s.order, s.orderErr
}

func (s *stubCoordinator) ConfirmGate(_ context.Context, _ string, gate domain.Gate) (domain.SettlementCase, error) {
	s.gotGate = gate
	return s.sc, s.gateErr
}

func (s *stubCoordinator) Authorize(_ context.Context, _ string) (domain.SettlementCase, error) {
	return s.sc, s.authorizeErr
}

func (s *stubCoordinator) Cancel(_ context.Context, _ string) error {
	return s.cancelErr
}

type stubPayouts struct {
	result     app.RoutePayoutResult
	routeErr   error
	verdict    rail.Verdict
	resolveErr error
	gotInput   app.RoutePayoutInput
}

func (s *stubPayouts) RoutePayout(_ context.Context, in app.RoutePayoutInput) (app.RoutePayoutResult, error) {
	s.gotInput = in
	return s.result, s.routeErr
}

func (s *stubPayouts) ResolveCase(_ context.Context, _ string) (rail.Verdict, error) {
	return s.verdict, s.resolveErr
}

type stubIssuer struct {
	cert       domain.ClearingCertificate
	err        error
	gotOrderID string
}

func (s *stubIssuer) IssueCertificate(_ context.Context, _ domain.SettlementCase, order domain.Order) (domain.ClearingCertificate, error) {
	s.gotOrderID = order.ID
	return s.cert, s.err
}
