package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	checkoutsvc "github.com/angelmondragon/projecthub-backend/internal/checkout"
	"github.com/angelmondragon/projecthub-backend/internal/payments"
	"github.com/angelmondragon/projecthub-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
)

type stubCheckoutService struct {
	result    *checkoutsvc.SessionResult
	err       error
	calls     int
	principal auth.Principal
	input     checkoutsvc.SessionInput
}

func (s *stubCheckoutService) CreateSession(ctx context.Context, principal auth.Principal, input checkoutsvc.SessionInput) (*checkoutsvc.SessionResult, error) {
	s.calls++
	s.principal = principal
	s.input = input
	return s.result, s.err
}

type stubPoller struct {
	status    *payments.SessionStatus
	err       error
	sessionID string
}

func (s *stubPoller) PollStatus(ctx context.Context, principal auth.Principal, sessionID string) (*payments.SessionStatus, error) {
	s.sessionID = sessionID
	return s.status, s.err
}

func TestCheckoutSessionCreates(t *testing.T) {
	svc := &stubCheckoutService{result: &checkoutsvc.SessionResult{SessionID: "sess_1", URL: "https://checkout.stripe.com/c/pay/sess_1"}}
	body := `{"amount":"89.00","success_url":"https://projecthub.test/success","cancel_url":"https://projecthub.test/cancel","metadata":{"project_id":"c0a8012e-7d4b-4c1e-9b7a-111111111111"}}`
	req := newRequest(http.MethodPost, "/api/v1/payments/checkout/session", strings.NewReader(body), &buyer, nil)
	req.Header.Set("Idempotency-Key", " retry-1 ")
	rec := httptest.NewRecorder()

	CheckoutSession(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, buyer, svc.principal)
	assert.True(t, decimal.RequireFromString("89.00").Equal(svc.input.Amount))
	assert.Equal(t, "retry-1", svc.input.IdempotencyKey)
	assert.Equal(t, "c0a8012e-7d4b-4c1e-9b7a-111111111111", svc.input.Metadata["project_id"])

	var result checkoutsvc.SessionResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	assert.Equal(t, "sess_1", result.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/sess_1", result.URL)
}

func TestCheckoutSessionRequiresFields(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing amount", `{"success_url":"https://a.test/s","cancel_url":"https://a.test/c"}`, "amount"},
		{"missing success url", `{"amount":10,"cancel_url":"https://a.test/c"}`, "success_url"},
		{"missing cancel url", `{"amount":10,"success_url":"https://a.test/s"}`, "cancel_url"},
		{"bad email", `{"amount":10,"success_url":"https://a.test/s","cancel_url":"https://a.test/c","customer_email":"nope"}`, "customer_email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubCheckoutService{}
			req := newRequest(http.MethodPost, "/api/v1/payments/checkout/session", strings.NewReader(tt.body), &buyer, nil)
			rec := httptest.NewRecorder()

			CheckoutSession(svc, nil).ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			env := decodeEnvelope(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, string(pkgerrors.CodeValidation), env.Error.Code)
			assert.Contains(t, env.Error.Details, tt.field)
			assert.Zero(t, svc.calls)
		})
	}
}

func TestCheckoutSessionRequiresPrincipal(t *testing.T) {
	svc := &stubCheckoutService{}
	req := newRequest(http.MethodPost, "/api/v1/payments/checkout/session", strings.NewReader(`{}`), nil, nil)
	rec := httptest.NewRecorder()

	CheckoutSession(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutSessionProviderOutage(t *testing.T) {
	svc := &stubCheckoutService{err: pkgerrors.New(pkgerrors.CodeDependency, "payment provider unavailable")}
	body := `{"amount":89,"success_url":"https://a.test/s","cancel_url":"https://a.test/c"}`
	req := newRequest(http.MethodPost, "/api/v1/payments/checkout/session", strings.NewReader(body), &buyer, nil)
	rec := httptest.NewRecorder()

	CheckoutSession(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckoutStatusReturnsSession(t *testing.T) {
	poller := &stubPoller{status: &payments.SessionStatus{
		SessionID:     "sess_1",
		Status:        payments.SessionStatusComplete,
		PaymentStatus: payments.SessionPaymentStatusPaid,
		AmountTotal:   8900,
		Currency:      "usd",
		Metadata:      map[string]string{"project_id": "p1"},
	}}
	req := newRequest(http.MethodGet, "/api/v1/payments/checkout/status/sess_1", nil, &buyer, map[string]string{"sessionId": "sess_1"})
	rec := httptest.NewRecorder()

	CheckoutStatus(poller, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess_1", poller.sessionID)
	var resp sessionStatusResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
	assert.Equal(t, "complete", resp.Status)
	assert.Equal(t, "paid", resp.PaymentStatus)
	assert.Equal(t, int64(8900), resp.AmountTotal)
	assert.Equal(t, "usd", resp.Currency)
	assert.Equal(t, "p1", resp.Metadata["project_id"])
}

func TestCheckoutStatusErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown session", pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found"), http.StatusNotFound},
		{"someone else's session", pkgerrors.New(pkgerrors.CodeForbidden, "session belongs to another user"), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(http.MethodGet, "/api/v1/payments/checkout/status/sess_x", nil, &buyer, map[string]string{"sessionId": "sess_x"})
			rec := httptest.NewRecorder()
			CheckoutStatus(&stubPoller{err: tt.err}, nil).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
