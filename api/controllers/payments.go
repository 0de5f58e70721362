package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/projecthub-backend/api/responses"
	"github.com/angelmondragon/projecthub-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/projecthub-backend/internal/checkout"
	"github.com/angelmondragon/projecthub-backend/internal/payments"
	"github.com/angelmondragon/projecthub-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
)

type statusPoller interface {
	PollStatus(ctx context.Context, principal auth.Principal, sessionID string) (*payments.SessionStatus, error)
}

// CheckoutSession opens a hosted checkout for the caller. The request's
// Idempotency-Key is forwarded to the provider.
func CheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		principal, err := principalFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateSession(r.Context(), principal, checkoutsvc.SessionInput{
			Amount:         *payload.Amount,
			Currency:       payload.Currency,
			SuccessURL:     payload.SuccessURL,
			CancelURL:      payload.CancelURL,
			Metadata:       payload.Metadata,
			CustomerEmail:  payload.CustomerEmail,
			IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type checkoutSessionRequest struct {
	Amount        *decimal.Decimal  `json:"amount" validate:"required"`
	Currency      string            `json:"currency,omitempty" validate:"omitempty,len=3"`
	SuccessURL    string            `json:"success_url" validate:"required,url"`
	CancelURL     string            `json:"cancel_url" validate:"required,url"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty" validate:"omitempty,email"`
}

// CheckoutStatus reports the provider's view of a session and reconciles the
// ledger with it before answering.
func CheckoutStatus(svc statusPoller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation unavailable"))
			return
		}

		principal, err := principalFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
		if sessionID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session id required"))
			return
		}

		status, err := svc.PollStatus(r.Context(), principal, sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSessionStatusResponse(status))
	}
}

type sessionStatusResponse struct {
	SessionID     string            `json:"session_id"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

func newSessionStatusResponse(status *payments.SessionStatus) sessionStatusResponse {
	if status == nil {
		return sessionStatusResponse{Metadata: map[string]string{}}
	}
	metadata := status.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return sessionStatusResponse{
		SessionID:     status.SessionID,
		Status:        status.Status,
		PaymentStatus: status.PaymentStatus,
		AmountTotal:   status.AmountTotal,
		Currency:      status.Currency,
		Metadata:      metadata,
	}
}
