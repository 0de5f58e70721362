package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/projecthub-backend/api/responses"
	"github.com/angelmondragon/projecthub-backend/internal/payments"
	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	"github.com/angelmondragon/projecthub-backend/pkg/metrics"
)

type transactionFinder interface {
	Find(ctx context.Context, sessionID string) (*models.Transaction, error)
}

type sessionReconciler interface {
	ReconcileSession(ctx context.Context, sessionID, path string) (*payments.SessionStatus, error)
}

// AdminTransaction returns the ledger row for a checkout session.
func AdminTransaction(ledger transactionFinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}

		sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
		if sessionID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session id required"))
			return
		}

		txn, err := ledger.Find(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

// AdminReconcile forces a reconciliation pass against the provider.
func AdminReconcile(svc sessionReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation unavailable"))
			return
		}

		sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
		if sessionID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session id required"))
			return
		}

		status, err := svc.ReconcileSession(r.Context(), sessionID, metrics.PathAdmin)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSessionStatusResponse(status))
	}
}

type transactionResponse struct {
	ID              uuid.UUID       `json:"id"`
	SessionID       string          `json:"session_id"`
	UserID          uuid.UUID       `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Metadata        map[string]any  `json:"metadata"`
	PaymentStatus   string          `json:"payment_status"`
	PaymentIntentID *string         `json:"payment_intent_id,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	FailedAt        *time.Time      `json:"failed_at,omitempty"`
	RefundedAt      *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func newTransactionResponse(txn *models.Transaction) transactionResponse {
	if txn == nil {
		return transactionResponse{}
	}
	metadata := map[string]any(txn.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return transactionResponse{
		ID:              txn.ID,
		SessionID:       txn.SessionID,
		UserID:          txn.UserID,
		Amount:          txn.Amount,
		Currency:        txn.Currency,
		Metadata:        metadata,
		PaymentStatus:   string(txn.PaymentStatus),
		PaymentIntentID: txn.PaymentIntentID,
		PaidAt:          txn.PaidAt,
		FailedAt:        txn.FailedAt,
		RefundedAt:      txn.RefundedAt,
		CreatedAt:       txn.CreatedAt,
		UpdatedAt:       txn.UpdatedAt,
	}
}
