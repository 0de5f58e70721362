package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseGrantedEvent is emitted once per paid session that unlocks a project.
type PurchaseGrantedEvent struct {
	PurchaseID         uuid.UUID       `json:"purchase_id"`
	UserID             uuid.UUID       `json:"user_id"`
	ProjectID          uuid.UUID       `json:"project_id"`
	SessionID          string          `json:"session_id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	DownloadsRemaining int             `json:"downloads_remaining"`
	GrantedAt          time.Time       `json:"granted_at"`
}

// PurchaseRevokedEvent reports that a refund zeroed a purchase and its tokens.
type PurchaseRevokedEvent struct {
	PurchaseID    uuid.UUID `json:"purchase_id"`
	UserID        uuid.UUID `json:"user_id"`
	ProjectID     uuid.UUID `json:"project_id"`
	SessionID     string    `json:"session_id"`
	TokensRevoked int64     `json:"tokens_revoked"`
	RevokedAt     time.Time `json:"revoked_at"`
}

// PaymentFailedEvent lets notification consumers prompt the buyer to retry.
type PaymentFailedEvent struct {
	TransactionID   uuid.UUID `json:"transaction_id"`
	SessionID       string    `json:"session_id"`
	UserID          uuid.UUID `json:"user_id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	Reason          string    `json:"reason"`
	FailedAt        time.Time `json:"failed_at"`
}

// PaymentRefundedEvent is emitted when a paid transaction is refunded.
type PaymentRefundedEvent struct {
	TransactionID   uuid.UUID       `json:"transaction_id"`
	SessionID       string          `json:"session_id"`
	UserID          uuid.UUID       `json:"user_id"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	RefundedAt      time.Time       `json:"refunded_at"`
}

// CustomRequestPaidEvent tells the delivery team work on a request can start.
type CustomRequestPaidEvent struct {
	CustomRequestID uuid.UUID       `json:"custom_request_id"`
	UserID          uuid.UUID       `json:"user_id"`
	SessionID       string          `json:"session_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaidAt          time.Time       `json:"paid_at"`
}
