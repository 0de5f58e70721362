package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/angelmondragon/projecthub-backend/pkg/enums"
)

// Transaction is one checkout attempt, keyed by the provider session id.
type Transaction struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SessionID       string              `gorm:"column:session_id;not null;uniqueIndex:ux_payment_transactions_session_id"`
	UserID          uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency        string              `gorm:"column:currency;not null"`
	Metadata        datatypes.JSONMap   `gorm:"column:metadata;type:jsonb"`
	PaymentStatus   enums.PaymentStatus `gorm:"column:payment_status;type:payment_status_enum;not null;default:'pending'"`
	PaymentIntentID *string             `gorm:"column:payment_intent_id"`
	PaidAt          *time.Time          `gorm:"column:paid_at"`
	FailedAt        *time.Time          `gorm:"column:failed_at"`
	RefundedAt      *time.Time          `gorm:"column:refunded_at"`
	LastSweptAt     *time.Time          `gorm:"column:last_swept_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Transaction) TableName() string {
	return "payment_transactions"
}

// MetadataString returns the metadata value for key when it is a non-empty string.
func (t Transaction) MetadataString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	value, ok := t.Metadata[key].(string)
	if !ok {
		return ""
	}
	return value
}
