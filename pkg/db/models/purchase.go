package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Purchase grants a user a bounded number of downloads for a project.
type Purchase struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID       `gorm:"column:user_id;type:uuid;not null"`
	ProjectID          uuid.UUID       `gorm:"column:project_id;type:uuid;not null"`
	SessionID          string          `gorm:"column:session_id;not null;uniqueIndex:ux_purchases_session_id"`
	Amount             decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency           string          `gorm:"column:currency;not null"`
	DownloadsRemaining int             `gorm:"column:downloads_remaining;not null;default:3"`
	RevokedAt          *time.Time      `gorm:"column:revoked_at"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
