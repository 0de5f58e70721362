package models

import (
	"time"

	"github.com/google/uuid"
)

// DownloadActivity is the append-only audit row written per redemption.
type DownloadActivity struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TokenID      uuid.UUID `gorm:"column:token_id;type:uuid;not null"`
	PurchaseID   uuid.UUID `gorm:"column:purchase_id;type:uuid;not null"`
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	ProjectID    uuid.UUID `gorm:"column:project_id;type:uuid;not null"`
	FileName     string    `gorm:"column:file_name;not null"`
	IPAddress    *string   `gorm:"column:ip_address"`
	UserAgent    *string   `gorm:"column:user_agent"`
	DownloadedAt time.Time `gorm:"column:downloaded_at;not null"`
}

func (DownloadActivity) TableName() string {
	return "download_activity"
}
