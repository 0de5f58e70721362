package models

import (
	"time"

	"github.com/google/uuid"
)

// DownloadToken is a short-lived credential scoped to one purchase and file.
type DownloadToken struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Token         string    `gorm:"column:token;not null;uniqueIndex:ux_download_tokens_token"`
	PurchaseID    uuid.UUID `gorm:"column:purchase_id;type:uuid;not null"`
	FileName      string    `gorm:"column:file_name;not null"`
	ExpiresAt     time.Time `gorm:"column:expires_at;not null"`
	DownloadsUsed int       `gorm:"column:downloads_used;not null;default:0"`
	MaxDownloads  int       `gorm:"column:max_downloads;not null;default:1"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Expired reports whether the token can no longer be redeemed at now.
func (t DownloadToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Spent reports whether every allowed redemption has been used.
func (t DownloadToken) Spent() bool {
	return t.DownloadsUsed >= t.MaxDownloads
}
