package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/projecthub-backend/pkg/enums"
)

// CustomRequest is owned by the intake flow; payments only move its status.
type CustomRequest struct {
	ID        uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID                 `gorm:"column:user_id;type:uuid;not null"`
	Title     string                    `gorm:"column:title;not null"`
	Status    enums.CustomRequestStatus `gorm:"column:status;type:custom_request_status_enum;not null;default:'submitted'"`
	Progress  int                       `gorm:"column:progress;not null;default:0"`
	PaidAt    *time.Time                `gorm:"column:paid_at"`
	CreatedAt time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
