package customrequests

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
)

// Repository reads custom requests and moves them into work on payment.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.CustomRequest, error)
	StartWork(ctx context.Context, id uuid.UUID, from []enums.CustomRequestStatus, paidAt time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CustomRequest, error) {
	var request models.CustomRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) StartWork(ctx context.Context, id uuid.UUID, from []enums.CustomRequestStatus, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CustomRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":     enums.CustomRequestStatusInProgress,
			"progress":   0,
			"paid_at":    paidAt,
			"updated_at": paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
