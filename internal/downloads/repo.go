package downloads

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
)

// Repository persists download tokens and the redemption audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateToken(ctx context.Context, token *models.DownloadToken) error
	FindToken(ctx context.Context, value string) (*models.DownloadToken, error)
	ClaimToken(ctx context.Context, tokenID uuid.UUID, now time.Time) (bool, error)
	DecrementPurchase(ctx context.Context, purchaseID uuid.UUID, now time.Time) (bool, error)
	InsertActivity(ctx context.Context, activity *models.DownloadActivity) error
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

func (r *repository) CreateToken(ctx context.Context, token *models.DownloadToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *repository) FindToken(ctx context.Context, value string) (*models.DownloadToken, error) {
	var token models.DownloadToken
	if err := r.db.WithContext(ctx).Where("token = ?", value).First(&token).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

// ClaimToken consumes one use of the token if it is still live.
func (r *repository) ClaimToken(ctx context.Context, tokenID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DownloadToken{}).
		Where("id = ? AND downloads_used < max_downloads AND expires_at > ?", tokenID, now).
		Update("downloads_used", gorm.Expr("downloads_used + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DecrementPurchase takes one download credit, never going below zero.
func (r *repository) DecrementPurchase(ctx context.Context, purchaseID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND downloads_remaining > 0 AND revoked_at IS NULL", purchaseID).
		Updates(map[string]any{
			"downloads_remaining": gorm.Expr("downloads_remaining - 1"),
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertActivity(ctx context.Context, activity *models.DownloadActivity) error {
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(activity).Error
}
