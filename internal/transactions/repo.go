package transactions

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
	"github.com/google/uuid"
)

// Repository persists payment transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindBySessionID(ctx context.Context, sessionID string) (*models.Transaction, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Transaction, error)
	Transition(ctx context.Context, sessionID string, from, to enums.PaymentStatus, updates map[string]any) (bool, error)
	AttachPaymentIntent(ctx context.Context, sessionID, paymentIntentID string) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
	MarkSwept(ctx context.Context, sessionIDs []string, at time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", paymentIntentID).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// Transition applies updates only while the row is still in the from state.
// The returned flag is true for exactly one concurrent caller.
func (r *repository) Transition(ctx context.Context, sessionID string, from, to enums.PaymentStatus, updates map[string]any) (bool, error) {
	values := map[string]any{
		"payment_status": to,
		"updated_at":     time.Now().UTC(),
	}
	for key, value := range updates {
		values[key] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("session_id = ? AND payment_status = ?", sessionID, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AttachPaymentIntent(ctx context.Context, sessionID, paymentIntentID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("session_id = ? AND payment_intent_id IS NULL", sessionID).
		Updates(map[string]any{
			"payment_intent_id": paymentIntentID,
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	query := r.db.WithContext(ctx).
		Where("payment_status = ? AND created_at < ?", enums.PaymentStatusPending, cutoff).
		Where("(last_swept_at IS NULL OR last_swept_at < ?)", cutoff).
		Order("COALESCE(last_swept_at, created_at) ASC").
		Order("session_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkSwept stamps still-pending rows so the next listing starts past them.
func (r *repository) MarkSwept(ctx context.Context, sessionIDs []string, at time.Time) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("session_id IN ? AND payment_status = ?", sessionIDs, enums.PaymentStatusPending).
		Update("last_swept_at", at)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
