package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	pkgdb "github.com/angelmondragon/projecthub-backend/pkg/db"
	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
)

const sessionUniqueIndex = "ux_payment_transactions_session_id"

// Service is the ledger of checkout attempts and the source of truth for
// whether a payment has been processed.
type Service interface {
	RecordPending(ctx context.Context, tx *gorm.DB, input PendingInput) (*models.Transaction, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, sessionID, paymentIntentID string) (*models.Transaction, bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, sessionID, paymentIntentID string) (*models.Transaction, bool, error)
	MarkRefunded(ctx context.Context, tx *gorm.DB, paymentIntentID string) (*models.Transaction, bool, error)
	AttachPaymentIntent(ctx context.Context, tx *gorm.DB, sessionID, paymentIntentID string) error
	Find(ctx context.Context, sessionID string) (*models.Transaction, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Transaction, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
	MarkSwept(ctx context.Context, sessionIDs []string, at time.Time) error
}

// PendingInput describes a checkout attempt awaiting provider confirmation.
type PendingInput struct {
	SessionID string
	UserID    uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	Metadata  map[string]string
}

// ServiceParams wires the ledger.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService validates dependencies and returns the ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{repo: params.Repo, logg: params.Logger, now: now}, nil
}

func (s *service) RecordPending(ctx context.Context, tx *gorm.DB, input PendingInput) (*models.Transaction, error) {
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency is required")
	}

	metadata := datatypes.JSONMap{}
	for key, value := range input.Metadata {
		metadata[key] = value
	}
	now := s.now().UTC()
	txn := &models.Transaction{
		SessionID:     sessionID,
		UserID:        input.UserID,
		Amount:        input.Amount,
		Currency:      currency,
		Metadata:      metadata,
		PaymentStatus: enums.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.WithTx(tx).Create(ctx, txn); err != nil {
		if pkgdb.IsUniqueViolation(err, sessionUniqueIndex) {
			if s.logg != nil {
				s.logg.Error(s.logg.WithSessionID(ctx, sessionID), "checkout session recorded twice", err)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDuplicateSession, err, "checkout session already recorded")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pending transaction")
	}
	return txn, nil
}

// MarkPaid moves a pending transaction to paid. The flag reports whether this
// call performed the transition; an already paid row is returned unchanged.
func (s *service) MarkPaid(ctx context.Context, tx *gorm.DB, sessionID, paymentIntentID string) (*models.Transaction, bool, error) {
	return s.transition(ctx, tx, sessionID, paymentIntentID, enums.PaymentStatusPending, enums.PaymentStatusPaid, "paid_at")
}

// MarkFailed moves a pending transaction to failed.
func (s *service) MarkFailed(ctx context.Context, tx *gorm.DB, sessionID, paymentIntentID string) (*models.Transaction, bool, error) {
	return s.transition(ctx, tx, sessionID, paymentIntentID, enums.PaymentStatusPending, enums.PaymentStatusFailed, "failed_at")
}

// MarkRefunded moves the paid transaction owning paymentIntentID to refunded.
func (s *service) MarkRefunded(ctx context.Context, tx *gorm.DB, paymentIntentID string) (*models.Transaction, bool, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	txn, err := s.findByPaymentIntent(ctx, tx, paymentIntentID)
	if err != nil {
		return nil, false, err
	}
	return s.transition(ctx, tx, txn.SessionID, "", enums.PaymentStatusPaid, enums.PaymentStatusRefunded, "refunded_at")
}

func (s *service) AttachPaymentIntent(ctx context.Context, tx *gorm.DB, sessionID, paymentIntentID string) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(paymentIntentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id and payment intent id are required")
	}
	if err := s.repo.WithTx(tx).AttachPaymentIntent(ctx, sessionID, paymentIntentID); err != nil {
		return s.mapWriteError(err, "attach payment intent")
	}
	return nil
}

func (s *service) Find(ctx context.Context, sessionID string) (*models.Transaction, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	return s.findBySession(ctx, nil, sessionID)
}

func (s *service) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Transaction, error) {
	if strings.TrimSpace(paymentIntentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	return s.findByPaymentIntent(ctx, nil, paymentIntentID)
}

// ListStalePending returns pending rows created before olderThan that no sweep
// has looked at since olderThan, least recently visited first.
func (s *service) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	rows, err := s.repo.ListPendingBefore(ctx, olderThan.UTC(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale pending transactions")
	}
	return rows, nil
}

func (s *service) MarkSwept(ctx context.Context, sessionIDs []string, at time.Time) error {
	if _, err := s.repo.MarkSwept(ctx, sessionIDs, at.UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transactions swept")
	}
	return nil
}

func (s *service) transition(
	ctx context.Context,
	tx *gorm.DB,
	sessionID string,
	paymentIntentID string,
	from enums.PaymentStatus,
	to enums.PaymentStatus,
	stampColumn string,
) (*models.Transaction, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	if !from.CanTransitionTo(to) {
		return nil, false, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("transition %s -> %s not allowed", from, to))
	}

	repo := s.repo.WithTx(tx)
	current, err := s.findBySession(ctx, tx, sessionID)
	if err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	updates := map[string]any{
		stampColumn:  now,
		"updated_at": now,
	}
	if paymentIntentID = strings.TrimSpace(paymentIntentID); paymentIntentID != "" && current.PaymentIntentID == nil {
		updates["payment_intent_id"] = paymentIntentID
	}

	transitioned, err := repo.Transition(ctx, sessionID, from, to, updates)
	if err != nil {
		return nil, false, s.mapWriteError(err, fmt.Sprintf("mark transaction %s", to))
	}

	latest, err := s.findBySession(ctx, tx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if transitioned {
		return latest, true, nil
	}
	if latest.PaymentStatus == to {
		return latest, false, nil
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithSessionID(ctx, sessionID), map[string]any{
			"payment_status": string(latest.PaymentStatus),
			"target_status":  string(to),
		})
		s.logg.Warn(logCtx, "transaction transition rejected")
	}
	return latest, false, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("transaction is %s, cannot become %s", latest.PaymentStatus, to))
}

func (s *service) findBySession(ctx context.Context, tx *gorm.DB, sessionID string) (*models.Transaction, error) {
	txn, err := s.repo.WithTx(tx).FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return txn, nil
}

func (s *service) findByPaymentIntent(ctx context.Context, tx *gorm.DB, paymentIntentID string) (*models.Transaction, error) {
	txn, err := s.repo.WithTx(tx).FindByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return txn, nil
}

func (s *service) mapWriteError(err error, op string) error {
	if pkgdb.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, op+": payment intent already linked")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
