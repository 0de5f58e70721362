package purchases

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgdb "github.com/angelmondragon/projecthub-backend/pkg/db"
	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/projecthub-backend/pkg/pagination"
)

// DefaultDownloads is the entitlement granted when configuration is silent.
const DefaultDownloads = 3

const sessionUniqueIndex = "ux_purchases_session_id"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service grants and revokes download entitlements.
type Service interface {
	Grant(ctx context.Context, tx *gorm.DB, input GrantInput) (*models.Purchase, bool, error)
	Revoke(ctx context.Context, tx *gorm.DB, purchaseID uuid.UUID) (*models.Purchase, error)
	Get(ctx context.Context, purchaseID uuid.UUID) (*models.Purchase, error)
	FindBySession(ctx context.Context, tx *gorm.DB, sessionID string) (*models.Purchase, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*PurchaseList, error)
}

// ServiceParams wires the purchase grantor.
type ServiceParams struct {
	DB               txRunner
	Repo             Repository
	Outbox           outboxPublisher
	Logger           *logger.Logger
	DefaultDownloads int
	Now              func() time.Time
}

type service struct {
	db        txRunner
	repo      Repository
	outbox    outboxPublisher
	logg      *logger.Logger
	downloads int
	now       func() time.Time
}

// NewService validates dependencies and returns the purchase service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "purchase repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	downloads := params.DefaultDownloads
	if downloads <= 0 {
		downloads = DefaultDownloads
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:        params.DB,
		repo:      params.Repo,
		outbox:    params.Outbox,
		logg:      params.Logger,
		downloads: downloads,
		now:       now,
	}, nil
}

// Grant creates the purchase for a paid session at most once. A second call
// for the same session returns the existing row with created=false.
func (s *service) Grant(ctx context.Context, tx *gorm.DB, input GrantInput) (*models.Purchase, bool, error) {
	if err := validateGrant(input); err != nil {
		return nil, false, err
	}

	var (
		purchase *models.Purchase
		created  bool
	)
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		downloads := input.Downloads
		if downloads <= 0 {
			downloads = s.downloads
		}
		now := s.now().UTC()
		candidate := &models.Purchase{
			UserID:             input.UserID,
			ProjectID:          input.ProjectID,
			SessionID:          input.SessionID,
			Amount:             input.Amount,
			Currency:           strings.ToLower(input.Currency),
			DownloadsRemaining: downloads,
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		inserted, err := repo.CreateIfAbsent(ctx, candidate)
		if err != nil && !pkgdb.IsUniqueViolation(err, sessionUniqueIndex) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert purchase")
		}
		if inserted {
			purchase, created = candidate, true
			return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPurchaseGranted,
				AggregateType: enums.AggregatePurchase,
				AggregateID:   candidate.ID,
				Actor:         &outbox.ActorRef{UserID: candidate.UserID},
				OccurredAt:    now,
				Data: payloads.PurchaseGrantedEvent{
					PurchaseID:         candidate.ID,
					UserID:             candidate.UserID,
					ProjectID:          candidate.ProjectID,
					SessionID:          candidate.SessionID,
					Amount:             candidate.Amount,
					Currency:           candidate.Currency,
					DownloadsRemaining: candidate.DownloadsRemaining,
					GrantedAt:          now,
				},
			})
		}

		existing, err := repo.FindBySessionID(ctx, input.SessionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing purchase")
		}
		purchase = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithPurchaseID(s.logg.WithSessionID(ctx, input.SessionID), purchase.ID.String())
		if created {
			s.logg.Info(logCtx, "purchase granted")
		} else {
			s.logg.Debug(logCtx, "purchase already granted")
		}
	}
	return purchase, created, nil
}

// Revoke zeroes the purchase entitlement and every token issued for it.
func (s *service) Revoke(ctx context.Context, tx *gorm.DB, purchaseID uuid.UUID) (*models.Purchase, error) {
	if purchaseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase id is required")
	}

	var revoked *models.Purchase
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.load(ctx, repo, purchaseID); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := repo.Revoke(ctx, purchaseID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke purchase")
		}
		tokens, err := repo.RevokeTokens(ctx, purchaseID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke download tokens")
		}
		latest, err := s.load(ctx, repo, purchaseID)
		if err != nil {
			return err
		}
		revoked = latest
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPurchaseRevoked,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   latest.ID,
			OccurredAt:    now,
			Data: payloads.PurchaseRevokedEvent{
				PurchaseID:    latest.ID,
				UserID:        latest.UserID,
				ProjectID:     latest.ProjectID,
				SessionID:     latest.SessionID,
				TokensRevoked: tokens,
				RevokedAt:     now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithPurchaseID(ctx, purchaseID.String()), "purchase revoked")
	}
	return revoked, nil
}

func (s *service) Get(ctx context.Context, purchaseID uuid.UUID) (*models.Purchase, error) {
	if purchaseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase id is required")
	}
	return s.load(ctx, s.repo, purchaseID)
}

// FindBySession returns nil without error when the session has no purchase.
func (s *service) FindBySession(ctx context.Context, tx *gorm.DB, sessionID string) (*models.Purchase, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	purchase, err := s.repo.WithTx(tx).FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load purchase by session")
	}
	return purchase, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*PurchaseList, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListByUser(ctx, userID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list purchases")
	}

	list := &PurchaseList{Purchases: make([]PurchaseSummary, 0, limit)}
	if len(rows) > limit {
		last := rows[limit-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		rows = rows[:limit]
	}
	for _, row := range rows {
		list.Purchases = append(list.Purchases, toSummary(row))
	}
	return list, nil
}

func (s *service) load(ctx context.Context, repo Repository, purchaseID uuid.UUID) (*models.Purchase, error) {
	purchase, err := repo.FindByID(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load purchase")
	}
	return purchase, nil
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.WithTx(ctx, fn)
}

func validateGrant(input GrantInput) error {
	switch {
	case input.UserID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	case input.ProjectID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "project id is required")
	case strings.TrimSpace(input.SessionID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	case input.Amount.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "amount cannot be negative")
	case strings.TrimSpace(input.Currency) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "currency is required")
	}
	return nil
}
