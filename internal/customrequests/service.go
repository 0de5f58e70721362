package customrequests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox/payloads"
)

var payableStatuses = []enums.CustomRequestStatus{
	enums.CustomRequestStatusSubmitted,
	enums.CustomRequestStatusQuoted,
	enums.CustomRequestStatusAwaitingPayment,
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service applies payment confirmations to custom project requests.
type Service interface {
	MarkPaid(ctx context.Context, tx *gorm.DB, input MarkPaidInput) (*models.CustomRequest, bool, error)
}

// MarkPaidInput identifies the request and the payment that settled it.
type MarkPaidInput struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	SessionID string
	Amount    decimal.Decimal
	Currency  string
}

type ServiceParams struct {
	Repo   Repository
	Outbox outboxPublisher
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo   Repository
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "custom request repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{repo: params.Repo, outbox: params.Outbox, logg: params.Logger, now: now}, nil
}

// MarkPaid moves a payable request to in_progress with zero progress. Repeat
// calls for a request already in work are no-ops.
func (s *service) MarkPaid(ctx context.Context, tx *gorm.DB, input MarkPaidInput) (*models.CustomRequest, bool, error) {
	if tx == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.RequestID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "custom request id is required")
	}
	if strings.TrimSpace(input.SessionID) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	started, err := repo.StartWork(ctx, input.RequestID, payableStatuses, now)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "start custom request")
	}

	request, err := repo.FindByID(ctx, input.RequestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "custom request not found")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load custom request")
	}

	if !started {
		switch request.Status {
		case enums.CustomRequestStatusInProgress, enums.CustomRequestStatusDelivered:
			return request, false, nil
		default:
			return request, false, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("custom request is %s", request.Status))
		}
	}

	userID := input.UserID
	if userID == uuid.Nil {
		userID = request.UserID
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCustomRequestPaid,
		AggregateType: enums.AggregateCustomRequest,
		AggregateID:   request.ID,
		Actor:         &outbox.ActorRef{UserID: userID},
		OccurredAt:    now,
		Data: payloads.CustomRequestPaidEvent{
			CustomRequestID: request.ID,
			UserID:          userID,
			SessionID:       input.SessionID,
			Amount:          input.Amount,
			Currency:        strings.ToLower(input.Currency),
			PaidAt:          now,
		},
	}); err != nil {
		return nil, false, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithSessionID(ctx, input.SessionID), map[string]any{
			"custom_request_id": request.ID.String(),
		})
		s.logg.Info(logCtx, "custom request moved to in progress")
	}
	return request, true, nil
}
