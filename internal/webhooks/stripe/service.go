package stripewebhook

import (
	"context"

	"github.com/angelmondragon/projecthub-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
)

type verifier interface {
	VerifyWebhook(payload []byte, signatureHeader string) (*payments.Event, error)
}

type eventHandler interface {
	HandleEvent(ctx context.Context, event *payments.Event) error
}

type guard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Receipt is what the webhook endpoint acknowledges back to the provider.
type Receipt struct {
	EventID   string
	Kind      payments.EventKind
	Duplicate bool
}

type ServiceParams struct {
	Verifier verifier
	Handler  eventHandler
	Guard    guard
	Logger   *logger.Logger
}

// Service verifies, deduplicates and dispatches provider callbacks.
type Service struct {
	verifier verifier
	handler  eventHandler
	guard    guard
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook verifier required")
	}
	if params.Handler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event handler required")
	}
	return &Service{
		verifier: params.Verifier,
		handler:  params.Handler,
		guard:    params.Guard,
		logg:     params.Logger,
	}, nil
}

// Receive rejects unsigned payloads before any state is touched. A Redis
// outage only disables the fast duplicate check; reconciliation itself is
// idempotent.
func (s *Service) Receive(ctx context.Context, payload []byte, signatureHeader string) (*Receipt, error) {
	event, err := s.verifier.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "stripe webhook rejected")
		}
		return nil, err
	}
	receipt := &Receipt{EventID: event.ID, Kind: event.Kind}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": event.RawType,
		})
	}

	claimed := false
	if s.guard != nil && event.ID != "" {
		duplicate, guardErr := s.guard.CheckAndMark(ctx, event.ID)
		switch {
		case guardErr != nil:
			if s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", guardErr.Error()), "webhook idempotency check unavailable")
			}
		case duplicate:
			if s.logg != nil {
				s.logg.Info(ctx, "duplicate stripe webhook ignored")
			}
			receipt.Duplicate = true
			return receipt, nil
		default:
			claimed = true
		}
	}

	if err := s.handler.HandleEvent(ctx, event); err != nil {
		if claimed {
			if delErr := s.guard.Delete(ctx, event.ID); delErr != nil && s.logg != nil {
				s.logg.Error(ctx, "failed to release webhook idempotency key", delErr)
			}
		}
		return nil, err
	}
	return receipt, nil
}
