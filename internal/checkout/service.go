package checkout

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/projecthub-backend/internal/payments"
	"github.com/angelmondragon/projecthub-backend/internal/transactions"
	"github.com/angelmondragon/projecthub-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
)

const defaultCurrency = "usd"

// Service opens hosted checkout sessions and records them as pending.
type Service interface {
	CreateSession(ctx context.Context, principal auth.Principal, input SessionInput) (*SessionResult, error)
}

// SessionInput is a buyer's request to pay for a project or custom request.
type SessionInput struct {
	Amount         decimal.Decimal
	Currency       string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	CustomerEmail  string
	IdempotencyKey string
}

// SessionResult points the buyer at the provider's hosted page.
type SessionResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type ServiceParams struct {
	Provider        payments.Provider
	Ledger          transactions.Service
	DefaultCurrency string
	Logger          *logger.Logger
}

type service struct {
	provider payments.Provider
	ledger   transactions.Service
	currency string
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment provider required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction ledger required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrency
	}
	return &service{
		provider: params.Provider,
		ledger:   params.Ledger,
		currency: currency,
		logg:     params.Logger,
	}, nil
}

// CreateSession converts the amount to minor units, tags the session with the
// caller and records the pending transaction once the provider accepts it.
func (s *service) CreateSession(ctx context.Context, principal auth.Principal, input SessionInput) (*SessionResult, error) {
	if principal.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if err := validateURL("success_url", input.SuccessURL); err != nil {
		return nil, err
	}
	if err := validateURL("cancel_url", input.CancelURL); err != nil {
		return nil, err
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.currency
	}
	amountMinor, err := payments.ToMinorUnits(input.Amount, currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount must be positive")
	}

	metadata, err := buildMetadata(input.Metadata, principal.UserID)
	if err != nil {
		return nil, err
	}

	email := strings.TrimSpace(input.CustomerEmail)
	if email == "" {
		email = principal.Email
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}

	session, err := s.provider.CreateCheckoutSession(ctx, payments.CheckoutSessionInput{
		AmountMinor:    amountMinor,
		Currency:       currency,
		SuccessURL:     input.SuccessURL,
		CancelURL:      input.CancelURL,
		Metadata:       metadata,
		CustomerEmail:  email,
		ProductName:    metadata[payments.MetadataProductName],
		IdempotencyKey: fmt.Sprintf("checkout:%s:%s", principal.UserID, key),
	})
	if err != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithUserID(ctx, principal.UserID.String()), "create checkout session failed", err)
		}
		return nil, err
	}

	if _, err := s.ledger.RecordPending(ctx, nil, transactions.PendingInput{
		SessionID: session.ID,
		UserID:    principal.UserID,
		Amount:    payments.FromMinorUnits(amountMinor, currency),
		Currency:  currency,
		Metadata:  metadata,
	}); err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithSessionID(ctx, session.ID), map[string]any{
			"user_id":      principal.UserID.String(),
			"amount_minor": amountMinor,
			"currency":     currency,
		})
		s.logg.Info(logCtx, "checkout session created")
	}
	return &SessionResult{SessionID: session.ID, URL: session.RedirectURL}, nil
}

func buildMetadata(in map[string]string, userID uuid.UUID) (map[string]string, error) {
	out := make(map[string]string, len(in)+1)
	for key, value := range in {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	out[payments.MetadataUserID] = userID.String()

	project, hasProject := out[payments.MetadataProjectID]
	request, hasRequest := out[payments.MetadataCustomRequestID]
	if hasProject && hasRequest {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "metadata may reference a project or a custom request, not both")
	}
	if hasProject {
		if _, err := uuid.Parse(project); err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "metadata.project_id must be a uuid")
		}
	}
	if hasRequest {
		if _, err := uuid.Parse(request); err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "metadata.custom_request_id must be a uuid")
		}
	}
	return out, nil
}

func validateURL(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, field+" is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return pkgerrors.New(pkgerrors.CodeValidation, field+" must be an absolute http(s) url")
	}
	return nil
}
