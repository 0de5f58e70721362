package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/projecthub-backend/pkg/stripe"
)

// checkoutSessionAPI is the slice of Stripe used by StripeProvider.
type checkoutSessionAPI interface {
	New(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(ctx context.Context, id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	FirstByPaymentIntent(ctx context.Context, paymentIntentID string) (*stripe.CheckoutSession, error)
}

type stripeSessionAPI struct{}

func (stripeSessionAPI) New(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params != nil {
		params.Context = ctx
	}
	return session.New(params)
}

func (stripeSessionAPI) Get(ctx context.Context, id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params == nil {
		params = &stripe.CheckoutSessionParams{}
	}
	params.Context = ctx
	return session.Get(id, params)
}

func (stripeSessionAPI) FirstByPaymentIntent(ctx context.Context, paymentIntentID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	iter := session.List(params)
	if iter.Next() {
		return iter.CheckoutSession(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// StripeProviderParams configure the Stripe-backed Provider.
type StripeProviderParams struct {
	Client *pkgstripe.Client
	API    checkoutSessionAPI
}

// StripeProvider implements Provider on Stripe Checkout.
type StripeProvider struct {
	api           checkoutSessionAPI
	signingSecret string
	currency      string
	productName   string
}

// NewStripeProvider wraps the configured Stripe client.
func NewStripeProvider(params StripeProviderParams) (*StripeProvider, error) {
	if params.Client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Client.SigningSecret() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe signing secret required")
	}
	api := params.API
	if api == nil {
		api = stripeSessionAPI{}
	}
	return &StripeProvider{
		api:           api,
		signingSecret: params.Client.SigningSecret(),
		currency:      params.Client.Currency(),
		productName:   params.Client.ProductName(),
	}, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error) {
	if input.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = p.currency
	}
	name := strings.TrimSpace(input.ProductName)
	if name == "" {
		name = p.productName
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(input.SuccessURL),
		CancelURL:          stripe.String(input.CancelURL),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
					UnitAmount: stripe.Int64(input.AmountMinor),
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: copyMetadata(input.Metadata),
		},
	}
	if email := strings.TrimSpace(input.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	created, err := p.api.New(ctx, params)
	if err != nil {
		return nil, mapStripeError(err, "create checkout session")
	}
	return &CheckoutSession{ID: created.ID, RedirectURL: created.URL}, nil
}

func (p *StripeProvider) RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	found, err := p.api.Get(ctx, sessionID, nil)
	if err != nil {
		return nil, mapStripeError(err, "retrieve checkout session")
	}
	status := sessionStatusFromStripe(found)
	return &status, nil
}

func (p *StripeProvider) FindSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (string, error) {
	if strings.TrimSpace(paymentIntentID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	found, err := p.api.FirstByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return "", mapStripeError(err, "list checkout sessions")
	}
	if found == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "no checkout session for payment intent")
	}
	return found.ID, nil
}

func (p *StripeProvider) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "missing signature header")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "invalid webhook signature")
	}
	return translateEvent(event)
}

func translateEvent(event stripe.Event) (*Event, error) {
	out := &Event{
		ID:      event.ID,
		RawType: string(event.Type),
		Kind:    ParseEventKind(string(event.Type)),
	}
	if event.Data == nil {
		if out.Kind == EventUnknown {
			return out, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event payload missing")
	}

	switch out.Kind {
	case EventCheckoutCompleted, EventCheckoutExpired:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
		}
		status := sessionStatusFromStripe(&cs)
		out.Session = &status
		out.SessionID = status.SessionID
		out.PaymentIntentID = status.PaymentIntentID
	case EventPaymentSucceeded, EventPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
		}
		out.PaymentIntentID = intent.ID
	case EventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge")
		}
		if charge.PaymentIntent != nil {
			out.PaymentIntentID = charge.PaymentIntent.ID
		}
	}
	return out, nil
}

func sessionStatusFromStripe(cs *stripe.CheckoutSession) SessionStatus {
	if cs == nil {
		return SessionStatus{}
	}
	status := SessionStatus{
		SessionID:     cs.ID,
		Status:        string(cs.Status),
		PaymentStatus: string(cs.PaymentStatus),
		AmountTotal:   cs.AmountTotal,
		Currency:      string(cs.Currency),
		Metadata:      copyMetadata(cs.Metadata),
	}
	if cs.PaymentIntent != nil {
		status.PaymentIntentID = cs.PaymentIntent.ID
	}
	return status
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mapStripeError separates caller mistakes from provider outages so only the
// latter are reported as retryable.
func mapStripeError(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("%s: not found", op))
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s: provider unavailable", op))
		case stripeErr.HTTPStatusCode >= http.StatusBadRequest:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("%s: rejected by provider", op)).
				WithDetails(map[string]any{"provider_message": stripeErr.Msg})
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s: provider unavailable", op))
}
