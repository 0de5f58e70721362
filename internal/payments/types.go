package payments

import (
	"context"
	"strings"
)

// Metadata keys carried on every checkout session.
const (
	MetadataUserID          = "user_id"
	MetadataProjectID       = "project_id"
	MetadataCustomRequestID = "custom_request_id"
	MetadataProductName     = "product_name"
)

// Provider-reported session values the engine branches on.
const (
	SessionPaymentStatusPaid = "paid"
	SessionStatusComplete    = "complete"
	SessionStatusExpired     = "expired"
)

// EventKind is the closed set of provider events the engine reacts to.
type EventKind string

const (
	EventCheckoutCompleted EventKind = "checkout.session.completed"
	EventCheckoutExpired   EventKind = "checkout.session.expired"
	EventPaymentSucceeded  EventKind = "payment_intent.succeeded"
	EventPaymentFailed     EventKind = "payment_intent.payment_failed"
	EventChargeRefunded    EventKind = "charge.refunded"
	EventUnknown           EventKind = "unknown"
)

var knownEventKinds = []EventKind{
	EventCheckoutCompleted,
	EventCheckoutExpired,
	EventPaymentSucceeded,
	EventPaymentFailed,
	EventChargeRefunded,
}

// ParseEventKind maps a provider event type onto EventKind, returning
// EventUnknown for anything the engine ignores.
func ParseEventKind(raw string) EventKind {
	value := strings.TrimSpace(raw)
	for _, kind := range knownEventKinds {
		if string(kind) == value {
			return kind
		}
	}
	return EventUnknown
}

// CheckoutSessionInput describes a hosted checkout for a single item.
type CheckoutSessionInput struct {
	AmountMinor    int64
	Currency       string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	CustomerEmail  string
	ProductName    string
	IdempotencyKey string
}

// CheckoutSession is the provider's answer to a checkout request.
type CheckoutSession struct {
	ID          string
	RedirectURL string
}

// SessionStatus is the provider's authoritative view of a checkout session.
type SessionStatus struct {
	SessionID       string
	Status          string
	PaymentStatus   string
	AmountTotal     int64
	Currency        string
	Metadata        map[string]string
	PaymentIntentID string
}

// Paid reports whether the provider has captured the payment.
func (s SessionStatus) Paid() bool {
	return s.PaymentStatus == SessionPaymentStatusPaid
}

// Expired reports whether the hosted session closed without payment.
func (s SessionStatus) Expired() bool {
	return s.Status == SessionStatusExpired
}

// Event is a verified provider callback reduced to what reconciliation needs.
type Event struct {
	ID              string
	Kind            EventKind
	RawType         string
	SessionID       string
	PaymentIntentID string
	Session         *SessionStatus
}

// Provider is the contract the engine needs from a hosted checkout service.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error)
	FindSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (string, error)
	VerifyWebhook(payload []byte, signatureHeader string) (*Event, error)
}
