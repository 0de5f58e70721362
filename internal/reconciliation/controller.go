package reconciliation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/projecthub-backend/internal/customrequests"
	"github.com/angelmondragon/projecthub-backend/internal/payments"
	"github.com/angelmondragon/projecthub-backend/internal/purchases"
	"github.com/angelmondragon/projecthub-backend/internal/transactions"
	"github.com/angelmondragon/projecthub-backend/pkg/auth"
	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	"github.com/angelmondragon/projecthub-backend/pkg/metrics"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox/payloads"
)

const (
	reasonPaymentFailed  = "payment_failed"
	reasonSessionExpired = "checkout_session_expired"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Controller converges the ledger, purchases and custom requests on the
// provider's view of a checkout session. Webhooks, polling, the background
// sweep and admins all go through the same primitives.
type Controller interface {
	HandleEvent(ctx context.Context, event *payments.Event) error
	PollStatus(ctx context.Context, principal auth.Principal, sessionID string) (*payments.SessionStatus, error)
	ReconcileSession(ctx context.Context, sessionID, path string) (*payments.SessionStatus, error)
}

// ControllerParams wires the reconciliation controller.
type ControllerParams struct {
	DB             txRunner
	Provider       payments.Provider
	Ledger         transactions.Service
	Purchases      purchases.Service
	CustomRequests customrequests.Service
	Outbox         outboxPublisher
	Metrics        *metrics.PaymentMetrics
	Logger         *logger.Logger
	Now            func() time.Time
}

type controller struct {
	db             txRunner
	provider       payments.Provider
	ledger         transactions.Service
	purchases      purchases.Service
	customRequests customrequests.Service
	outbox         outboxPublisher
	metrics        *metrics.PaymentMetrics
	logg           *logger.Logger
	now            func() time.Time
}

// NewController validates dependencies and returns the reconciliation controller.
func NewController(params ControllerParams) (Controller, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment provider required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction ledger required")
	}
	if params.Purchases == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "purchase service required")
	}
	if params.CustomRequests == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "custom request service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &controller{
		db:             params.DB,
		provider:       params.Provider,
		ledger:         params.Ledger,
		purchases:      params.Purchases,
		customRequests: params.CustomRequests,
		outbox:         params.Outbox,
		metrics:        params.Metrics,
		logg:           params.Logger,
		now:            now,
	}, nil
}

// HandleEvent applies a verified provider event. Rejected transitions and
// events for sessions the ledger never saw are acknowledged so the provider
// stops redelivering them; anything retryable is returned, including events
// that depend on a state the ledger has not reached yet.
func (c *controller) HandleEvent(ctx context.Context, event *payments.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}
	if c.logg != nil {
		ctx = c.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": event.RawType,
		})
	}

	outcome, err := c.dispatch(ctx, event)
	switch {
	case err == nil:
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
		outcome, err = metrics.OutcomeRejected, nil
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		c.warn(ctx, "webhook references unknown session")
		outcome, err = metrics.OutcomeIgnored, nil
	case pkgerrors.IsCode(err, pkgerrors.CodeOutOfOrder):
		c.warn(ctx, "webhook deferred until provider redelivers")
		outcome = metrics.OutcomeDeferred
	default:
		outcome = metrics.OutcomeError
		c.logError(ctx, "webhook reconciliation failed", err)
	}
	c.metrics.ObserveReconciliation(metrics.PathWebhook, outcome)
	return err
}

func (c *controller) dispatch(ctx context.Context, event *payments.Event) (string, error) {
	switch event.Kind {
	case payments.EventCheckoutCompleted:
		if event.Session != nil && !event.Session.Paid() {
			c.info(c.withSession(ctx, event.SessionID), "checkout completed without captured payment")
			return metrics.OutcomePending, nil
		}
		return c.reconcilePaid(ctx, event.SessionID, event.PaymentIntentID)
	case payments.EventCheckoutExpired:
		return c.markFailed(ctx, event.SessionID, event.PaymentIntentID, reasonSessionExpired)
	case payments.EventPaymentSucceeded:
		sessionID, err := c.resolveSession(ctx, event.PaymentIntentID)
		if err != nil {
			return "", err
		}
		return c.reconcilePaid(ctx, sessionID, event.PaymentIntentID)
	case payments.EventPaymentFailed:
		sessionID, err := c.resolveSession(ctx, event.PaymentIntentID)
		if err != nil {
			return "", err
		}
		return c.markFailed(ctx, sessionID, event.PaymentIntentID, reasonPaymentFailed)
	case payments.EventChargeRefunded:
		return c.refund(ctx, event.PaymentIntentID)
	default:
		c.info(ctx, "ignoring unhandled provider event")
		return metrics.OutcomeIgnored, nil
	}
}

// PollStatus returns the provider's view of a session owned by principal,
// reconciling the ledger on the way.
func (c *controller) PollStatus(ctx context.Context, principal auth.Principal, sessionID string) (*payments.SessionStatus, error) {
	if principal.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	txn, err := c.ledger.Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != principal.UserID && !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "session belongs to another user")
	}
	return c.reconcile(ctx, metrics.PathPoll, txn)
}

// ReconcileSession is PollStatus without an ownership check, for the
// background sweep and admin tooling.
func (c *controller) ReconcileSession(ctx context.Context, sessionID, path string) (*payments.SessionStatus, error) {
	if path == "" {
		path = metrics.PathAdmin
	}
	txn, err := c.ledger.Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return c.reconcile(ctx, path, txn)
}

func (c *controller) reconcile(ctx context.Context, path string, txn *models.Transaction) (*payments.SessionStatus, error) {
	ctx = c.withSession(ctx, txn.SessionID)
	status, err := c.provider.RetrieveSession(ctx, txn.SessionID)
	if err != nil {
		c.metrics.ObserveReconciliation(path, metrics.OutcomeError)
		c.logError(ctx, "retrieve checkout session failed", err)
		return nil, err
	}

	var outcome string
	switch {
	case status.Paid() && (txn.PaymentStatus == enums.PaymentStatusPending || txn.PaymentStatus == enums.PaymentStatusPaid):
		outcome, err = c.reconcilePaid(ctx, txn.SessionID, status.PaymentIntentID)
	case status.Expired() && txn.PaymentStatus == enums.PaymentStatusPending:
		outcome, err = c.markFailed(ctx, txn.SessionID, status.PaymentIntentID, reasonSessionExpired)
	case txn.PaymentStatus == enums.PaymentStatusPending:
		outcome = metrics.OutcomePending
	default:
		outcome = metrics.OutcomeDuplicate
	}
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			c.metrics.ObserveReconciliation(path, metrics.OutcomeRejected)
			return status, nil
		}
		c.metrics.ObserveReconciliation(path, metrics.OutcomeError)
		c.logError(ctx, "session reconciliation failed", err)
		return nil, err
	}
	c.metrics.ObserveReconciliation(path, outcome)
	return status, nil
}

// reconcilePaid marks the session paid and then runs fulfillment in its own
// transaction. A failed fulfillment leaves the ledger paid; the next delivery
// or poll finds the row already paid with nothing granted and heals it.
func (c *controller) reconcilePaid(ctx context.Context, sessionID, paymentIntentID string) (string, error) {
	ctx = c.withSession(ctx, sessionID)

	var (
		txn          *models.Transaction
		transitioned bool
	)
	err := c.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, transitioned, err = c.ledger.MarkPaid(ctx, tx, sessionID, paymentIntentID)
		return err
	})
	if err != nil {
		return "", err
	}

	var fulfilled bool
	err = c.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		fulfilled, err = c.fulfill(ctx, tx, txn)
		return err
	})
	if err != nil {
		c.logError(ctx, "fulfillment failed for paid session", err)
		return "", err
	}

	switch {
	case transitioned:
		c.info(ctx, "payment reconciled")
		return metrics.OutcomeGranted, nil
	case fulfilled:
		c.warn(ctx, "fulfillment healed for previously paid session")
		return metrics.OutcomeHealed, nil
	default:
		return metrics.OutcomeDuplicate, nil
	}
}

// fulfill grants whatever the session paid for. It reports whether this call
// created the entitlement; repeat calls are no-ops.
func (c *controller) fulfill(ctx context.Context, tx *gorm.DB, txn *models.Transaction) (bool, error) {
	if raw := txn.MetadataString(payments.MetadataProjectID); raw != "" {
		projectID, err := uuid.Parse(raw)
		if err != nil {
			c.logError(ctx, "paid session carries malformed project id", err)
			return false, nil
		}
		purchase, created, err := c.purchases.Grant(ctx, tx, purchases.GrantInput{
			UserID:    txn.UserID,
			ProjectID: projectID,
			SessionID: txn.SessionID,
			Amount:    txn.Amount,
			Currency:  txn.Currency,
		})
		if err != nil {
			return false, err
		}
		if created && c.logg != nil {
			c.logg.Info(c.logg.WithPurchaseID(ctx, purchase.ID.String()), "purchase granted")
		}
		return created, nil
	}

	if raw := txn.MetadataString(payments.MetadataCustomRequestID); raw != "" {
		requestID, err := uuid.Parse(raw)
		if err != nil {
			c.logError(ctx, "paid session carries malformed custom request id", err)
			return false, nil
		}
		_, changed, err := c.customRequests.MarkPaid(ctx, tx, customrequests.MarkPaidInput{
			RequestID: requestID,
			UserID:    txn.UserID,
			SessionID: txn.SessionID,
			Amount:    txn.Amount,
			Currency:  txn.Currency,
		})
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			if c.logg != nil {
				c.logg.Warn(c.logg.WithField(ctx, "custom_request_id", requestID.String()), "paid session references unknown custom request")
			}
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return changed, nil
	}

	c.warn(ctx, "paid session carries no fulfillment target")
	return false, nil
}

func (c *controller) markFailed(ctx context.Context, sessionID, paymentIntentID, reason string) (string, error) {
	ctx = c.withSession(ctx, sessionID)
	var transitioned bool
	err := c.db.WithTx(ctx, func(tx *gorm.DB) error {
		txn, changed, err := c.ledger.MarkFailed(ctx, tx, sessionID, paymentIntentID)
		if err != nil {
			return err
		}
		transitioned = changed
		if !changed {
			return nil
		}
		intent := paymentIntentID
		if intent == "" && txn.PaymentIntentID != nil {
			intent = *txn.PaymentIntentID
		}
		failedAt := c.now().UTC()
		if txn.FailedAt != nil {
			failedAt = txn.FailedAt.UTC()
		}
		return c.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: txn.UserID, Role: string(enums.UserRoleBuyer)},
			Data: payloads.PaymentFailedEvent{
				TransactionID:   txn.ID,
				SessionID:       txn.SessionID,
				UserID:          txn.UserID,
				PaymentIntentID: intent,
				Reason:          reason,
				FailedAt:        failedAt,
			},
			OccurredAt: failedAt,
		})
	})
	if err != nil {
		return "", err
	}
	if !transitioned {
		return metrics.OutcomeDuplicate, nil
	}
	c.info(ctx, "payment marked failed")
	return metrics.OutcomeFailed, nil
}

// refund moves the paid transaction to refunded and revokes the one purchase
// the session produced, atomically.
func (c *controller) refund(ctx context.Context, paymentIntentID string) (string, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "refund event missing payment intent")
	}

	// The ledger learns intent ids from paid events; fall back to the provider
	// when a refund is the first event to mention this one.
	var attachTo string
	current, err := c.ledger.FindByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return "", err
		}
		sessionID, lookupErr := c.provider.FindSessionByPaymentIntent(ctx, paymentIntentID)
		if lookupErr != nil {
			return "", lookupErr
		}
		if current, err = c.ledger.Find(ctx, sessionID); err != nil {
			return "", err
		}
		attachTo = sessionID
	}

	// A refund can overtake the completion event. It is redelivered until the
	// payment lands so the purchase granted then gets revoked.
	if current.PaymentStatus == enums.PaymentStatusPending {
		c.warn(c.withSession(ctx, current.SessionID), "refund arrived before payment settled")
		return "", pkgerrors.New(pkgerrors.CodeOutOfOrder, "refund received before payment settled")
	}

	var (
		transitioned bool
		revoked      bool
	)
	err = c.db.WithTx(ctx, func(tx *gorm.DB) error {
		if attachTo != "" {
			if err := c.ledger.AttachPaymentIntent(ctx, tx, attachTo, paymentIntentID); err != nil {
				return err
			}
		}
		txn, changed, err := c.ledger.MarkRefunded(ctx, tx, paymentIntentID)
		if err != nil {
			return err
		}
		transitioned = changed
		ctx := c.withSession(ctx, txn.SessionID)

		refundedAt := c.now().UTC()
		if txn.RefundedAt != nil {
			refundedAt = txn.RefundedAt.UTC()
		}
		if err := c.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRefunded,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.PaymentRefundedEvent{
				TransactionID:   txn.ID,
				SessionID:       txn.SessionID,
				UserID:          txn.UserID,
				PaymentIntentID: paymentIntentID,
				Amount:          txn.Amount,
				Currency:        txn.Currency,
				RefundedAt:      refundedAt,
			},
			OccurredAt: refundedAt,
		}); err != nil {
			return err
		}

		purchase, err := c.purchases.FindBySession(ctx, tx, txn.SessionID)
		if err != nil {
			return err
		}
		if purchase == nil || purchase.RevokedAt != nil {
			return nil
		}
		if _, err := c.purchases.Revoke(ctx, tx, purchase.ID); err != nil {
			return err
		}
		revoked = true
		return nil
	})
	if err != nil {
		return "", err
	}

	switch {
	case transitioned:
		c.info(ctx, "payment refunded")
		return metrics.OutcomeRefunded, nil
	case revoked:
		c.warn(ctx, "revocation healed for previously refunded session")
		return metrics.OutcomeHealed, nil
	default:
		return metrics.OutcomeDuplicate, nil
	}
}

func (c *controller) resolveSession(ctx context.Context, paymentIntentID string) (string, error) {
	if strings.TrimSpace(paymentIntentID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "event missing payment intent")
	}
	txn, err := c.ledger.FindByPaymentIntent(ctx, paymentIntentID)
	if err == nil {
		return txn.SessionID, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return "", err
	}
	return c.provider.FindSessionByPaymentIntent(ctx, paymentIntentID)
}

func (c *controller) withSession(ctx context.Context, sessionID string) context.Context {
	if c.logg == nil || sessionID == "" {
		return ctx
	}
	return c.logg.WithSessionID(ctx, sessionID)
}

func (c *controller) info(ctx context.Context, msg string) {
	if c.logg != nil {
		c.logg.Info(ctx, msg)
	}
}

func (c *controller) warn(ctx context.Context, msg string) {
	if c.logg != nil {
		c.logg.Warn(ctx, msg)
	}
}

func (c *controller) logError(ctx context.Context, msg string, err error) {
	if c.logg == nil {
		return
	}
	var typed *pkgerrors.Error
	if errors.As(err, &typed) && !pkgerrors.MetadataFor(typed.Code()).Retryable && typed.Code() != pkgerrors.CodeInternal {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), msg)
		return
	}
	c.logg.Error(ctx, msg, err)
}
