package downloads

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/projecthub-backend/internal/customrequests"
	"github.com/angelmondragon/projecthub-backend/internal/payments"
	"github.com/angelmondragon/projecthub-backend/internal/reconciliation"
	"github.com/angelmondragon/projecthub-backend/internal/transactions"
	"github.com/angelmondragon/projecthub-backend/pkg/auth"
	pkgdb "github.com/angelmondragon/projecthub-backend/pkg/db"
	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/metrics"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox"
)

// webhookOnlyProvider serves checkout.session.completed events that carry
// their own session, so the provider is never consulted.
type webhookOnlyProvider struct{}

func (webhookOnlyProvider) CreateCheckoutSession(ctx context.Context, input payments.CheckoutSessionInput) (*payments.CheckoutSession, error) {
	return nil, errors.New("not used")
}

func (webhookOnlyProvider) RetrieveSession(ctx context.Context, sessionID string) (*payments.SessionStatus, error) {
	return nil, errors.New("not used")
}

func (webhookOnlyProvider) FindSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (string, error) {
	return "", errors.New("not used")
}

func (webhookOnlyProvider) VerifyWebhook(payload []byte, signatureHeader string) (*payments.Event, error) {
	return nil, errors.New("not used")
}

func TestPaidCheckoutToDownloadFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	outboxSvc := outbox.NewService(outbox.NewRepository(env.conn), nil)

	ledger, err := transactions.NewService(transactions.ServiceParams{
		Repo: transactions.NewRepository(env.conn),
		Now:  env.clock.Now,
	})
	require.NoError(t, err)
	customSvc, err := customrequests.NewService(customrequests.ServiceParams{
		Repo:   customrequests.NewRepository(env.conn),
		Outbox: outboxSvc,
		Now:    env.clock.Now,
	})
	require.NoError(t, err)
	ctrl, err := reconciliation.NewController(reconciliation.ControllerParams{
		DB:             pkgdb.FromConn(env.conn),
		Provider:       webhookOnlyProvider{},
		Ledger:         ledger,
		Purchases:      env.purchases,
		CustomRequests: customSvc,
		Outbox:         outboxSvc,
		Metrics:        metrics.NewPaymentMetrics(prometheus.NewRegistry()),
		Now:            env.clock.Now,
	})
	require.NoError(t, err)

	userID, projectID := uuid.New(), uuid.New()
	_, err = ledger.RecordPending(ctx, nil, transactions.PendingInput{
		SessionID: "sess_1",
		UserID:    userID,
		Amount:    decimal.RequireFromString("89.00"),
		Currency:  "usd",
		Metadata:  map[string]string{"project_id": projectID.String()},
	})
	require.NoError(t, err)

	completed := &payments.Event{
		ID:              "evt_sess_1",
		Kind:            payments.EventCheckoutCompleted,
		RawType:         string(payments.EventCheckoutCompleted),
		SessionID:       "sess_1",
		PaymentIntentID: "pi_sess_1",
		Session: &payments.SessionStatus{
			SessionID:       "sess_1",
			Status:          payments.SessionStatusComplete,
			PaymentStatus:   payments.SessionPaymentStatusPaid,
			AmountTotal:     8900,
			Currency:        "usd",
			PaymentIntentID: "pi_sess_1",
		},
	}
	require.NoError(t, ctrl.HandleEvent(ctx, completed))
	require.NoError(t, ctrl.HandleEvent(ctx, completed))

	var purchase models.Purchase
	require.NoError(t, env.conn.Where("session_id = ?", "sess_1").First(&purchase).Error)
	assert.Equal(t, 3, purchase.DownloadsRemaining)
	env.store.objects["projects/"+projectID.String()+"/src.zip"] = "source-archive"

	principal := auth.Principal{UserID: userID, Role: enums.UserRoleBuyer}
	issued, err := env.svc.Issue(ctx, principal, IssueInput{PurchaseID: purchase.ID, FileName: "src.zip"})
	require.NoError(t, err)

	download, err := env.svc.Redeem(ctx, RedeemInput{Token: issued.Token, IP: "198.51.100.4"})
	require.NoError(t, err)
	body, err := io.ReadAll(download.Body)
	require.NoError(t, err)
	require.NoError(t, download.Body.Close())
	assert.Equal(t, "source-archive", string(body))
	assert.Equal(t, "src.zip", download.FileName)
	assert.Equal(t, 2, env.reload(t, purchase.ID).DownloadsRemaining)

	_, err = env.svc.Redeem(ctx, RedeemInput{Token: issued.Token, IP: "198.51.100.4"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLimitReached))
	assert.Equal(t, 2, env.reload(t, purchase.ID).DownloadsRemaining)
}
