package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/projecthub-backend/api/responses"
	stripewebhook "github.com/angelmondragon/projecthub-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
)

const maxWebhookBodyBytes = 1 << 20

// Receiver verifies and processes a raw provider callback.
type Receiver interface {
	Receive(ctx context.Context, payload []byte, signatureHeader string) (*stripewebhook.Receipt, error)
}

type webhookResponse struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// StripeWebhook acknowledges verified Stripe callbacks. Unsigned or tampered
// payloads get a 400 and never reach reconciliation.
func StripeWebhook(receiver Receiver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if receiver == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		receipt, err := receiver.Receive(ctx, payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, webhookResponse{Received: true, Duplicate: receipt.Duplicate})
	}
}
