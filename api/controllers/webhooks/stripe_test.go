package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/projecthub-backend/internal/payments"
	stripewebhook "github.com/angelmondragon/projecthub-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
)

type fakeReceiver struct {
	receipt   *stripewebhook.Receipt
	err       error
	payload   string
	signature string
}

func (f *fakeReceiver) Receive(ctx context.Context, payload []byte, signatureHeader string) (*stripewebhook.Receipt, error) {
	f.payload = string(payload)
	f.signature = signatureHeader
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

func postWebhook(t *testing.T, handler http.Handler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func TestStripeWebhookAcknowledges(t *testing.T) {
	receiver := &fakeReceiver{receipt: &stripewebhook.Receipt{EventID: "evt_1", Kind: payments.EventCheckoutCompleted}}

	rec := postWebhook(t, StripeWebhook(receiver, nil), `{"id":"evt_1"}`, "t=1,v1=abc")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"received": true}, decodeData(t, rec))
	assert.Equal(t, `{"id":"evt_1"}`, receiver.payload)
	assert.Equal(t, "t=1,v1=abc", receiver.signature)
}

func TestStripeWebhookFlagsDuplicates(t *testing.T) {
	receiver := &fakeReceiver{receipt: &stripewebhook.Receipt{EventID: "evt_1", Duplicate: true}}

	rec := postWebhook(t, StripeWebhook(receiver, nil), `{}`, "t=1,v1=abc")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"received": true, "duplicate": true}, decodeData(t, rec))
}

func TestStripeWebhookBadSignatureIs400(t *testing.T) {
	receiver := &fakeReceiver{err: pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid webhook signature")}

	rec := postWebhook(t, StripeWebhook(receiver, nil), `{}`, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhookProcessingFailureIsRetryable(t *testing.T) {
	receiver := &fakeReceiver{err: pkgerrors.New(pkgerrors.CodeDependency, "provider unavailable")}

	rec := postWebhook(t, StripeWebhook(receiver, nil), `{}`, "t=1,v1=abc")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStripeWebhookRejectsOversizedBody(t *testing.T) {
	receiver := &fakeReceiver{receipt: &stripewebhook.Receipt{}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", io.LimitReader(zeroReader{}, maxWebhookBodyBytes+1))
	rec := httptest.NewRecorder()

	StripeWebhook(receiver, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, receiver.payload)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = '0'
	}
	return len(p), nil
}
