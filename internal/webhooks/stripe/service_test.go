package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/projecthub-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
)

type fakeVerifier struct {
	event *payments.Event
	err   error
}

func (f *fakeVerifier) VerifyWebhook(payload []byte, signatureHeader string) (*payments.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.event, nil
}

type fakeHandler struct {
	calls int
	errs  []error
}

func (f *fakeHandler) HandleEvent(ctx context.Context, event *payments.Event) error {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

type inMemoryStore struct {
	mu      sync.Mutex
	data    map[string]string
	failing bool
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return false, errors.New("redis down")
	}
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("ph:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func newTestService(t *testing.T, verifier *fakeVerifier, handler *fakeHandler, store *inMemoryStore) *Service {
	t.Helper()
	guard, err := NewIdempotencyGuard(store, time.Minute, "stripe-webhook")
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{Verifier: verifier, Handler: handler, Guard: guard})
	require.NoError(t, err)
	return svc
}

func completedEvent() *payments.Event {
	return &payments.Event{ID: "evt_1", Kind: payments.EventCheckoutCompleted, SessionID: "sess_1"}
}

func TestReceiveProcessesOnceAndFlagsDuplicates(t *testing.T) {
	handler := &fakeHandler{}
	svc := newTestService(t, &fakeVerifier{event: completedEvent()}, handler, newInMemoryStore())

	receipt, err := svc.Receive(context.Background(), []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)
	assert.Equal(t, "evt_1", receipt.EventID)

	receipt, err = svc.Receive(context.Background(), []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)
	assert.True(t, receipt.Duplicate)
	assert.Equal(t, 1, handler.calls)
}

func TestReceiveRejectsBadSignatureWithoutProcessing(t *testing.T) {
	handler := &fakeHandler{}
	verifier := &fakeVerifier{err: pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid webhook signature")}
	svc := newTestService(t, verifier, handler, newInMemoryStore())

	_, err := svc.Receive(context.Background(), []byte("{}"), "t=1,v1=bad")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature))
	assert.Equal(t, 0, handler.calls)
}

func TestReceiveReleasesClaimOnFailure(t *testing.T) {
	handler := &fakeHandler{errs: []error{pkgerrors.New(pkgerrors.CodeDependency, "db down")}}
	store := newInMemoryStore()
	svc := newTestService(t, &fakeVerifier{event: completedEvent()}, handler, store)

	_, err := svc.Receive(context.Background(), []byte("{}"), "t=1,v1=sig")
	require.Error(t, err)
	assert.Empty(t, store.data)

	receipt, err := svc.Receive(context.Background(), []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)
	assert.Equal(t, 2, handler.calls)
}

func TestReceiveProcessesWhenGuardUnavailable(t *testing.T) {
	handler := &fakeHandler{}
	store := newInMemoryStore()
	store.failing = true
	svc := newTestService(t, &fakeVerifier{event: completedEvent()}, handler, store)

	receipt, err := svc.Receive(context.Background(), []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)
	assert.Equal(t, 1, handler.calls)
}

func TestNewIdempotencyGuardValidation(t *testing.T) {
	_, err := NewIdempotencyGuard(nil, time.Minute, "scope")
	assert.Error(t, err)
	_, err = NewIdempotencyGuard(newInMemoryStore(), -time.Second, "scope")
	assert.Error(t, err)
	_, err = NewIdempotencyGuard(newInMemoryStore(), time.Minute, "")
	assert.Error(t, err)
}
