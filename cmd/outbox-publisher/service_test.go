package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/projecthub-backend/pkg/config"
	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox/registry"
)

func grantedEvent(t *testing.T, attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseGranted,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, uuid.NewString()),
		AttemptCount:  attempts,
		CreatedAt:     time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func grantedResolution() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "projecthub-domain-events",
			AggregateType: enums.AggregatePurchase,
		},
		Payload: &payloads.PurchaseGrantedEvent{},
	}
}

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	first := grantedEvent(t, 0)
	second := grantedEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	eventSink := &fakeSink{errs: []error{errors.New("transient")}}
	service := newTestService(t, repo, eventSink, &fakeRegistry{resolved: grantedResolution()}, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, repo.published)
	require.Len(t, eventSink.sent, 2)
}

func TestPublishResolvedKeysByAggregateAndSetsAttributes(t *testing.T) {
	event := grantedEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	eventSink := &fakeSink{}
	service := newTestService(t, repo, eventSink, &fakeRegistry{resolved: grantedResolution()}, &fakeDLQRepo{}, nil)

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, eventSink.sent, 1)
	sent := eventSink.sent[0]
	assert.Equal(t, "projecthub-domain-events", sent.topic)
	assert.Equal(t, event.AggregateID.String(), sent.msg.Key)
	assert.Equal(t, []byte(event.Payload), sent.msg.Data)
	assert.Equal(t, "purchase_granted", sent.msg.Attributes["event_type"])
	assert.Equal(t, "purchase", sent.msg.Attributes["aggregate_type"])
	assert.Equal(t, event.ID.String(), sent.msg.Attributes["event_id"])
	assert.Equal(t, "2026-05-01T10:00:00Z", sent.msg.Attributes["created_at"])
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := grantedEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlqRepo := &fakeDLQRepo{}
	resolver := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	eventSink := &fakeSink{}
	service := newTestService(t, repo, eventSink, resolver, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Empty(t, eventSink.sent)
	require.Len(t, dlqRepo.entries, 1)
	entry := dlqRepo.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.JSONEq(t, string(event.Payload), string(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestServiceProcessBatchWritesDLQOnSinkNonRetryable(t *testing.T) {
	event := grantedEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlqRepo := &fakeDLQRepo{}
	eventSink := &fakeSink{errs: []error{registry.NewNonRetryableError(errors.New("no topic"))}}
	service := newTestService(t, repo, eventSink, &fakeRegistry{resolved: grantedResolution()}, dlqRepo, nil)

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlqRepo.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlqRepo.entries[0].ErrorReason)
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := grantedEvent(t, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlqRepo := &fakeDLQRepo{}
	eventSink := &fakeSink{errs: []error{errors.New("transient")}}
	service := newTestService(t, repo, eventSink, &fakeRegistry{resolved: grantedResolution()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, dlqRepo.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlqRepo.entries[0].ErrorReason)
	assert.Empty(t, repo.failed)
}

func TestServiceProcessBatchReportsIdleWhenEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeSink{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRunFailsWhenSinkUnreachable(t *testing.T) {
	eventSink := &fakeSink{pingErr: errors.New("broker down")}
	service := newTestService(t, &fakeRepo{}, eventSink, &fakeRegistry{}, &fakeDLQRepo{}, nil)

	err := service.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fake ping failed")
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
	base := ServiceParams{
		Config:        &config.Config{},
		Logger:        logg,
		DB:            &fakeDB{},
		Sink:          &fakeSink{},
		Repository:    &fakeRepo{},
		Registry:      &fakeRegistry{},
		DLQRepository: &fakeDLQRepo{},
	}
	_, err := NewService(base)
	require.NoError(t, err)

	missingSink := base
	missingSink.Sink = nil
	_, err = NewService(missingSink)
	assert.Error(t, err)

	missingDLQ := base
	missingDLQ.DLQRepository = nil
	_, err = NewService(missingDLQ)
	assert.Error(t, err)
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(500*time.Millisecond, 500*time.Millisecond, maxBackoff))
	assert.Equal(t, maxBackoff, nextBackoff(8*time.Second, time.Second, maxBackoff))
	assert.Equal(t, 2*time.Second, nextBackoff(0, time.Second, maxBackoff))
}

func newTestService(t *testing.T, repo outboxRepository, eventSink sink, resolver registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:        &config.Config{Outbox: outboxCfg},
		Logger:        logg,
		DB:            &fakeDB{},
		Sink:          eventSink,
		Repository:    repo,
		Registry:      resolver,
		DLQRepository: dlq,
	})
	require.NoError(t, err)
	return service
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type sentMessage struct {
	topic string
	msg   outboundMessage
}

type fakeSink struct {
	sent    []sentMessage
	errs    []error
	pingErr error
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Ping(context.Context) error { return f.pingErr }

func (f *fakeSink) Publish(_ context.Context, topic string, msg outboundMessage) error {
	f.sent = append(f.sent, sentMessage{topic: topic, msg: msg})
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
