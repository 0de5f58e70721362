package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/projecthub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox/payloads"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	purchaseID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPurchaseGranted,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   purchaseID,
			Data:          payloads.PurchaseGrantedEvent{PurchaseID: purchaseID, SessionID: "sess_1"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventPurchaseGranted, rows[0].EventType)
	assert.Nil(t, rows[0].PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)

	var data payloads.PurchaseGrantedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "sess_1", data.SessionID)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   uuid.New(),
			Data:          payloads.PaymentFailedEvent{SessionID: "sess_x"},
		}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitValidatesEvent(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
	assert.Error(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.OutboxEventType("bogus"),
		AggregateType: enums.AggregatePurchase,
		AggregateID:   uuid.New(),
	}))
	assert.Error(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventPurchaseGranted,
		AggregateType: enums.AggregatePurchase,
	}))
}

func TestEmitIfNotExistsSkipsDuplicates(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	event := DomainEvent{
		EventType:     enums.EventCustomRequestPaid,
		AggregateType: enums.AggregateCustomRequest,
		AggregateID:   uuid.New(),
		Data:          payloads.CustomRequestPaidEvent{SessionID: "sess_c"},
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.EmitIfNotExists(context.Background(), conn, event))
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDeletePublishedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	rows := []models.OutboxEvent{
		outboxRow(enums.EventPurchaseGranted, old, &old, 0),
		outboxRow(enums.EventPurchaseRevoked, recent, &recent, 0),
		outboxRow(enums.EventPaymentFailed, old, nil, 10),
		outboxRow(enums.EventPaymentRefunded, old, nil, 1),
	}
	for _, row := range rows {
		require.NoError(t, repo.Insert(context.Background(), conn, row))
	}

	deleted, err := repo.DeletePublishedBefore(context.Background(), conn, now.Add(-14*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("event_type").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, enums.EventPaymentRefunded, remaining[0].EventType)
	assert.Equal(t, enums.EventPurchaseRevoked, remaining[1].EventType)
}

func outboxRow(eventType enums.OutboxEventType, createdAt time.Time, publishedAt *time.Time, attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{}}`),
		CreatedAt:     createdAt,
		PublishedAt:   publishedAt,
		AttemptCount:  attempts,
	}
}
