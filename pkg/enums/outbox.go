package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateTransaction   OutboxAggregateType = "transaction"
	AggregatePurchase      OutboxAggregateType = "purchase"
	AggregateCustomRequest OutboxAggregateType = "custom_request"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateTransaction,
	AggregatePurchase,
	AggregateCustomRequest,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPurchaseGranted   OutboxEventType = "purchase_granted"
	EventPurchaseRevoked   OutboxEventType = "purchase_revoked"
	EventPaymentFailed     OutboxEventType = "payment_failed"
	EventPaymentRefunded   OutboxEventType = "payment_refunded"
	EventCustomRequestPaid OutboxEventType = "custom_request_paid"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPurchaseGranted,
	EventPurchaseRevoked,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventCustomRequestPaid,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
