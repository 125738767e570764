package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateTransaction OutboxAggregateType = "transaction"
)

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateTransaction
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPaymentCreated   OutboxEventType = "payment_created"
	EventPaymentCompleted OutboxEventType = "payment_completed"
	EventPaymentExpired   OutboxEventType = "payment_expired"
	EventPaymentFailed    OutboxEventType = "payment_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentCreated,
	EventPaymentCompleted,
	EventPaymentExpired,
	EventPaymentFailed,
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
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxEventForStatus returns the event emitted when a transaction enters status.
func OutboxEventForStatus(status TransactionStatus) (OutboxEventType, bool) {
	switch status {
	case TransactionStatusCompleted:
		return EventPaymentCompleted, true
	case TransactionStatusExpired:
		return EventPaymentExpired, true
	case TransactionStatusFailed:
		return EventPaymentFailed, true
	default:
		return "", false
	}
}
