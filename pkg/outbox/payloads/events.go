package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pixpay-backend/pkg/enums"
)

// PaymentStatusEvent reports that a transaction entered a new status.
type PaymentStatusEvent struct {
	TransactionID  uuid.UUID               `json:"transaction_id"`
	CorrelationID  string                  `json:"correlation_id"`
	PreviousStatus enums.TransactionStatus `json:"previous_status"`
	Status         enums.TransactionStatus `json:"status"`
	Amount         decimal.Decimal         `json:"amount"`
	NetAmount      decimal.Decimal         `json:"net_amount"`
	UserID         *uuid.UUID              `json:"user_id,omitempty"`
	PaidAt         *time.Time              `json:"paid_at,omitempty"`
	OccurredAt     time.Time               `json:"occurred_at"`
}

// PaymentCreatedEvent reports a newly opened charge.
type PaymentCreatedEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	CorrelationID string          `json:"correlation_id"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	UserID        *uuid.UUID      `json:"user_id,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}
