package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pixpay-backend/pkg/enums"
)

// Transaction is the durable record of a PIX charge, joined to the provider by CorrelationID.
type Transaction struct {
	ID                    uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CorrelationID         string                  `gorm:"column:correlation_id;not null;uniqueIndex"`
	ProviderTransactionID *string                 `gorm:"column:provider_transaction_id"`
	Type                  enums.TransactionType   `gorm:"column:type;type:transaction_type;not null;default:'pix_in'"`
	Amount                decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null"`
	Fee                   decimal.Decimal         `gorm:"column:fee;type:numeric(12,2);not null"`
	NetAmount             decimal.Decimal         `gorm:"column:net_amount;type:numeric(12,2);not null"`
	Status                enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	PayerName             string                  `gorm:"column:payer_name;not null"`
	PayerDocument         *string                 `gorm:"column:payer_document"`
	PayerEmail            *string                 `gorm:"column:payer_email"`
	PayerPhone            *string                 `gorm:"column:payer_phone"`
	QRCodeURL             string                  `gorm:"column:qr_code_url;not null;default:''"`
	QRCodeText            string                  `gorm:"column:qr_code_text;not null;default:''"`
	PaymentLinkURL        string                  `gorm:"column:payment_link_url;not null;default:''"`
	Description           *string                 `gorm:"column:description"`
	Metadata              json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	UserID                *uuid.UUID              `gorm:"column:user_id;type:uuid;index"`
	ExpiresAt             *time.Time              `gorm:"column:expires_at"`
	PaidAt                *time.Time              `gorm:"column:paid_at"`
	LastSweptAt           *time.Time              `gorm:"column:last_swept_at"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (Transaction) TableName() string { return "transactions" }

// BeforeCreate assigns the primary key client-side so non-postgres dialects work.
func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
