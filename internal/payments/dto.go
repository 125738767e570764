package payments

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pixpay-backend/internal/fees"
	"github.com/angelmondragon/pixpay-backend/pkg/db/models"
	"github.com/angelmondragon/pixpay-backend/pkg/enums"
	"github.com/angelmondragon/pixpay-backend/pkg/openpix"
)

// CreatePaymentInput describes an inbound PIX charge request.
type CreatePaymentInput struct {
	Amount      decimal.Decimal
	Description string
	Customer    openpix.Customer
	Metadata    map[string]string
	UserID      *uuid.UUID
}

// PaymentResult is returned to the payer-facing client after a charge is opened.
type PaymentResult struct {
	TransactionID  uuid.UUID      `json:"transactionId"`
	CorrelationID  string         `json:"correlationId"`
	Status         string         `json:"status"`
	BRCode         string         `json:"brCode"`
	QRCodeImage    string         `json:"qrCodeImage"`
	PaymentLinkURL string         `json:"paymentLinkUrl"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
	Fees           fees.Breakdown `json:"fees"`
	AmountDisplay  string         `json:"amountDisplay"`
}

// PaymentView is the dashboard representation of a transaction.
type PaymentView struct {
	ID                    uuid.UUID       `json:"id"`
	CorrelationID         string          `json:"correlationId"`
	ProviderTransactionID *string         `json:"providerTransactionId,omitempty"`
	Type                  string          `json:"type"`
	Status                string          `json:"status"`
	Amount                decimal.Decimal `json:"amount"`
	Fee                   decimal.Decimal `json:"fee"`
	NetAmount             decimal.Decimal `json:"netAmount"`
	PayerName             string          `json:"payerName"`
	PayerDocument         *string         `json:"payerDocument,omitempty"`
	PayerEmail            *string         `json:"payerEmail,omitempty"`
	PayerPhone            *string         `json:"payerPhone,omitempty"`
	QRCodeURL             string          `json:"qrCodeUrl"`
	QRCodeText            string          `json:"qrCodeText"`
	PaymentLinkURL        string          `json:"paymentLinkUrl"`
	Description           *string         `json:"description,omitempty"`
	Metadata              json.RawMessage `json:"metadata,omitempty"`
	UserID                *uuid.UUID      `json:"userId,omitempty"`
	ExpiresAt             *time.Time      `json:"expiresAt,omitempty"`
	PaidAt                *time.Time      `json:"paidAt,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// PublicPayment is what an unauthenticated payer page may see: no payer
// contact data and no fee internals.
type PublicPayment struct {
	CorrelationID  string          `json:"correlationId"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	AmountDisplay  string          `json:"amountDisplay"`
	Description    *string         `json:"description,omitempty"`
	QRCodeURL      string          `json:"qrCodeUrl"`
	QRCodeText     string          `json:"qrCodeText"`
	PaymentLinkURL string          `json:"paymentLinkUrl"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	Paid           bool            `json:"paid"`
}

// PaymentList is a page of dashboard views.
type PaymentList struct {
	Items      []PaymentView `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

func newPaymentView(txn *models.Transaction) PaymentView {
	return PaymentView{
		ID:                    txn.ID,
		CorrelationID:         txn.CorrelationID,
		ProviderTransactionID: txn.ProviderTransactionID,
		Type:                  string(txn.Type),
		Status:                string(txn.Status),
		Amount:                txn.Amount,
		Fee:                   txn.Fee,
		NetAmount:             txn.NetAmount,
		PayerName:             txn.PayerName,
		PayerDocument:         txn.PayerDocument,
		PayerEmail:            txn.PayerEmail,
		PayerPhone:            txn.PayerPhone,
		QRCodeURL:             txn.QRCodeURL,
		QRCodeText:            txn.QRCodeText,
		PaymentLinkURL:        txn.PaymentLinkURL,
		Description:           txn.Description,
		Metadata:              txn.Metadata,
		UserID:                txn.UserID,
		ExpiresAt:             txn.ExpiresAt,
		PaidAt:                txn.PaidAt,
		CreatedAt:             txn.CreatedAt,
		UpdatedAt:             txn.UpdatedAt,
	}
}

func newPublicPayment(txn *models.Transaction) PublicPayment {
	return PublicPayment{
		CorrelationID:  txn.CorrelationID,
		Status:         string(txn.Status),
		Amount:         txn.Amount,
		AmountDisplay:  fees.FormatBRL(txn.Amount),
		Description:    txn.Description,
		QRCodeURL:      txn.QRCodeURL,
		QRCodeText:     txn.QRCodeText,
		PaymentLinkURL: txn.PaymentLinkURL,
		ExpiresAt:      txn.ExpiresAt,
		PaidAt:         txn.PaidAt,
		Paid:           txn.Status == enums.TransactionStatusCompleted,
	}
}
