package openpix

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargeStatus is the provider-reported charge state.
type ChargeStatus string

const (
	ChargeStatusActive    ChargeStatus = "ACTIVE"
	ChargeStatusCompleted ChargeStatus = "COMPLETED"
	ChargeStatusExpired   ChargeStatus = "EXPIRED"
)

// Charge is the normalized view of a provider charge. Optional artifacts are
// empty strings and ExpiresAt is the zero time when the provider omits them.
type Charge struct {
	CorrelationID         string
	Value                 int64
	Status                ChargeStatus
	BRCode                string
	QRCodeImage           string
	PaymentLinkURL        string
	ProviderTransactionID string
	ExpiresAt             time.Time
	PaidAt                *time.Time
}

// Customer identifies the payer sent to the provider.
type Customer struct {
	Name     string
	Document string
	Email    string
	Phone    string
}

// CreateChargeInput describes a charge to open at the provider.
type CreateChargeInput struct {
	Amount      decimal.Decimal
	Description string
	Customer    Customer
	Metadata    map[string]string
}

type additionalInfo struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type customerPayload struct {
	Name  string `json:"name"`
	TaxID string `json:"taxID,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type createChargeRequest struct {
	CorrelationID  string           `json:"correlationID"`
	Value          int64            `json:"value"`
	Comment        string           `json:"comment,omitempty"`
	Customer       *customerPayload `json:"customer,omitempty"`
	AdditionalInfo []additionalInfo `json:"additionalInfo,omitempty"`
}

type chargePayload struct {
	CorrelationID  string  `json:"correlationID"`
	Value          int64   `json:"value"`
	Status         string  `json:"status"`
	BRCode         *string `json:"brCode"`
	QRCodeImage    *string `json:"qrCodeImage"`
	PaymentLinkURL *string `json:"paymentLinkUrl"`
	ExpiresDate    *string `json:"expiresDate"`
	TransactionID  *string `json:"transactionID"`
	GlobalID       *string `json:"globalID"`
	PaidAt         *string `json:"paidAt"`
}

type chargeEnvelope struct {
	Charge *chargePayload `json:"charge"`
	BRCode *string        `json:"brCode"`
}

func (p *chargePayload) normalize(topLevelBRCode *string) Charge {
	charge := Charge{
		CorrelationID:  p.CorrelationID,
		Value:          p.Value,
		Status:         ChargeStatus(p.Status),
		BRCode:         firstNonEmpty(p.BRCode, topLevelBRCode),
		QRCodeImage:    stringValue(p.QRCodeImage),
		PaymentLinkURL: stringValue(p.PaymentLinkURL),
		ExpiresAt:      parseTime(p.ExpiresDate),
	}
	charge.ProviderTransactionID = firstNonEmpty(p.TransactionID, p.GlobalID)
	if paid := parseTime(p.PaidAt); !paid.IsZero() {
		charge.PaidAt = &paid
	}
	return charge
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if s := stringValue(v); s != "" {
			return s
		}
	}
	return ""
}

func parseTime(raw *string) time.Time {
	s := stringValue(raw)
	if s == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}
