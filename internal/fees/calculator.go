// Package fees computes the flat PIX fee breakdown for a gross charge amount.
package fees

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/angelmondragon/pixpay-backend/pkg/config"
)

// Breakdown is the fee split for one gross amount, all values in BRL.
type Breakdown struct {
	Amount       decimal.Decimal `json:"amount"`
	PlatformFee  decimal.Decimal `json:"platformFee"`
	NetAmount    decimal.Decimal `json:"netAmount"`
	ProviderCost decimal.Decimal `json:"providerCost"`
	Profit       decimal.Decimal `json:"profit"`
}

// Calculator applies a flat platform fee and provider cost. It is safe for concurrent use.
type Calculator struct {
	platformFee  decimal.Decimal
	providerCost decimal.Decimal
}

func NewCalculator(platformFee, providerCost decimal.Decimal) *Calculator {
	return &Calculator{platformFee: platformFee, providerCost: providerCost}
}

func NewCalculatorFromConfig(cfg config.FeesConfig) *Calculator {
	return NewCalculator(cfg.PlatformFee, cfg.ProviderCost)
}

// Calculate is total over every amount; rejecting non-positive amounts is the caller's job.
func (c *Calculator) Calculate(amount decimal.Decimal) Breakdown {
	return Breakdown{
		Amount:       amount,
		PlatformFee:  c.platformFee,
		NetAmount:    amount.Sub(c.platformFee),
		ProviderCost: c.providerCost,
		Profit:       c.platformFee.Sub(c.providerCost),
	}
}

func (c *Calculator) PlatformFee() decimal.Decimal { return c.platformFee }

func (c *Calculator) ProviderCost() decimal.Decimal { return c.providerCost }

var brlPrinter = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL renders value as Brazilian reais for display, e.g. "R$ 1.234,56".
func FormatBRL(value decimal.Decimal) string {
	rounded := value.Round(2).InexactFloat64()
	return "R$ " + brlPrinter.Sprint(number.Decimal(rounded, number.Scale(2)))
}
