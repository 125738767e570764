package openpix

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultCorrelationPrefix = "pix"

var hundred = decimal.NewFromInt(100)

// NewCorrelationID returns "<prefix>_<unix millis>_<12 hex>". The suffix carries
// 48 random bits from a v4 uuid so ids minted in the same millisecond differ.
func NewCorrelationID(prefix string, now time.Time) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultCorrelationPrefix
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), random)
}

// ToCents converts BRL to integer centavos, rounding half away from zero.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromCents converts integer centavos back to BRL.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
