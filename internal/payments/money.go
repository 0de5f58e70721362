package payments

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit at the provider boundary.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

func minorExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(strings.TrimSpace(currency))]; ok {
		return 0
	}
	return 2
}

// ToMinorUnits converts a major-unit amount into the provider's integer units,
// rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	minor := amount.Shift(minorExponent(currency)).Round(0)
	if !minor.IsPositive() {
		return 0, fmt.Errorf("amount %s rounds to zero %s", amount.String(), currency)
	}
	return minor.IntPart(), nil
}

// FromMinorUnits converts provider integer units back into major units.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	exp := minorExponent(currency)
	return decimal.New(minor, -exp)
}
