// Package money holds the single rounding rule for commission amounts.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Commission returns gross × rate rounded half-up to the minor unit.
// gross is in minor units and must be non-negative.
func Commission(gross int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(gross).Mul(rate).Round(0).IntPart()
}

// NormalizeCurrency returns the upper-case ISO code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCurrency reports whether code looks like a three-letter ISO code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
