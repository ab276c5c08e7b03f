package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY ARITHMETIC
// =============================================================================

var (
	// MinCurrency and MaxCurrency bound every stored currency value.
	MinCurrency = decimal.RequireFromString("0.01")
	MaxCurrency = decimal.RequireFromString("999999999.99")

	// MinPercentage and MaxPercentage bound a single percentage allocation.
	MinPercentage = decimal.RequireFromString("0.01")
	MaxPercentage = decimal.NewFromInt(100)

	hundred = decimal.NewFromInt(100)
)

// Round2 rounds x to whole cents. Ties round away from zero, which is
// round-half-up for the non-negative amounts the engine stores.
func Round2(x decimal.Decimal) decimal.Decimal {
	return x.Round(2)
}

// InRange fails with a *RangeError when x falls outside [min, max].
func InRange(x, min, max decimal.Decimal) error {
	if x.LessThan(min) || x.GreaterThan(max) {
		return &RangeError{Value: x, Min: min, Max: max}
	}
	return nil
}

// ParseAmount parses a decimal string and rounds it to cents.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Round2(d), nil
}

// MustAmount is ParseAmount for literals. It panics on malformed input.
func MustAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Ptr returns a pointer to d, for filling nullable AllocationInput fields.
func Ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
