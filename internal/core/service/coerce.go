package service

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var maxCount = decimal.NewFromInt(math.MaxInt32)

// inCountRange reports whether d fits a stored quantity or stock column.
func inCountRange(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(maxCount)
}

// coerceQuantity parses a quantity from a reviewer payload. Fractions are
// truncated. ok is false when the raw value was not numeric or falls outside
// 0..MaxInt32, in which case the quantity is 0.
func coerceQuantity(raw string) (qty int, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	d = d.Truncate(0)
	if !inCountRange(d) {
		return 0, false
	}
	return int(d.IntPart()), true
}

// coercePrice parses a non-negative two-decimal price. Negative values clamp
// to 0; non-numeric values yield 0 with ok false.
func coercePrice(raw string) (price decimal.Decimal, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	if d.IsNegative() {
		return decimal.Zero, true
	}
	return d.Round(2), true
}

// parseStock reads a live stock value from a feed row. Blank means the row
// carries no value; fractions and values outside 0..MaxInt32 are malformed.
func parseStock(raw string) (stock int, present bool, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.Equal(d.Truncate(0)) || !inCountRange(d) {
		return 0, true, false
	}
	return int(d.IntPart()), true, true
}
