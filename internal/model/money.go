package model

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseCents converts a decimal amount in major units to minor units.
// Use for backends that return prices like "99.00" or 12.5.
// Decimal arithmetic keeps "0.29" at 29 instead of 28.999...
// Examples: "99.00" → 9900, "1234.56" → 123456, "" → 0, "abc" → 0
func ParseCents(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.Shift(2).Round(0).IntPart()
}

// CentsFromFloat converts a JSON number in major units to minor units.
func CentsFromFloat(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return decimal.NewFromFloat(f).Shift(2).Round(0).IntPart()
}

// ParseMinorUnits converts string amounts already in minor units to int64.
// WooCommerce Store API uses this format for all price fields.
// Examples: "8900" → 8900, "123456" → 123456, "" → 0
func ParseMinorUnits(s string) int64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

// FormatCents renders minor units as a major-unit decimal string ("12.50").
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
