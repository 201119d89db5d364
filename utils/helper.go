package utils

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// DisplayPlaces is the precision of every amount and percentage leaving the API.
const DisplayPlaces = 2

var hundred = decimal.NewFromInt(100)

func Hundred() decimal.Decimal { return hundred }

// ParseDecimal converts a string to a decimal.Decimal value.
// Thousands separators are tolerated ("1,234.50").
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	return decimal.NewFromString(value)
}

// RoundDisplay rounds half away from zero to DisplayPlaces.
// Accumulate at full precision; call this only when rendering.
func RoundDisplay(d decimal.Decimal) decimal.Decimal {
	return d.Round(DisplayPlaces)
}

// RoundDisplayPtr is RoundDisplay for optional amounts.
func RoundDisplayPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := RoundDisplay(*d)
	return &r
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	out := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var zero T
	if len(defaults) > 0 {
		return defaults[0]
	}
	return zero
}
