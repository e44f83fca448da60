package money

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const defaultScale int32 = 2

var hundred = decimal.NewFromInt(100)

// NormalizeCurrency returns the canonical lower-case ISO 4217 code used throughout the API.
func NormalizeCurrency(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// IsKnownCurrency reports whether code is a recognised ISO 4217 currency.
func IsKnownCurrency(code string) bool {
	_, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	return err == nil
}

// Scale returns the number of minor-unit digits for the currency, defaulting to two.
func Scale(code string) int32 {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return defaultScale
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Round rounds amount half away from zero to the currency's minor unit.
func Round(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(Scale(code))
}

// Percent returns amount * percent / 100 rounded to the currency's minor unit.
func Percent(amount, percent decimal.Decimal, code string) decimal.Decimal {
	return Round(amount.Mul(percent).Div(hundred), code)
}

// ToMinorUnits converts a major-unit amount into the integer minor units PSPs expect.
func ToMinorUnits(amount decimal.Decimal, code string) int64 {
	scale := Scale(code)
	return amount.Round(scale).Shift(scale).IntPart()
}

// FromMinorUnits converts PSP minor units back into a major-unit decimal.
func FromMinorUnits(minor int64, code string) decimal.Decimal {
	return decimal.New(minor, -Scale(code))
}

// Format renders amount with exactly the currency's minor-unit digits.
func Format(amount decimal.Decimal, code string) string {
	return amount.StringFixed(Scale(code))
}
