// Package money converts catalog prices into the minor units payment providers expect.
package money

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// exponents holds the ISO 4217 minor-unit exponent of each supported currency.
var exponents = map[string]int32{
	"INR": 2,
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CAD": 2,
	"AUD": 2,
	"SGD": 2,
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Normalize upper-cases and trims a currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Exponent returns the number of minor-unit digits for code.
func Exponent(code string) (int32, error) {
	exp, ok := exponents[Normalize(code)]
	if !ok {
		return 0, fmt.Errorf("unsupported currency %q", code)
	}
	return exp, nil
}

// Supported reports whether code has a known exponent.
func Supported(code string) bool {
	_, err := Exponent(code)
	return err == nil
}

// MinorUnits converts a whole-unit amount into minor units of code,
// e.g. 500 INR -> 50000 paise, 500 JPY -> 500 yen, 5 KWD -> 5000 fils.
func MinorUnits(amount int64, code string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative amount %d", amount)
	}
	exp, err := Exponent(code)
	if err != nil {
		return 0, err
	}

	minor := decimal.NewFromInt(amount).Shift(exp)
	if minor.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("amount %d %s overflows minor units", amount, Normalize(code))
	}
	return minor.IntPart(), nil
}

// AddLine returns total + unit*quantity, failing instead of wrapping past int64.
func AddLine(total, unit, quantity int64) (int64, error) {
	sum := decimal.NewFromInt(unit).Mul(decimal.NewFromInt(quantity)).Add(decimal.NewFromInt(total))
	if sum.GreaterThan(maxMinor) || sum.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("total overflows: %d + %d x %d", total, unit, quantity)
	}
	return sum.IntPart(), nil
}

// FormatMinor renders a minor-unit amount as a decimal string in major units.
func FormatMinor(minor int64, code string) (string, error) {
	exp, err := Exponent(code)
	if err != nil {
		return "", err
	}
	return decimal.New(minor, -exp).StringFixed(exp) + " " + Normalize(code), nil
}
