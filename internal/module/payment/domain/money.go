package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary amount in the minor unit of its currency (kobo, cents).
type Amount int64

var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"XOF": true,
	"XAF": true,
	"UGX": true,
	"RWF": true,
}

// NormalizeCurrency upper-cases and validates an ISO 4217 code.
func NormalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if len(c) != 3 {
		return "", NewValidationError("currency", "must be a 3-letter ISO code")
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", NewValidationError("currency", "must be a 3-letter ISO code")
		}
	}
	return c, nil
}

// CurrencyExponent returns the number of minor-unit digits for a currency.
func CurrencyExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// ParseAmount converts a major-unit decimal into minor units.
// Amounts must be positive and carry no more fractional digits than the currency allows.
func ParseAmount(major decimal.Decimal, currency string) (Amount, error) {
	if !major.IsPositive() {
		return 0, NewValidationError("amount", "must be greater than zero")
	}
	exp := CurrencyExponent(currency)
	minor := major.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, NewValidationError("amount", "has more decimal places than the currency allows")
	}
	if !minor.LessThanOrEqual(decimal.NewFromInt(1 << 53)) {
		return 0, NewValidationError("amount", "is too large")
	}
	return Amount(minor.IntPart()), nil
}

// FromMinor builds an amount from a provider value already in minor units.
func FromMinor(minor int64) Amount {
	return Amount(minor)
}

// Major returns the amount in major units of the given currency.
func (a Amount) Major(currency string) decimal.Decimal {
	return decimal.NewFromInt(int64(a)).Shift(-CurrencyExponent(currency))
}

// Minor returns the raw minor-unit value.
func (a Amount) Minor() int64 {
	return int64(a)
}

// String formats the amount in minor units.
func (a Amount) String() string {
	return decimal.NewFromInt(int64(a)).String()
}
