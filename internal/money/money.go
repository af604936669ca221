// Package money holds the pure conversion and validation rules for ledger amounts.
package money

import (
	"math"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/shopspring/decimal"
)

const (
	// BasePlaces is the number of decimal places amount_base is rounded to.
	BasePlaces = 6

	// RatePlaces is the precision kept when a provider quote is inverted.
	RatePlaces = 10
)

// RateEpsilon is the smallest rate change the FX refresher acts on.
var RateEpsilon = decimal.RequireFromString("0.0001")

// ToBase converts amount into the base currency using rate.
func ToBase(amount, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateRate(rate); err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(BasePlaces), nil
}

// TypeToDelta returns the signed effect of a transaction on its account balance.
func TypeToDelta(txType string, amount decimal.Decimal) decimal.Decimal {
	if txType == "expense" {
		return amount.Neg()
	}
	return amount
}

// ValidateAmount requires a strictly positive amount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Validation("Amount must be a positive number")
	}
	return nil
}

// ValidateRate requires a strictly positive FX rate.
func ValidateRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return apperr.Validation("fx_rate_to_base must be a positive number")
	}
	return nil
}

// FromFloat converts a provider float into a decimal, rejecting NaN and infinities.
func FromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, apperr.Validation("value must be a finite number")
	}
	return decimal.NewFromFloat(f), nil
}

// NormalizeCurrency trims and uppercases an ISO-4217 code.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", apperr.Validation("Currency must be a 3-letter ISO code")
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", apperr.Validation("Currency must be a 3-letter ISO code")
		}
	}
	return c, nil
}

// RequireSameCurrency fails when a transaction currency does not match its account.
// An empty transaction currency means "use the account's".
func RequireSameCurrency(txCurrency, accountCurrency string) error {
	if txCurrency == "" {
		return nil
	}
	c, err := NormalizeCurrency(txCurrency)
	if err != nil {
		return err
	}
	if c != accountCurrency {
		return apperr.Validation("Transaction currency must match account currency")
	}
	return nil
}

// RatesDiffer reports whether two rates are more than epsilon apart.
func RatesDiffer(a, b, epsilon decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(epsilon)
}

// Invert turns a "units of currency per one base" quote into a rate to base.
func Invert(quote decimal.Decimal) (decimal.Decimal, error) {
	if !quote.IsPositive() {
		return decimal.Zero, apperr.Validation("quote must be positive")
	}
	return decimal.NewFromInt(1).DivRound(quote, RatePlaces), nil
}
