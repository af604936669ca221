// Package fx loads exchange rates and re-normalizes stored transactions to the
// base currency.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/shopspring/decimal"
)

// Rates maps an ISO currency code to its rate to base: how many units of the base
// currency one unit of the currency is worth.
type Rates map[string]decimal.Decimal

// Provider fetches current rates for a base currency.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, base string) (Rates, error)
}

// Merge layers sources left to right, later sources winning, and pins base to 1.
func Merge(base string, sources ...Rates) Rates {
	out := make(Rates)
	for _, src := range sources {
		for code, rate := range src {
			out[code] = rate
		}
	}
	out[base] = decimal.NewFromInt(1)
	return out
}

// ParseRates reads a JSON object of currency code to rate-to-base, as used for the
// fallback table. Codes are normalized; non-positive rates are rejected.
func ParseRates(raw string) (Rates, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Rates{}, nil
	}

	var parsed map[string]json.Number
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ParseRates: %w", err)
	}

	rates := make(Rates, len(parsed))
	for code, num := range parsed {
		c, err := money.NormalizeCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("ParseRates: %q: %w", code, err)
		}
		rate, err := decimal.NewFromString(num.String())
		if err != nil {
			return nil, fmt.Errorf("ParseRates: %s: %w", c, err)
		}
		if err := money.ValidateRate(rate); err != nil {
			return nil, fmt.Errorf("ParseRates: %s: %w", c, err)
		}
		rates[c] = rate
	}
	return rates, nil
}

// StaticProvider serves a fixed table. It stands in for a remote provider in
// tests and offline deployments.
type StaticProvider struct {
	Rates Rates
}

// Name implements Provider.
func (p StaticProvider) Name() string { return "static" }

// Fetch implements Provider.
func (p StaticProvider) Fetch(ctx context.Context, base string) (Rates, error) {
	out := make(Rates, len(p.Rates))
	for k, v := range p.Rates {
		out[k] = v
	}
	return out, nil
}
