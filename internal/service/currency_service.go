package service

import (
	"strings"

	"github.com/shopspring/decimal"
)

// defaultRates map a lower-cased ISO code to MKD per unit.
var defaultRates = map[string]decimal.Decimal{
	"eur": decimal.RequireFromString("61.5"),
	"usd": decimal.NewFromInt(56),
	"gbp": decimal.NewFromInt(72),
	"aed": decimal.RequireFromString("15.5"),
}

// StaticCurrencyConverter converts amounts with a fixed rate table.
type StaticCurrencyConverter struct {
	rates map[string]decimal.Decimal
}

// NewStaticCurrencyConverter returns a converter using the built-in rates.
func NewStaticCurrencyConverter() *StaticCurrencyConverter {
	return &StaticCurrencyConverter{rates: defaultRates}
}

// NewCurrencyConverterWithRates returns a converter with a custom table.
// Keys are lower-cased on the way in.
func NewCurrencyConverterWithRates(rates map[string]decimal.Decimal) *StaticCurrencyConverter {
	normalized := make(map[string]decimal.Decimal, len(rates))
	for code, rate := range rates {
		normalized[strings.ToLower(code)] = rate
	}
	return &StaticCurrencyConverter{rates: normalized}
}

// Convert multiplies by the rate and rounds half-up to a whole MKD amount.
// Codes without a rate (including mkd) pass through unchanged.
func (c *StaticCurrencyConverter) Convert(amount decimal.Decimal, currencyCode string) decimal.Decimal {
	rate, ok := c.Rate(currencyCode)
	if !ok {
		return amount
	}
	return amount.Mul(rate).Round(0)
}

func (c *StaticCurrencyConverter) Rate(currencyCode string) (decimal.Decimal, bool) {
	rate, ok := c.rates[strings.ToLower(strings.TrimSpace(currencyCode))]
	return rate, ok
}
