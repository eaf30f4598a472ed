package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every ledger amount.
const Scale = 2

type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
	TWD Currency = "TWD"
)

var supported = map[Currency]struct{}{
	USD: {}, EUR: {}, GBP: {}, JPY: {}, TWD: {},
}

var (
	ErrUnknownCurrency         = errors.New("unknown currency")
	ErrUnsupportedCurrencyPair = errors.New("unsupported currency pair")
	ErrInvalidAmount           = errors.New("invalid amount")
)

func ParseCurrency(v string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(v)))
	if _, ok := supported[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, v)
	}
	return c, nil
}

func (c Currency) Valid() bool {
	_, ok := supported[c]
	return ok
}

func (c Currency) String() string { return string(c) }

// Round2 rounds half away from zero to two decimals.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// ParseAmount parses a strictly positive amount with at most two decimals.
func ParseAmount(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !d.Equal(d.Truncate(Scale)) {
		return fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, Scale)
	}
	return nil
}

// Format renders an amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
