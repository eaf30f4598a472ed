package money

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultFeeRate is charged on cross-currency conversions.
var DefaultFeeRate = decimal.RequireFromString("0.005")

type pair struct {
	from Currency
	to   Currency
}

// RateTable holds directional exchange rates and the conversion fee rate.
type RateTable struct {
	FeeRate decimal.Decimal
	rates   map[pair]decimal.Decimal
}

func NewRateTable(feeRate decimal.Decimal) *RateTable {
	return &RateTable{FeeRate: feeRate, rates: make(map[pair]decimal.Decimal)}
}

func (t *RateTable) Set(from, to Currency, rate decimal.Decimal) {
	t.rates[pair{from: from, to: to}] = rate
}

func (t *RateTable) Rate(from, to Currency) (decimal.Decimal, bool) {
	r, ok := t.rates[pair{from: from, to: to}]
	return r, ok
}

// DefaultRates returns the built-in table used when no rates file is configured.
func DefaultRates() *RateTable {
	t := NewRateTable(DefaultFeeRate)
	for from, row := range map[Currency]map[Currency]string{
		USD: {EUR: "0.95", GBP: "0.79", JPY: "150.25", TWD: "32.50"},
		EUR: {USD: "1.05", GBP: "0.83", JPY: "158.50", TWD: "34.20"},
		GBP: {USD: "1.27", EUR: "1.20", JPY: "190.50", TWD: "41.15"},
		JPY: {USD: "0.0067", EUR: "0.0063", GBP: "0.0052", TWD: "0.22"},
		TWD: {USD: "0.031", EUR: "0.029", GBP: "0.024", JPY: "4.62"},
	} {
		for to, rate := range row {
			t.Set(from, to, decimal.RequireFromString(rate))
		}
	}
	return t
}

type rateFile struct {
	FeeRate string                       `yaml:"fee_rate"`
	Rates   map[string]map[string]string `yaml:"rates"`
}

// LoadRatesFile reads a YAML rate table of the form
//
//	fee_rate: "0.005"
//	rates:
//	  USD: {EUR: "0.95"}
func LoadRatesFile(path string) (*RateTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rates file: %w", err)
	}
	return ParseRates(raw)
}

func ParseRates(raw []byte) (*RateTable, error) {
	var f rateFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode rates file: %w", err)
	}
	fee := DefaultFeeRate
	if f.FeeRate != "" {
		d, err := decimal.NewFromString(f.FeeRate)
		if err != nil {
			return nil, fmt.Errorf("parse fee_rate: %w", err)
		}
		if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("fee_rate %s out of range", f.FeeRate)
		}
		fee = d
	}
	t := NewRateTable(fee)
	for fromRaw, row := range f.Rates {
		from, err := ParseCurrency(fromRaw)
		if err != nil {
			return nil, err
		}
		for toRaw, rateRaw := range row {
			to, err := ParseCurrency(toRaw)
			if err != nil {
				return nil, err
			}
			rate, err := decimal.NewFromString(rateRaw)
			if err != nil {
				return nil, fmt.Errorf("parse rate %s->%s: %w", from, to, err)
			}
			if !rate.IsPositive() {
				return nil, fmt.Errorf("rate %s->%s must be positive", from, to)
			}
			t.Set(from, to, rate)
		}
	}
	if len(t.rates) == 0 {
		return nil, fmt.Errorf("rates file contains no rates")
	}
	return t, nil
}

// Conversion is the outcome of converting an amount between currencies.
type Conversion struct {
	From      Currency
	To        Currency
	Original  decimal.Decimal
	Converted decimal.Decimal
	Rate      decimal.Decimal
	Fee       decimal.Decimal
}

// Convert applies the fee to the original amount before the rate.
// Same-currency conversions carry no fee.
func (t *RateTable) Convert(amount decimal.Decimal, from, to Currency) (Conversion, error) {
	if from == to {
		return Conversion{
			From:      from,
			To:        to,
			Original:  amount,
			Converted: amount,
			Rate:      decimal.NewFromInt(1),
			Fee:       decimal.Zero,
		}, nil
	}
	rate, ok := t.Rate(from, to)
	if !ok {
		return Conversion{}, fmt.Errorf("%w: %s->%s", ErrUnsupportedCurrencyPair, from, to)
	}
	fee := Round2(amount.Mul(t.FeeRate))
	converted := Round2(amount.Sub(fee).Mul(rate))
	return Conversion{
		From:      from,
		To:        to,
		Original:  amount,
		Converted: converted,
		Rate:      rate,
		Fee:       fee,
	}, nil
}
