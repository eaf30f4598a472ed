package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestConvertCrossCurrencyRoundsHalfUp(t *testing.T) {
	rates := DefaultRates()
	conv, err := rates.Convert(decimal.RequireFromString("100.00"), USD, EUR)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !conv.Fee.Equal(decimal.RequireFromString("0.50")) {
		t.Fatalf("unexpected fee: got=%s want=0.50", conv.Fee)
	}
	if !conv.Converted.Equal(decimal.RequireFromString("94.53")) {
		t.Fatalf("unexpected converted amount: got=%s want=94.53", conv.Converted)
	}
	if !conv.Rate.Equal(decimal.RequireFromString("0.95")) {
		t.Fatalf("unexpected rate: got=%s", conv.Rate)
	}
}

func TestConvertSameCurrencyHasNoFee(t *testing.T) {
	conv, err := DefaultRates().Convert(decimal.RequireFromString("42.10"), GBP, GBP)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !conv.Fee.IsZero() || !conv.Converted.Equal(decimal.RequireFromString("42.10")) || !conv.Rate.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected same-currency conversion: %+v", conv)
	}
}

func TestConvertUnsupportedPair(t *testing.T) {
	rates := NewRateTable(DefaultFeeRate)
	rates.Set(USD, EUR, decimal.RequireFromString("0.95"))
	_, err := rates.Convert(decimal.RequireFromString("10.00"), EUR, USD)
	if !errors.Is(err, ErrUnsupportedCurrencyPair) {
		t.Fatalf("expected unsupported pair, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "100", want: "100.00"},
		{in: "0.01", want: "0.01"},
		{in: " 12.50 ", want: "12.50"},
		{in: "12.500", want: "12.50"},
		{in: "0", wantErr: true},
		{in: "-5.00", wantErr: true},
		{in: "1.001", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("ParseAmount(%q) expected invalid amount, got=%v err=%v", tc.in, got, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tc.in, err)
		}
		if Format(got) != tc.want {
			t.Fatalf("ParseAmount(%q) got=%s want=%s", tc.in, Format(got), tc.want)
		}
	}
}

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency(" twd ")
	if err != nil || c != TWD {
		t.Fatalf("expected TWD, got=%q err=%v", c, err)
	}
	if _, err := ParseCurrency("BTC"); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("expected unknown currency, got %v", err)
	}
}

func TestParseRates(t *testing.T) {
	raw := []byte(`
fee_rate: "0.01"
rates:
  USD:
    EUR: "0.90"
  eur:
    usd: "1.10"
`)
	rates, err := ParseRates(raw)
	if err != nil {
		t.Fatalf("parse rates: %v", err)
	}
	if !rates.FeeRate.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("unexpected fee rate: %s", rates.FeeRate)
	}
	conv, err := rates.Convert(decimal.RequireFromString("200.00"), EUR, USD)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	// fee 2.00, (198.00 * 1.10) = 217.80
	if !conv.Converted.Equal(decimal.RequireFromString("217.80")) {
		t.Fatalf("unexpected converted: %s", conv.Converted)
	}
	if _, err := ParseRates([]byte("rates: {USD: {XXX: \"1\"}}")); err == nil {
		t.Fatalf("expected error for unknown currency")
	}
	if _, err := ParseRates([]byte("fee_rate: \"1.5\"\nrates: {USD: {EUR: \"1\"}}")); err == nil {
		t.Fatalf("expected error for out of range fee")
	}
}
