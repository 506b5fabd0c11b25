package utils

import (
	"testing"
	"time"
)

func TestPipSize(t *testing.T) {
	cases := []struct {
		symbol string
		want   float64
	}{
		{"EUR_USD", 0.0001},
		{"GBP_USD", 0.0001},
		{"USD_JPY", 0.01},
		{"EUR_JPY", 0.01},
	}
	for _, c := range cases {
		if got := PipSize(c.symbol); got != c.want {
			t.Errorf("PipSize(%s) = %v, want %v", c.symbol, got, c.want)
		}
	}
}

func TestCurrencyExtraction(t *testing.T) {
	if q := QuoteCurrency("EUR_USD"); q != "USD" {
		t.Errorf("QuoteCurrency = %q, want USD", q)
	}
	if b := BaseCurrency("EUR_USD"); b != "EUR" {
		t.Errorf("BaseCurrency = %q, want EUR", b)
	}
	for _, bad := range []string{"EURUSD", "EUR_US", "", "EUR_USD_X"} {
		if ValidSymbol(bad) {
			t.Errorf("ValidSymbol(%q) = true, want false", bad)
		}
	}
}

func TestPips(t *testing.T) {
	if p := Pips("EUR_USD", 0.0030); p != 30 {
		t.Errorf("Pips = %v, want 30", p)
	}
	if p := Pips("USD_JPY", 0.25); p != 25 {
		t.Errorf("JPY Pips = %v, want 25", p)
	}
}

func TestFormatCurrency(t *testing.T) {
	cases := []struct {
		amount float64
		want   string
	}{
		{1234.5, "1,234.50 USD"},
		{-98765.432, "-98,765.43 USD"},
		{12.0, "12.00 USD"},
		{1234567.0, "1,234,567.00 USD"},
	}
	for _, c := range cases {
		if got := FormatCurrency(c.amount, "USD"); got != c.want {
			t.Errorf("FormatCurrency(%v) = %q, want %q", c.amount, got, c.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := FormatDuration(2*time.Hour + 15*time.Minute); got != "2h15m" {
		t.Errorf("FormatDuration = %q, want 2h15m", got)
	}
	if got := FormatDuration(45 * time.Minute); got != "45m" {
		t.Errorf("FormatDuration = %q, want 45m", got)
	}
}
