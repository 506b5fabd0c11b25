// Package utils provides shared market and formatting helpers.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// PipSize returns the pip increment for a currency pair: 0.01 for JPY-quoted
// pairs, 0.0001 otherwise.
func PipSize(symbol string) float64 {
	if QuoteCurrency(symbol) == "JPY" {
		return 0.01
	}
	return 0.0001
}

// QuoteCurrency extracts the quote currency from an instrument like
// "EUR_USD". Malformed symbols return an empty string.
func QuoteCurrency(symbol string) string {
	parts := strings.Split(symbol, "_")
	if len(parts) != 2 || len(parts[1]) != 3 {
		return ""
	}
	return strings.ToUpper(parts[1])
}

// BaseCurrency extracts the base currency from an instrument like "EUR_USD".
func BaseCurrency(symbol string) string {
	parts := strings.Split(symbol, "_")
	if len(parts) != 2 || len(parts[0]) != 3 {
		return ""
	}
	return strings.ToUpper(parts[0])
}

// ValidSymbol reports whether symbol looks like a BASE_QUOTE instrument.
func ValidSymbol(symbol string) bool {
	return BaseCurrency(symbol) != "" && QuoteCurrency(symbol) != ""
}

// Pips converts a price distance to pips for the pair.
func Pips(symbol string, distance float64) float64 {
	return distance / PipSize(symbol)
}

// FormatCurrency formats an amount with a currency code, e.g. "1,234.56 USD".
func FormatCurrency(amount float64, currency string) string {
	s := fmt.Sprintf("%.2f", amount)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	parts := strings.Split(s, ".")
	intPart := parts[0]

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + parts[1]
	if neg {
		out = "-" + out
	}
	if currency != "" {
		out += " " + currency
	}
	return out
}

// FormatDuration renders a duration in a compact human form like "2h15m".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}
