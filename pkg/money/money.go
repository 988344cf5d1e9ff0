// Package money provides currency-safe amount parsing and arithmetic.
// Persisted amounts are integer minor units (cents); in-flight pipeline
// values use shopspring/decimal so reconciliation stays exact.
package money

import (
	"fmt"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Money is a monetary value bound to an ISO-4217 currency.
type Money struct {
	m *gomoney.Money
}

// New creates Money from minor units (cents) and a currency code.
func New(amountMinor int64, currencyCode string) *Money {
	return &Money{m: gomoney.New(amountMinor, currencyCode)}
}

// NewFromDecimal creates Money from a decimal value in major units.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := gomoney.GetCurrency(currencyCode)
	if currency == nil {
		currency = gomoney.GetCurrency(gomoney.EUR)
	}
	multiplier := decimal.New(1, int32(currency.Fraction))
	minor := amount.Mul(multiplier).Round(0).IntPart()
	return New(minor, currency.Code)
}

// Minor returns the amount in minor units.
func (m *Money) Minor() int64 {
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code.
func (m *Money) Currency() string {
	return m.m.Currency().Code
}

// Decimal returns the amount in major units as a decimal.
func (m *Money) Decimal() decimal.Decimal {
	return decimal.New(m.m.Amount(), -int32(m.m.Currency().Fraction))
}

// Display formats the amount with its currency symbol, e.g. "€12.34".
func (m *Money) Display() string {
	return m.m.Display()
}

// Negate returns the additive inverse.
func (m *Money) Negate() *Money {
	return New(-m.m.Amount(), m.Currency())
}

// MinorFromDecimal converts a major-unit decimal to minor units for the
// given currency.
func MinorFromDecimal(amount decimal.Decimal, currencyCode string) int64 {
	return NewFromDecimal(amount, currencyCode).Minor()
}

// DecimalFromMinor converts minor units back to a major-unit decimal.
func DecimalFromMinor(amountMinor int64, currencyCode string) decimal.Decimal {
	return New(amountMinor, currencyCode).Decimal()
}

var currencySymbols = []string{"R$", "US$", "$", "€", "£", "¥", "USD", "EUR", "GBP", "BRL", "CHF"}

// ParseAmount parses a raw statement amount into a decimal. It tolerates
// currency symbols, thousands separators and parenthesized negatives, in
// both US (1,234.56) and European (1.234,56) conventions.
func ParseAmount(raw string, european bool) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.Trim(s, "()")
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")

	if european {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	if s == "" {
		return decimal.Zero, fmt.Errorf("no digits in amount %q", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}

	if negative {
		d = d.Neg()
	}
	return d, nil
}

// DetectEuropeanFormat inspects sample amount strings and reports whether
// they use the European convention (comma as decimal separator). The second
// return value is false when the samples are ambiguous.
func DetectEuropeanFormat(samples []string) (bool, bool) {
	europeanHints := 0
	usHints := 0

	for _, raw := range samples {
		cleaned := digitsAndSeparators(raw)
		cleaned = strings.TrimPrefix(cleaned, "-")
		if cleaned == "" {
			continue
		}

		hasComma := strings.Contains(cleaned, ",")
		hasDot := strings.Contains(cleaned, ".")

		switch {
		case hasComma && hasDot:
			if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
				europeanHints++
			} else {
				usHints++
			}
		case hasComma:
			if hasDecimalSuffix(cleaned, ',') {
				europeanHints++
			}
		case hasDot:
			if hasDecimalSuffix(cleaned, '.') {
				usHints++
			}
		}
	}

	if europeanHints == usHints {
		return false, false
	}
	return europeanHints > usHints, true
}

func digitsAndSeparators(raw string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)
}

func hasDecimalSuffix(value string, sep rune) bool {
	idx := strings.LastIndex(value, string(sep))
	if idx == -1 || idx == len(value)-1 {
		return false
	}
	suffix := value[idx+1:]
	if len(suffix) > 2 {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
