package domain

import (
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Money is a monetary amount in the currency's minor units with an ISO 4217
// code. Amounts without a currency use two minor digits.
type Money struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency,omitempty"`
}

// NewMoney converts a decimal amount to Money, rounding to the currency's
// minor digits (2 for USD, 0 for JPY, 3 for BHD).
func NewMoney(amount float64, code string) Money {
	code = NormalizeCurrency(code)
	return Money{
		Minor:    int64(math.Round(amount * math.Pow10(minorDigits(code)))),
		Currency: code,
	}
}

// minorDigits is the ISO 4217 fraction digit count of a normalized code.
func minorDigits(code string) int {
	if code == "" {
		return 2
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// NormalizeCurrency returns the upper-case ISO 4217 code, or "" when the
// code is not a recognised currency.
func NormalizeCurrency(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return ""
	}
	return unit.String()
}

// Float returns the amount in major units.
func (m Money) Float() float64 {
	return float64(m.Minor) / math.Pow10(minorDigits(m.Currency))
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Minor == 0
}

// FormatAmount renders the amount with thousands separators and the
// currency's fraction digits ("12,419.83", "JPY 150,000").
func (m Money) FormatAmount() string {
	p := message.NewPrinter(language.English)
	return p.Sprint(number.Decimal(m.Float(), number.Scale(minorDigits(m.Currency))))
}

// String renders "USD 12,419.83", or just the amount when no currency is set.
func (m Money) String() string {
	if m.Currency == "" {
		return m.FormatAmount()
	}
	return m.Currency + " " + m.FormatAmount()
}
