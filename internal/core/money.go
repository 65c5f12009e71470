// Package core holds the domain types shared by the session manager,
// the dashboard aggregator and the data service implementations.
//
// Amounts are kept as integer cents; text formatting is delegated to
// golang.org/x/text so the same value renders in the business currency.
package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Money is an amount in the smallest currency unit.
type Money struct {
	Cents int64
}

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts a decimal string such as "1234.50" or "-12,3" to
// cents, rounding half-up on the third fractional digit. Zero and negative
// amounts are accepted since balances and credit notes use them.
func ParseAmount(s string) (Money, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if s == "" || (intPart == "" && fracPart == "") || strings.Contains(fracPart, ".") {
		return Money{}, ErrInvalidAmount
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return Money{}, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || iv > (1<<63-1)/100-1 {
		return Money{}, ErrInvalidAmount
	}

	var frac int64
	if len(fracPart) > 0 {
		frac = int64(fracPart[0]-'0') * 10
	}
	if len(fracPart) > 1 {
		frac += int64(fracPart[1] - '0')
	}
	if len(fracPart) > 2 && fracPart[2] >= '5' {
		frac++
	}

	cents := iv*100 + frac
	if neg {
		cents = -cents
	}
	return Money{Cents: cents}, nil
}

// Cents is a convenience constructor for optional amounts.
func Cents(c int64) *Money {
	return &Money{Cents: c}
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// CentsOrZero treats a missing amount as zero.
func (m *Money) CentsOrZero() int64 {
	if m == nil {
		return 0
	}
	return m.Cents
}

// Units returns the amount in major units for display purposes.
// Use cents for calculations.
func (m Money) Units() float64 {
	return float64(m.Cents) / 100.0
}

var printer = message.NewPrinter(language.AmericanEnglish)

// FormatMoney renders m in the given ISO 4217 currency (USD when empty or
// unknown), e.g. "$ 1,234.50".
func FormatMoney(m Money, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit = currency.USD
	}
	return printer.Sprint(currency.Symbol(unit.Amount(m.Units())))
}

// String implements fmt.Stringer with a plain two-decimal rendering.
func (m Money) String() string {
	sign := ""
	c := m.Cents
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
