/*
Package generic provides the domain-agnostic kernel of the lodger engine.

PURPOSE:
  This package contains the value types every other package builds on:
  money, calendar dates, periods, identifiers, error kinds and the
  persistence contracts. Nothing here knows what a tenancy or a notice is.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount in a currency (GBP by default)
  - ID: Prefixed, globally unique identifiers

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Late rounding: Amounts keep full precision until Round2() at emission
  3. Type Safety: Money carries its currency so mixed sums are detectable

USAGE:
  rent := generic.GBP(850)
  daily := rent.DivInt(28)           // 30.3571428571...
  owed := daily.MulInt(5).Round2()   // 151.79

SEE ALSO:
  - time.go: Date arithmetic
  - errors.go: Error kinds
  - store.go: Transactional store contract
*/
package generic

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

type Currency string

const (
	CurrencyGBP Currency = "GBP"
)

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value decimal.Decimal, currency Currency) Money {
	return Money{Value: value, Currency: currency}
}

// GBP builds a sterling amount from a float literal. Intended for tests and
// fixtures; parse user input with ParseGBP.
func GBP(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: CurrencyGBP}
}

func GBPFromDecimal(value decimal.Decimal) Money {
	return Money{Value: value, Currency: CurrencyGBP}
}

func ParseGBP(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, NewError("invalid money amount").
			WithHintf("amount %q is not a decimal number", s).
			Mark(ErrValidation)
	}
	return GBPFromDecimal(d), nil
}

func (m Money) Zero() Money       { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value), Currency: m.Currency} }
func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(s), Currency: m.Currency}
}
func (m Money) MulInt(n int) Money { return m.Mul(decimal.NewFromInt(int64(n))) }
func (m Money) Div(s decimal.Decimal) Money {
	return Money{Value: m.Value.Div(s), Currency: m.Currency}
}
func (m Money) DivInt(n int) Money       { return m.Div(decimal.NewFromInt(int64(n))) }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) Abs() Money               { return Money{Value: m.Value.Abs(), Currency: m.Currency} }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool    { return m.Value.LessThan(o.Value) }
func (m Money) Equal(o Money) bool       { return m.Value.Equal(o.Value) }

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

// Round2 rounds half away from zero to pence. Call it only where an amount
// leaves the engine (stored obligation, note, API response).
func (m Money) Round2() Money { return Money{Value: m.Value.Round(2), Currency: m.Currency} }

// String renders the amount to pence with a currency sign, e.g. "£698.21" or "-£698.21".
func (m Money) String() string {
	sign := ""
	v := m.Value
	if v.IsNegative() {
		sign = "-"
		v = v.Abs()
	}
	return fmt.Sprintf("%s%s%s", sign, m.Currency.Symbol(), v.StringFixed(2))
}

func (c Currency) Symbol() string {
	switch c {
	case CurrencyGBP, "":
		return "£"
	default:
		return string(c) + " "
	}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NewID returns a random identifier with a short type prefix,
// e.g. "ten_3f0c2b5e-...". An empty prefix yields a bare UUID.
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + uuid.NewString()
}
