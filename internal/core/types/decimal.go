// Package types holds the numeric types of the ledger: fixed-point stock
// quantities and decimal money.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Money is an exact decimal amount.
type Money = decimal.Decimal

// NewMoney converts a float. Prefer MustMoney or NewMoneyFromString for literals
// that must be exact.
func NewMoney(f float64) Money {
	return decimal.NewFromFloat(f)
}

// NewMoneyFromString parses a decimal string such as "12.50".
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney is NewMoneyFromString for constants; it panics on bad input.
func MustMoney(s string) Money {
	return decimal.RequireFromString(s)
}

// Zero returns a zero amount.
func Zero() Money {
	return decimal.Zero
}

// Quantity is a stock quantity in ten-thousandths of a unit. It is stored as
// BIGINT and rendered in JSON as a number with four decimals.
type Quantity int64

const (
	QuantityScale  int64 = 10_000
	quantityPlaces int32 = 4
)

var (
	maxScaled = decimal.NewFromInt(math.MaxInt64)
	minScaled = decimal.NewFromInt(math.MinInt64)
)

// NewQuantity returns a quantity of whole units.
func NewQuantity(units int64) Quantity { return Quantity(units * QuantityScale) }

// NewQuantityFromFloat64 rounds v to four decimals.
func NewQuantityFromFloat64(v float64) Quantity {
	return Quantity(math.Round(v * float64(QuantityScale)))
}

// QuantityFromDecimal truncates d to four decimals.
func QuantityFromDecimal(d decimal.Decimal) (Quantity, error) {
	scaled := d.Truncate(quantityPlaces).Shift(quantityPlaces)
	if scaled.GreaterThan(maxScaled) || scaled.LessThan(minScaled) {
		return 0, fmt.Errorf("quantity %s out of range", d)
	}
	return Quantity(scaled.IntPart()), nil
}

// ParseQuantity parses "12", "12.5", ".5", "-0.25" or "1e2". Digits beyond the
// fourth decimal are dropped.
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(string(bytes.TrimSpace([]byte(s))))
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return QuantityFromDecimal(d)
}

func (q Quantity) Float64() float64 { return float64(q) / float64(QuantityScale) }

func (q Quantity) IsZero() bool     { return q == 0 }
func (q Quantity) IsPositive() bool { return q > 0 }
func (q Quantity) IsNegative() bool { return q < 0 }
func (q Quantity) Neg() Quantity    { return -q }

func (q Quantity) Abs() Quantity {
	if q < 0 {
		return -q
	}
	return q
}

// ClampZero returns q, or zero when q is negative.
func (q Quantity) ClampZero() Quantity {
	return max(q, 0)
}

// MinQuantity returns the smaller of a and b.
func MinQuantity(a, b Quantity) Quantity {
	return min(a, b)
}

// Decimal converts the quantity for money arithmetic.
func (q Quantity) Decimal() decimal.Decimal {
	return decimal.New(int64(q), -quantityPlaces)
}

// String renders four decimals, e.g. "-1.0500".
func (q Quantity) String() string {
	return q.Decimal().StringFixed(quantityPlaces)
}

// MarshalJSON writes a JSON number.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts a number, a numeric string or null (zero).
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}

	parsed, err := ParseQuantity(raw)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
