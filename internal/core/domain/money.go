package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units (cents). All cart and order arithmetic
// stays in integers; decimals only appear at the wire boundary and when a
// rate is applied.
type Money int64

const minorUnitExp = -2

func NewMoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Shift(-minorUnitExp).Round(0).IntPart())
}

func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse money %q: %w", s, err)
	}
	return NewMoneyFromDecimal(d), nil
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), minorUnitExp)
}

func (m Money) Mul(qty int) Money {
	return m * Money(qty)
}

// ApplyRate returns m*rate rounded half away from zero to the nearest cent.
func (m Money) ApplyRate(rate decimal.Decimal) Money {
	return NewMoneyFromDecimal(m.Decimal().Mul(rate))
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted decimal strings.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decode money: %w", err)
	}
	*m = NewMoneyFromDecimal(d)
	return nil
}
