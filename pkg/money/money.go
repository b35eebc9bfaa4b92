// Package money implements fixed-point currency amounts stored as integer
// minor units. Floating point never enters arithmetic; decimal conversion is
// only offered for parsing user input and formatting for display.
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
)

// Money is a non-negative amount of minor units (e.g. cents) in a currency.
type Money struct {
	amount   int64
	currency string
}

var exponents = map[string]int32{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0, "UGX": 0, "RWF": 0, "XOF": 0, "XAF": 0,
	"BHD": 3, "KWD": 3, "OMR": 3, "JOD": 3, "TND": 3, "LYD": 3, "IQD": 3,
}

// Exponent returns the number of minor-unit digits for a currency.
func Exponent(currency string) int32 {
	if exp, ok := exponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// NormalizeCurrency upper-cases and validates a three letter currency code.
func NormalizeCurrency(currency string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if len(code) != 3 {
		return "", appErrors.Clone(appErrors.ErrInvalidArgument, "currency must be a three letter code")
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", appErrors.Clone(appErrors.ErrInvalidArgument, "currency must be a three letter code")
		}
	}
	return code, nil
}

// New builds an amount from minor units.
func New(minor int64, currency string) (Money, error) {
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	if minor < 0 {
		return Money{}, appErrors.Clone(appErrors.ErrInvalidArgument, "amount must not be negative")
	}
	return Money{amount: minor, currency: code}, nil
}

// MustNew is New for constants and tests; it panics on invalid input.
func MustNew(minor int64, currency string) Money {
	m, err := New(minor, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the currency.
func Zero(currency string) Money {
	return Money{currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// Parse converts an exact decimal string such as "7500.25" into minor units.
// Values with more fractional digits than the currency allows are rejected.
func Parse(value, currency string) (Money, error) {
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Money{}, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, "amount is not a valid decimal")
	}
	if d.IsNegative() {
		return Money{}, appErrors.Clone(appErrors.ErrInvalidArgument, "amount must not be negative")
	}
	scaled := d.Shift(Exponent(code))
	if !scaled.IsInteger() {
		return Money{}, appErrors.Clone(appErrors.ErrInvalidArgument, fmt.Sprintf("amount has more than %d decimal places", Exponent(code)))
	}
	if !scaled.BigInt().IsInt64() {
		return Money{}, appErrors.Clone(appErrors.ErrOverflow, "")
	}
	return Money{amount: scaled.IntPart(), currency: code}, nil
}

// Amount returns the minor-unit value.
func (m Money) Amount() int64 { return m.amount }

// Currency returns the ISO currency code.
func (m Money) Currency() string { return m.currency }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.amount == 0 }

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.amount > math.MaxInt64-m.amount {
		return Money{}, appErrors.Clone(appErrors.ErrOverflow, "")
	}
	return Money{amount: m.amount + other.amount, currency: m.currency}, nil
}

// Sub returns m - other, failing with Underflow instead of going negative.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.amount > m.amount {
		return Money{}, appErrors.Clone(appErrors.ErrUnderflow, fmt.Sprintf("cannot subtract %s from %s", other, m))
	}
	return Money{amount: m.amount - other.amount, currency: m.currency}, nil
}

// Cmp returns -1, 0 or 1 comparing m with other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.amount < other.amount:
		return -1, nil
	case m.amount > other.amount:
		return 1, nil
	}
	return 0, nil
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.amount == other.amount && m.currency == other.currency
}

// Sum adds amounts of a single currency, starting from zero.
func Sum(currency string, items ...Money) (Money, error) {
	total := Zero(currency)
	for _, item := range items {
		next, err := total.Add(item)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}

// Decimal converts to a decimal for display formatting. Not for arithmetic.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.amount, -Exponent(m.currency))
}

// DisplayString formats the amount with the currency's minor digits.
func (m Money) DisplayString() string {
	return m.Decimal().StringFixed(Exponent(m.currency))
}

// String implements fmt.Stringer.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.currency, m.DisplayString())
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return appErrors.Clone(appErrors.ErrCurrencyMismatch, fmt.Sprintf("currency mismatch: %s vs %s", m.currency, other.currency))
	}
	return nil
}

type moneyOut struct {
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
	Display     string `json:"display"`
}

type moneyIn struct {
	AmountMinor *int64          `json:"amountMinor"`
	Amount      json.RawMessage `json:"amount"`
	Currency    string          `json:"currency"`
}

// MarshalJSON renders minor units plus a display string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyOut{AmountMinor: m.amount, Currency: m.currency, Display: m.DisplayString()})
}

// UnmarshalJSON accepts either {"amountMinor":750000} or {"amount":"7500.00"}.
func (m *Money) UnmarshalJSON(data []byte) error {
	var in moneyIn
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var (
		parsed Money
		err    error
	)
	switch {
	case in.AmountMinor != nil:
		parsed, err = New(*in.AmountMinor, in.Currency)
	case len(in.Amount) > 0:
		raw := strings.Trim(string(in.Amount), `"`)
		parsed, err = Parse(raw, in.Currency)
	default:
		err = appErrors.Clone(appErrors.ErrInvalidArgument, "amount is required")
	}
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
