package money

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
)

func TestNewRejectsNegativeAndBadCurrency(t *testing.T) {
	_, err := New(-1, "USD")
	require.ErrorIs(t, err, appErrors.ErrInvalidArgument)

	_, err = New(100, "US")
	require.ErrorIs(t, err, appErrors.ErrInvalidArgument)

	m, err := New(100, "usd")
	require.NoError(t, err)
	assert.Equal(t, "USD", m.Currency())
}

func TestAddIsCommutativeAndAssociative(t *testing.T) {
	a := MustNew(1250, "USD")
	b := MustNew(30000, "USD")
	c := MustNew(7, "USD")

	ab, err := a.Add(b)
	require.NoError(t, err)
	ba, err := b.Add(a)
	require.NoError(t, err)
	assert.True(t, ab.Equal(ba))

	abc1, err := ab.Add(c)
	require.NoError(t, err)
	bc, err := b.Add(c)
	require.NoError(t, err)
	abc2, err := a.Add(bc)
	require.NoError(t, err)
	assert.True(t, abc1.Equal(abc2))
	assert.Equal(t, int64(31257), abc1.Amount())
}

func TestCrossCurrencyArithmeticFails(t *testing.T) {
	usd := MustNew(100, "USD")
	kes := MustNew(100, "KES")

	_, err := usd.Add(kes)
	assert.ErrorIs(t, err, appErrors.ErrCurrencyMismatch)
	_, err = usd.Sub(kes)
	assert.ErrorIs(t, err, appErrors.ErrCurrencyMismatch)
	_, err = usd.Cmp(kes)
	assert.ErrorIs(t, err, appErrors.ErrCurrencyMismatch)
}

func TestSubUnderflow(t *testing.T) {
	small := MustNew(100, "USD")
	large := MustNew(101, "USD")

	_, err := small.Sub(large)
	assert.ErrorIs(t, err, appErrors.ErrUnderflow)

	diff, err := large.Sub(small)
	require.NoError(t, err)
	assert.Equal(t, int64(1), diff.Amount())
}

func TestAddOverflow(t *testing.T) {
	_, err := MustNew(math.MaxInt64, "USD").Add(MustNew(1, "USD"))
	assert.True(t, errors.Is(err, appErrors.ErrOverflow))
}

func TestCmp(t *testing.T) {
	a := MustNew(5, "USD")
	b := MustNew(9, "USD")

	r, err := a.Cmp(b)
	require.NoError(t, err)
	assert.Equal(t, -1, r)
	r, _ = b.Cmp(a)
	assert.Equal(t, 1, r)
	r, _ = a.Cmp(a)
	assert.Equal(t, 0, r)
}

func TestParse(t *testing.T) {
	m, err := Parse("7500.25", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(750025), m.Amount())

	m, err = Parse("50000", "JPY")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), m.Amount())

	_, err = Parse("1.005", "USD")
	assert.ErrorIs(t, err, appErrors.ErrInvalidArgument)
	_, err = Parse("-3", "USD")
	assert.ErrorIs(t, err, appErrors.ErrInvalidArgument)
	_, err = Parse("abc", "USD")
	assert.ErrorIs(t, err, appErrors.ErrInvalidArgument)
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "USD 500.00", MustNew(50000, "USD").String())
	assert.Equal(t, "0.07", MustNew(7, "USD").DisplayString())
	assert.Equal(t, "1.500", MustNew(1500, "KWD").DisplayString())
}

func TestSum(t *testing.T) {
	total, err := Sum("USD", MustNew(1, "USD"), MustNew(2, "USD"), MustNew(3, "USD"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), total.Amount())

	_, err = Sum("USD", MustNew(1, "USD"), MustNew(2, "EUR"))
	assert.ErrorIs(t, err, appErrors.ErrCurrencyMismatch)
}

func TestJSONRoundTripForms(t *testing.T) {
	raw, err := json.Marshal(MustNew(750000, "USD"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amountMinor":750000,"currency":"USD","display":"7500.00"}`, string(raw))

	var fromMinor Money
	require.NoError(t, json.Unmarshal([]byte(`{"amountMinor":120,"currency":"eur"}`), &fromMinor))
	assert.True(t, fromMinor.Equal(MustNew(120, "EUR")))

	var fromDecimal Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"12.5","currency":"USD"}`), &fromDecimal))
	assert.Equal(t, int64(1250), fromDecimal.Amount())

	var fromNumber Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount":12.5,"currency":"USD"}`), &fromNumber))
	assert.Equal(t, int64(1250), fromNumber.Amount())

	var missing Money
	assert.Error(t, json.Unmarshal([]byte(`{"currency":"USD"}`), &missing))
	assert.Error(t, json.Unmarshal([]byte(`{"amountMinor":-5,"currency":"USD"}`), &missing))
}
