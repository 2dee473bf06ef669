package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAcceptsNumbersAndNoisyStrings(t *testing.T) {
	cases := []struct {
		name  string
		input any
		want  string
	}{
		{name: "int", input: 12, want: "12"},
		{name: "float", input: 12.345, want: "12.35"},
		{name: "decimal", input: decimal.RequireFromString("2.505"), want: "2.51"},
		{name: "plain string", input: "26.50", want: "26.5"},
		{name: "currency prefix", input: "$ 6.00", want: "6"},
		{name: "currency code", input: "SGD 3.456", want: "3.46"},
		{name: "thousands separator", input: "1,234.50", want: "1234.5"},
		{name: "negative", input: "-4.5", want: "-4.5"},
		{name: "leading dot", input: ".5", want: "0.5"},
		{name: "trailing dot", input: "7.", want: "7"},
		{name: "json number", input: json.Number("9.99"), want: "9.99"},
		{name: "bytes", input: []byte("15"), want: "15"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.input)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestNormalizeRejectsNonFinite(t *testing.T) {
	inputs := []any{nil, "", "abc", "NaN", "+Inf", math.NaN(), math.Inf(1), struct{}{}}
	for _, input := range inputs {
		_, err := Normalize(input)
		assert.ErrorIs(t, err, ErrNotANumber, "input %#v", input)
	}
}

func TestNormalizeRejectsExponentNotation(t *testing.T) {
	inputs := []any{"1e5", "2E-3", "SGD 1.5e+2", json.Number("1e5"), "1e999"}
	for _, input := range inputs {
		_, err := Normalize(input)
		assert.ErrorIs(t, err, ErrNotANumber, "input %#v", input)
	}

	got, err := Normalize("5 each")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(5)))
}

func TestCentsRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("26.505")
	assert.Equal(t, int64(2651), Cents(amount))
	assert.Equal(t, "26.51", Format(FromCents(2651)))
}

func TestParseQuantity(t *testing.T) {
	qty, err := ParseQuantity("3")
	require.NoError(t, err)
	assert.Equal(t, 3, qty)

	for _, input := range []any{"-1", "1.5", "none"} {
		_, err := ParseQuantity(input)
		assert.ErrorIs(t, err, ErrInvalidQuantity, "input %#v", input)
	}
}
