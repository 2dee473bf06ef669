// Package money parses untrusted monetary and quantity input into finite decimal values.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for monetary values.
const Scale = 2

var (
	// ErrNotANumber is returned when no finite decimal can be extracted from the input.
	ErrNotANumber = errors.New("money: not a number")
	// ErrInvalidQuantity is returned for negative or non-integral quantities.
	ErrInvalidQuantity = errors.New("money: invalid quantity")

	decimalPattern  = regexp.MustCompile(`[-+]?(?:\d+(?:\.\d*)?|\.\d+)`)
	exponentPattern = regexp.MustCompile(`^[eE][-+]?\d`)
	hundred         = decimal.NewFromInt(100)
)

// Normalize converts numeric or textual input into a decimal rounded to two places.
// Strings may carry surrounding noise ("$12.50", "SGD 3"); the first signed decimal
// substring wins. Exponent notation ("1e5") is rejected rather than cut at the 'e'.
func Normalize(value any) (decimal.Decimal, error) {
	d, err := parse(value)
	if err != nil {
		return decimal.Zero, err
	}
	return Round2(d), nil
}

// NormalizeOrZero returns the normalized value, or zero when the input is not a number.
func NormalizeOrZero(value any) decimal.Decimal {
	d, err := Normalize(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Cents converts a decimal amount into minor units.
func Cents(d decimal.Decimal) int64 {
	return Round2(d).Mul(hundred).IntPart()
}

// FromCents converts minor units back into a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -Scale)
}

// Format renders the amount with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return Round2(d).StringFixed(Scale)
}

// ParseQuantity parses a non-negative integer quantity.
func ParseQuantity(value any) (int, error) {
	d, err := parse(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidQuantity, d.String())
	}
	if !d.LessThanOrEqual(decimal.NewFromInt(math.MaxInt32)) {
		return 0, fmt.Errorf("%w: %s exceeds limit", ErrInvalidQuantity, d.String())
	}
	return int(d.IntPart()), nil
}

func parse(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, ErrNotANumber
	case decimal.Decimal:
		return v, nil
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, ErrNotANumber
		}
		return *v, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint:
		return parseString(strconv.FormatUint(uint64(v), 10))
	case uint64:
		return parseString(strconv.FormatUint(v, 10))
	case float32:
		return fromFloat(float64(v))
	case float64:
		return fromFloat(v)
	case json.Number:
		return parseString(v.String())
	case string:
		return parseString(v)
	case []byte:
		return parseString(string(v))
	case fmt.Stringer:
		return parseString(v.String())
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported type %T", ErrNotANumber, value)
	}
}

func fromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, ErrNotANumber
	}
	return decimal.NewFromFloat(f), nil
}

func parseString(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrNotANumber
	}
	// Reject textual infinities/NaN before falling back to substring extraction.
	if f, err := strconv.ParseFloat(raw, 64); err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return decimal.Zero, ErrNotANumber
	}
	cleaned := strings.ReplaceAll(raw, ",", "")
	loc := decimalPattern.FindStringIndex(cleaned)
	if loc == nil {
		return decimal.Zero, ErrNotANumber
	}
	if exponentPattern.MatchString(cleaned[loc[1]:]) {
		return decimal.Zero, fmt.Errorf("%w: exponent notation in %q", ErrNotANumber, raw)
	}
	match := cleaned[loc[0]:loc[1]]
	match = strings.TrimPrefix(strings.TrimSuffix(match, "."), "+")
	d, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrNotANumber, err)
	}
	return d, nil
}
