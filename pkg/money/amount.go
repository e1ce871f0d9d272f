package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a fixed-point monetary value with scale 2.
// All arithmetic goes through shopspring/decimal; floats never touch money.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{}

// New creates an Amount from integer units and cents.
// New(12, 34) == 12.34
func New(units int64, cents int64) Amount {
	return Amount{d: decimal.New(units*100+cents, -2)}
}

// FromDecimal wraps a decimal, rounding to scale 2.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{d: d.Round(2)}
}

// Parse parses a decimal string. Thousand separators (commas) are
// tolerated because bank exports routinely contain them.
func Parse(s string) (Amount, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if cleaned == "" {
		return Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Exponent() < -2 {
		return Zero, fmt.Errorf("amount %q has more than 2 decimal places", s)
	}
	return Amount{d: d.Round(2)}, nil
}

// MustParse parses a decimal string and panics on failure. Test helper.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) Amount      { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount      { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Neg() Amount              { return Amount{d: a.d.Neg()} }
func (a Amount) Cmp(b Amount) int         { return a.d.Cmp(b.d) }
func (a Amount) Equal(b Amount) bool      { return a.d.Equal(b.d) }
func (a Amount) IsZero() bool             { return a.d.IsZero() }
func (a Amount) IsPositive() bool         { return a.d.IsPositive() }
func (a Amount) IsNegative() bool         { return a.d.IsNegative() }
func (a Amount) Decimal() decimal.Decimal { return a.d }

// String renders with exactly two decimal places.
func (a Amount) String() string {
	return a.d.StringFixed(2)
}

// MarshalJSON renders the amount as a JSON string to avoid any float
// round-trip on the wire.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare number literal.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// SplitInstallments divides total into n parts that sum exactly to total.
// The first n-1 parts are round(total/n, 2); the remainder lands on the
// last part.
func SplitInstallments(total Amount, n int) ([]Amount, error) {
	if n < 2 {
		return nil, fmt.Errorf("installment count must be at least 2, got %d", n)
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("total must be positive, got %s", total)
	}

	per := Amount{d: total.d.DivRound(decimal.NewFromInt(int64(n)), 2)}
	parts := make([]Amount, n)
	running := Zero
	for i := 0; i < n-1; i++ {
		parts[i] = per
		running = running.Add(per)
	}
	parts[n-1] = total.Sub(running)
	return parts, nil
}

// Sum adds a slice of amounts.
func Sum(amounts []Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
