// Package quant holds the financial primitives shared by the whole engine:
// amounts, observations, numeric tolerances and the validation guards applied
// to identifiers, values and timestamps at every trust boundary.
package quant

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

const (
	// EpsFinancial is the tolerance used for all approximate comparisons of
	// monetary values, prices and weights.
	EpsFinancial = 1e-8

	// NegligibleNAV is the positive portfolio value below which weights are
	// considered undefined.
	NegligibleNAV = 1e-9

	// MinValue and MaxValue bound every account value, price and variable.
	MinValue = -1e24
	MaxValue = 1e24

	// MaxIDLen bounds the length of numeraire, account and variable names.
	MaxIDLen = 256

	// SecondsPerYear is the ACT/ACT denominator for simple interest accrual.
	SecondsPerYear = 365.25 * 86400
)

// MinTime and MaxTime bound every simulation timestamp. The engine works with
// naive timestamps; they are represented as UTC throughout.
var (
	MinTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Amount is a value denominated in a numeraire. The sign of the value carries
// direction: short positions are negative.
type Amount struct {
	Value float64
	Num   string
}

// MarshalJSON encodes the amount as the two-element array [value, "NUM"].
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{a.Value, a.Num})
}

// UnmarshalJSON decodes the [value, "NUM"] array form.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("amount must be a [value, numeraire] pair: %w", err)
	}
	if err := json.Unmarshal(raw[0], &a.Value); err != nil {
		return fmt.Errorf("amount value: %w", err)
	}
	if err := json.Unmarshal(raw[1], &a.Num); err != nil {
		return fmt.Errorf("amount numeraire: %w", err)
	}
	return nil
}

func (a Amount) String() string {
	return fmt.Sprintf("%g %s", a.Value, a.Num)
}

// Observation is a single point of a time series.
type Observation struct {
	Time  time.Time
	Value float64
}

// IsPrintable reports whether s consists of printable runes only. A
// non-printable identifier is worth a warning but is not rejected.
func IsPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// CheckID validates a string identifier (numeraire, account or variable
// name): non-empty and shorter than MaxIDLen.
func CheckID(id string) error {
	if len(id) == 0 || len(id) >= MaxIDLen {
		return fmt.Errorf("identifier has wrong size %d: %q", len(id), id)
	}
	return nil
}

// CheckValueIn validates that v is finite and within [min, max]. The name is
// only used in the error message.
func CheckValueIn(name string, v, min, max float64) error {
	if !(math.IsInf(min, -1) || math.IsInf(max, 1)) && min > max {
		return fmt.Errorf("bad bounds for %s: [%g, %g]", name, min, max)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < min || v > max {
		return fmt.Errorf("value %g for %s outside of acceptable range [%g, %g]", v, name, min, max)
	}
	return nil
}

// CheckValue validates that v is finite and within the default value range.
func CheckValue(name string, v float64) error {
	return CheckValueIn(name, v, MinValue, MaxValue)
}

// CheckAmount validates both components of an amount.
func CheckAmount(a Amount) error {
	if err := CheckID(a.Num); err != nil {
		return fmt.Errorf("amount numeraire: %w", err)
	}
	if err := CheckValue(a.Num, a.Value); err != nil {
		return err
	}
	return nil
}

// CheckTime validates that t falls within the allowed simulation time range
// and carries no timezone beyond UTC.
func CheckTime(t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("time is not set")
	}
	if t.Location() != time.UTC {
		return fmt.Errorf("only naive UTC times are supported: %v", t)
	}
	if !t.After(MinTime) || !t.Before(MaxTime) {
		return fmt.Errorf("time outside of acceptable range: %v must be in (%v, %v)", t, MinTime, MaxTime)
	}
	return nil
}

// CheckIndex validates a non-negative integer identifier.
func CheckIndex(name string, i int) error {
	if i < 0 {
		return fmt.Errorf("%s must be non-negative: %d", name, i)
	}
	return nil
}

// AlmostEqual compares two floats with the combined absolute and relative
// tolerance eps. Values that agree exactly (including infinities) or are both
// NaN compare equal; values of strictly opposite sign never do; values that
// are both negligible compare equal; otherwise the difference is measured
// relative to the smaller magnitude.
func AlmostEqual(x, y, eps float64) bool {
	if !(0 <= eps && eps < 1 && !math.IsNaN(eps)) {
		panic(fmt.Sprintf("eps must be in [0, 1): %g", eps))
	}
	if x == y {
		return true
	}
	if math.IsNaN(x) && math.IsNaN(y) {
		return true
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return false
	}
	if (x < 0) != (y < 0) {
		return false
	}
	ax, ay := math.Abs(x), math.Abs(y)
	if ax < eps && ay < eps {
		return true
	}
	return math.Abs(x-y) <= eps*math.Min(ax, ay)
}

// AmountsAlmostEqual reports whether two amounts share a numeraire and have
// values within eps of each other.
func AmountsAlmostEqual(a, b Amount, eps float64) bool {
	return a.Num == b.Num && AlmostEqual(a.Value, b.Value, eps)
}

// SeqAlmostEqual compares two float slices elementwise with eps tolerance.
func SeqAlmostEqual(xs, ys []float64, eps float64) bool {
	if len(xs) != len(ys) {
		return false
	}
	for i := range xs {
		if !AlmostEqual(xs[i], ys[i], eps) {
			return false
		}
	}
	return true
}

const (
	timeLayout     = "2006-01-02T15:04:05"
	timeLayoutFrac = "2006-01-02T15:04:05.999999999"
)

// FormatTime renders t as ISO-8601 without a timezone designator. Fractional
// seconds appear only when present. The zero time maps to the empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if t.Nanosecond() != 0 {
		return t.Format(timeLayoutFrac)
	}
	return t.Format(timeLayout)
}

// ParseTime is the inverse of FormatTime. The empty string maps to the zero
// time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	layout := timeLayout
	if strings.ContainsRune(s, '.') {
		layout = timeLayoutFrac
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return t, nil
}
