package schema

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var decimalPattern = regexp.MustCompile(`^[+-]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][+-]?[0-9]+)?$`)

// ErrFractional is returned when a value with a fractional part is supplied
// where an integer is required.
var ErrFractional = errors.New("value has a fractional part")

// ParseInteger parses a decimal integer. Leading zeros, signs and scientific
// notation are accepted as long as the value is integral.
func ParseInteger(s string) (int64, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if !decimalPattern.MatchString(s) {
		return 0, fmt.Errorf("%q is not a valid integer", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid integer", s)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%q: %w", s, ErrFractional)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%q is out of integer range", s)
	}
	return int64(f), nil
}

// ParseNumber parses a decimal number.
func ParseNumber(s string) (float64, error) {
	if !decimalPattern.MatchString(s) {
		return 0, fmt.Errorf("%q is not a valid number", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid number", s)
	}
	return f, nil
}

// ParseBoolean accepts "true"/"1" and "false"/"0"/"". An empty value is false.
func ParseBoolean(s string) (bool, error) {
	switch s {
	case "true", "1":
		return true, nil
	case "false", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a valid boolean", s)
}
