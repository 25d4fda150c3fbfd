package schema

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var formatValidator = validator.New()

// validatorTags maps string formats onto validator/v10 tags.
var validatorTags = map[Format]string{
	FormatEmail:    "email",
	FormatIPv4:     "ipv4",
	FormatIPv6:     "ipv6",
	FormatURI:      "uri",
	FormatHostname: "hostname_rfc1123",
}

// CheckFormat reports whether s is a well-formed value of format f.
// Unknown formats always pass.
func CheckFormat(f Format, s string, uuidVersion int) error {
	switch f {
	case FormatDate:
		_, err := ParseDate(s)
		return err
	case FormatDateTime:
		_, err := ParseDateTime(s)
		return err
	case FormatDuration:
		_, err := ParseDuration(s)
		return err
	case FormatUUID:
		_, err := ParseUUID(s, uuidVersion)
		return err
	}
	if tag, ok := validatorTags[f]; ok {
		if err := formatValidator.Var(s, tag); err != nil {
			return fmt.Errorf("%q is not a valid %s", s, f)
		}
	}
	return nil
}

// ParseDate parses a calendar date (YYYY-MM-DD).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a valid date", s)
	}
	return t, nil
}

// ParseDateTime parses an RFC 3339 timestamp. A timestamp without offset is
// taken as UTC.
func ParseDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%q is not a valid date-time", s)
}

var isoDuration = regexp.MustCompile(`^([+-])?P(?:([0-9]+(?:\.[0-9]+)?)W)?(?:([0-9]+(?:\.[0-9]+)?)D)?(?:T(?:([0-9]+(?:\.[0-9]+)?)H)?(?:([0-9]+(?:\.[0-9]+)?)M)?(?:([0-9]+(?:\.[0-9]+)?)S)?)?$`)

var isoUnits = []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}

// ParseDuration accepts ISO 8601 durations without year or month parts
// ("P1DT2H", "PT30S"), Go duration strings ("1h30m") and plain seconds.
func ParseDuration(s string) (time.Duration, error) {
	if m := isoDuration.FindStringSubmatch(s); m != nil && s != "P" && s[len(s)-1] != 'T' {
		var total float64
		seen := false
		for i, unit := range isoUnits {
			part := m[i+2]
			if part == "" {
				continue
			}
			seen = true
			v, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return 0, fmt.Errorf("%q is not a valid duration", s)
			}
			total += v * float64(unit)
		}
		if seen && total <= math.MaxInt64 {
			if m[1] == "-" {
				total = -total
			}
			return time.Duration(total), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := ParseNumber(s); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("%q is not a valid duration", s)
}

// ParseUUID parses a canonical 36 character UUID. A non-zero version pins
// the accepted UUID version.
func ParseUUID(s string, version int) (uuid.UUID, error) {
	if len(s) != 36 {
		return uuid.Nil, fmt.Errorf("%q is not a valid uuid", s)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q is not a valid uuid", s)
	}
	if version > 0 && u.Version() != uuid.Version(version) {
		return uuid.Nil, fmt.Errorf("%q is not a version %d uuid", s, version)
	}
	return u, nil
}
