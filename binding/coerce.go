package binding

import (
	"errors"
	"strconv"
	"strings"

	"github.com/RottenNinja-Go/pipeline/schema"
)

// coerced is the outcome of converting one raw parameter.
//
// value is handed to the handler: date and date-time fields become
// time.Time, duration fields time.Duration and uuid fields uuid.UUID.
// checked is what constraints are evaluated against and what gets echoed
// back on failure; for format-typed strings it stays the raw text.
type coerced struct {
	value   any
	checked any
}

// coerceField converts every raw occurrence of f. A coercion failure of a
// scalar stops there; array items are converted independently so every bad
// item is reported.
func coerceField(f *schema.Field, raw []string) (coerced, []schema.Violation) {
	if f.Type != schema.TypeArray {
		var s string
		if len(raw) > 0 {
			s = raw[0]
		}
		c, v := coerceScalar(f, f.Name, s)
		if v != nil {
			return coerced{}, []schema.Violation{*v}
		}
		return c, nil
	}

	items := splitItems(f.Separator, raw)
	values := make([]any, 0, len(items))
	checked := make([]any, 0, len(items))
	var violations []schema.Violation
	for i, item := range items {
		c, v := coerceScalar(f.Items, indexed(f.Name, i), item)
		if v != nil {
			violations = append(violations, *v)
			continue
		}
		values = append(values, c.value)
		checked = append(checked, c.checked)
	}
	if len(violations) > 0 {
		return coerced{}, violations
	}
	return coerced{value: values, checked: checked}, nil
}

func indexed(name string, i int) string {
	return name + "[" + strconv.Itoa(i) + "]"
}

// splitItems applies the separator to each occurrence. Without a separator
// every occurrence is one item. An empty value yields no items.
func splitItems(sep string, raw []string) []string {
	if sep == "" {
		return raw
	}
	var out []string
	for _, r := range raw {
		if r == "" {
			continue
		}
		out = append(out, strings.Split(r, sep)...)
	}
	return out
}

func coerceScalar(f *schema.Field, path, s string) (coerced, *schema.Violation) {
	fail := func(rule, msg string) *schema.Violation {
		return &schema.Violation{Field: path, Source: f.Source, Kind: schema.KindCoercion, Rule: rule, Message: msg, Value: s}
	}

	switch f.Type {
	case schema.TypeInteger:
		n, err := schema.ParseInteger(s)
		if err != nil {
			if errors.Is(err, schema.ErrFractional) {
				return coerced{}, fail(schema.RuleType, "must be an integer, got a fractional value")
			}
			return coerced{}, fail(schema.RuleType, "must be an integer")
		}
		return coerced{value: n, checked: n}, nil
	case schema.TypeNumber:
		n, err := schema.ParseNumber(s)
		if err != nil {
			return coerced{}, fail(schema.RuleType, "must be a number")
		}
		return coerced{value: n, checked: n}, nil
	case schema.TypeBoolean:
		b, err := schema.ParseBoolean(s)
		if err != nil {
			return coerced{}, fail(schema.RuleType, "must be a boolean")
		}
		return coerced{value: b, checked: b}, nil
	}

	var (
		value any = s
		err   error
	)
	switch f.Format {
	case schema.FormatDate:
		value, err = schema.ParseDate(s)
	case schema.FormatDateTime:
		value, err = schema.ParseDateTime(s)
	case schema.FormatDuration:
		value, err = schema.ParseDuration(s)
	case schema.FormatUUID:
		value, err = schema.ParseUUID(s, f.UUIDVersion)
	default:
		err = schema.CheckFormat(f.Format, s, f.UUIDVersion)
	}
	if err != nil {
		return coerced{}, fail(schema.RuleFormat, err.Error())
	}
	return coerced{value: value, checked: s}, nil
}
