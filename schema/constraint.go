package schema

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// checkConstraints evaluates the constraint categories in a fixed order:
// enumeration, numeric bounds, string length and pattern, array bounds and
// uniqueness. Each category reports at most its first violation and every
// category is evaluated.
func checkConstraints(c *Constraints, pattern *regexp.Regexp, path string, src Source, v any) []Violation {
	var out []Violation
	add := func(rule, msg string) {
		out = append(out, Violation{Field: path, Source: src, Kind: KindConstraint, Rule: rule, Message: msg, Value: v})
	}

	if len(c.Enum) > 0 && !inEnum(c.Enum, v) {
		add(RuleEnum, "must be one of: "+enumList(c.Enum))
	}

	if rule, msg := checkNumeric(c, v); rule != "" {
		add(rule, msg)
	}

	if s, ok := v.(string); ok {
		if rule, msg := checkString(c, pattern, s); rule != "" {
			add(rule, msg)
		}
	}

	if items, ok := v.([]any); ok {
		if rule, msg := checkArray(c, items); rule != "" {
			add(rule, msg)
		}
	}

	return out
}

func checkNumeric(c *Constraints, v any) (string, string) {
	n, ok := toFloat(v)
	if !ok {
		return "", ""
	}
	switch {
	case c.Minimum != nil && n < *c.Minimum:
		return RuleMinimum, "must be greater than or equal to " + formatNumber(*c.Minimum)
	case c.ExclusiveMinimum != nil && n <= *c.ExclusiveMinimum:
		return RuleExclusiveMinimum, "must be greater than " + formatNumber(*c.ExclusiveMinimum)
	case c.Maximum != nil && n > *c.Maximum:
		return RuleMaximum, "must be less than or equal to " + formatNumber(*c.Maximum)
	case c.ExclusiveMaximum != nil && n >= *c.ExclusiveMaximum:
		return RuleExclusiveMaximum, "must be less than " + formatNumber(*c.ExclusiveMaximum)
	case c.MultipleOf != nil && *c.MultipleOf > 0 && !isMultiple(n, *c.MultipleOf):
		return RuleMultipleOf, "must be a multiple of " + formatNumber(*c.MultipleOf)
	}
	return "", ""
}

// isMultiple checks integral operands exactly. Otherwise the quotient may be
// off from a whole number by a few units in the last place and no more.
func isMultiple(n, m float64) bool {
	if n == math.Trunc(n) && m == math.Trunc(m) && math.Abs(n) < 1<<53 && math.Abs(m) < 1<<53 {
		return int64(n)%int64(m) == 0
	}
	q := n / m
	return math.Abs(q-math.Round(q)) <= 4*epsilon*math.Max(1, math.Abs(q))
}

// epsilon is the gap between 1.0 and the next float64.
const epsilon = 0x1p-52

func checkString(c *Constraints, pattern *regexp.Regexp, s string) (string, string) {
	length := utf8.RuneCountInString(s)
	switch {
	case c.MinLength != nil && length < *c.MinLength:
		return RuleMinLength, fmt.Sprintf("must be at least %d characters", *c.MinLength)
	case c.MaxLength != nil && length > *c.MaxLength:
		return RuleMaxLength, fmt.Sprintf("must be at most %d characters", *c.MaxLength)
	case pattern != nil && !pattern.MatchString(s):
		return RulePattern, fmt.Sprintf("must match pattern %q", c.Pattern)
	}
	return "", ""
}

func checkArray(c *Constraints, items []any) (string, string) {
	switch {
	case c.MinItems != nil && len(items) < *c.MinItems:
		return RuleMinItems, fmt.Sprintf("must contain at least %d items", *c.MinItems)
	case c.MaxItems != nil && len(items) > *c.MaxItems:
		return RuleMaxItems, fmt.Sprintf("must contain at most %d items", *c.MaxItems)
	case c.UniqueItems:
		seen := make(map[string]int, len(items))
		for i, item := range items {
			key := canonicalKey(item)
			if j, dup := seen[key]; dup {
				return RuleUniqueItems, fmt.Sprintf("items must be unique: item %d duplicates item %d", i, j)
			}
			seen[key] = i
		}
	}
	return "", ""
}

func inEnum(enum []any, v any) bool {
	key := canonicalKey(v)
	for _, e := range enum {
		if canonicalKey(e) == key {
			return true
		}
	}
	return false
}

func enumList(enum []any) string {
	parts := make([]string, len(enum))
	for i, e := range enum {
		parts[i] = fmt.Sprintf("%v", e)
	}
	return strings.Join(parts, ", ")
}
