package schema

import (
	"fmt"
	"sort"
	"strconv"
)

// maxRefDepth bounds $ref expansion for self-referencing definitions.
const maxRefDepth = 64

// Validate evaluates value against the compiled tree and returns every
// violation found. The value is expected in decoded JSON form: map[string]any,
// []any, string, bool, nil and numbers (see Normalize).
func (c *Compiled) Validate(value any) []Violation {
	return c.visit(c.root, "", value, 0)
}

// Passes reports whether value satisfies the tree.
func (c *Compiled) Passes(value any) bool {
	return len(c.Validate(value)) == 0
}

func fieldName(path string) string {
	if path == "" {
		return "body"
	}
	return path
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return fieldName(path) + "[" + strconv.Itoa(i) + "]"
}

func (c *Compiled) visit(i int, path string, v any, depth int) []Violation {
	n := &c.nodes[i]
	if n.ref >= 0 {
		if depth >= maxRefDepth {
			return []Violation{{
				Field: fieldName(path), Source: SourceBody, Kind: KindConstraint, Rule: RuleRef,
				Message: "schema reference depth exceeded",
			}}
		}
		return c.visit(n.ref, path, v, depth+1)
	}
	s := n.s

	violation := func(kind Kind, rule, msg string) Violation {
		return Violation{Field: fieldName(path), Source: SourceBody, Kind: kind, Rule: rule, Message: msg, Value: v}
	}

	if !matchesType(s, v) {
		return []Violation{violation(KindCoercion, RuleType, "must be of type "+string(s.Type))}
	}

	var out []Violation

	if str, ok := v.(string); ok && s.Format != "" {
		if err := CheckFormat(s.Format, str, s.UUIDVersion); err != nil {
			// a malformed value makes the remaining scalar checks meaningless
			return []Violation{violation(KindCoercion, RuleFormat, err.Error())}
		}
	}

	if s.Const != nil && !Equal(*s.Const, v) {
		out = append(out, violation(KindConstraint, RuleConst, fmt.Sprintf("must be equal to %v", *s.Const)))
	}

	if v != nil {
		out = append(out, checkConstraints(&s.Constraints, n.pattern, fieldName(path), SourceBody, v)...)
	}

	switch t := v.(type) {
	case []any:
		if n.items >= 0 {
			for idx, item := range t {
				out = append(out, c.visit(n.items, indexPath(path, idx), item, depth)...)
			}
		}
	case map[string]any:
		out = append(out, c.visitObject(n, path, t, depth)...)
	}

	out = append(out, c.visitComposition(n, path, v, depth)...)
	return out
}

func (c *Compiled) visitObject(n *node, path string, obj map[string]any, depth int) []Violation {
	s := n.s
	var out []Violation

	for _, name := range s.Required {
		if _, ok := obj[name]; !ok {
			out = append(out, Violation{
				Field: childPath(path, name), Source: SourceBody, Kind: KindConstraint, Rule: RuleRequired,
				Message: "is required",
			})
		}
	}

	keys := sortedKeys(obj)
	for _, key := range keys {
		if idx, ok := n.props[key]; ok {
			out = append(out, c.visit(idx, childPath(path, key), obj[key], depth)...)
			continue
		}
		if s.AdditionalProperties != nil && !*s.AdditionalProperties {
			out = append(out, Violation{
				Field: childPath(path, key), Source: SourceBody, Kind: KindConstraint, Rule: RuleAdditional,
				Message: "is not an allowed property", Value: obj[key],
			})
		}
	}

	depKeys := make([]string, 0, len(s.Dependencies))
	for key := range s.Dependencies {
		depKeys = append(depKeys, key)
	}
	sort.Strings(depKeys)
	for _, key := range depKeys {
		if _, present := obj[key]; !present {
			continue
		}
		for _, dep := range s.Dependencies[key] {
			if _, ok := obj[dep]; !ok {
				out = append(out, Violation{
					Field: childPath(path, dep), Source: SourceBody, Kind: KindConstraint, Rule: RuleDependencies,
					Message: fmt.Sprintf("is required when %q is present", key),
				})
			}
		}
	}

	switch {
	case s.MinProperties != nil && len(obj) < *s.MinProperties:
		out = append(out, Violation{
			Field: fieldName(path), Source: SourceBody, Kind: KindConstraint, Rule: RuleMinProperties,
			Message: fmt.Sprintf("must have at least %d properties", *s.MinProperties),
		})
	case s.MaxProperties != nil && len(obj) > *s.MaxProperties:
		out = append(out, Violation{
			Field: fieldName(path), Source: SourceBody, Kind: KindConstraint, Rule: RuleMaxProperties,
			Message: fmt.Sprintf("must have at most %d properties", *s.MaxProperties),
		})
	}
	return out
}

func (c *Compiled) visitComposition(n *node, path string, v any, depth int) []Violation {
	var out []Violation
	fail := func(rule, msg string) {
		out = append(out, Violation{Field: fieldName(path), Source: SourceBody, Kind: KindConstraint, Rule: rule, Message: msg, Value: v})
	}

	for _, idx := range n.allOf {
		out = append(out, c.visit(idx, path, v, depth)...)
	}

	if len(n.anyOf) > 0 {
		matched := false
		for _, idx := range n.anyOf {
			if len(c.visit(idx, path, v, depth)) == 0 {
				matched = true
				break
			}
		}
		if !matched {
			fail(RuleAnyOf, "must match at least one of the allowed schemas")
		}
	}

	if len(n.oneOf) > 0 {
		matched := 0
		for _, idx := range n.oneOf {
			if len(c.visit(idx, path, v, depth)) == 0 {
				matched++
			}
		}
		if matched != 1 {
			fail(RuleOneOf, fmt.Sprintf("must match exactly one of the allowed schemas, matched %d", matched))
		}
	}

	if n.not >= 0 && len(c.visit(n.not, path, v, depth)) == 0 {
		fail(RuleNot, "must not match the excluded schema")
	}
	return out
}

func matchesType(s *Schema, v any) bool {
	if v == nil {
		return s.Type == "" || s.Type == TypeNull || s.Nullable
	}
	switch s.Type {
	case "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		return isInteger(v)
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeNull:
		return false
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CoerceStrings converts textual leaves of a form-decoded value into the
// types the tree declares: integers, numbers and booleans are parsed, and a
// lone value where an array is declared becomes a one-item array. Values
// that do not parse are left untouched so that validation reports them.
func (c *Compiled) CoerceStrings(v any) any {
	return c.coerce(c.root, v, 0)
}

func (c *Compiled) coerce(i int, v any, depth int) any {
	n := &c.nodes[i]
	if n.ref >= 0 {
		if depth >= maxRefDepth {
			return v
		}
		return c.coerce(n.ref, v, depth+1)
	}

	switch n.s.Type {
	case TypeInteger:
		if s, ok := v.(string); ok {
			if parsed, err := ParseInteger(s); err == nil {
				return parsed
			}
		}
	case TypeNumber:
		if s, ok := v.(string); ok {
			if parsed, err := ParseNumber(s); err == nil {
				return parsed
			}
		}
	case TypeBoolean:
		if s, ok := v.(string); ok {
			if parsed, err := ParseBoolean(s); err == nil {
				return parsed
			}
		}
	case TypeArray:
		list, ok := v.([]any)
		if !ok {
			if v == nil {
				return v
			}
			list = []any{v}
		}
		if n.items >= 0 {
			for idx, item := range list {
				list[idx] = c.coerce(n.items, item, depth)
			}
		}
		return list
	}

	if obj, ok := v.(map[string]any); ok && n.props != nil {
		for key, value := range obj {
			if idx, ok := n.props[key]; ok {
				obj[key] = c.coerce(idx, value, depth)
			}
		}
	}
	return v
}

// ApplyDefaults fills absent object properties that declare a default.
// Defaults are only applied where the enclosing object is present.
func (c *Compiled) ApplyDefaults(v any) any {
	return c.defaults(c.root, v, 0)
}

func (c *Compiled) defaults(i int, v any, depth int) any {
	n := &c.nodes[i]
	if n.ref >= 0 {
		if depth >= maxRefDepth {
			return v
		}
		return c.defaults(n.ref, v, depth+1)
	}
	switch t := v.(type) {
	case map[string]any:
		for key, idx := range n.props {
			value, ok := t[key]
			if !ok {
				if def := c.defaultOf(idx, depth); def != nil {
					t[key] = CloneValue(def)
				}
				continue
			}
			t[key] = c.defaults(idx, value, depth)
		}
	case []any:
		if n.items >= 0 {
			for idx, item := range t {
				t[idx] = c.defaults(n.items, item, depth)
			}
		}
	}
	return v
}

func (c *Compiled) defaultOf(i int, depth int) any {
	n := &c.nodes[i]
	for n.ref >= 0 && depth < maxRefDepth {
		n = &c.nodes[n.ref]
		depth++
	}
	if n.s == nil {
		return nil
	}
	return n.s.Default
}
