// Package message decodes discriminated-union payloads: JSON objects whose
// variant is selected by the literal value of one property.
package message

import (
	"fmt"
	"sort"

	"github.com/RottenNinja-Go/pipeline/binding"
	"github.com/RottenNinja-Go/pipeline/schema"
)

// DefaultMaxDepth bounds the nesting of decoded messages.
const DefaultMaxDepth = 32

// Message is a decoded, validated variant.
type Message struct {
	Kind    string
	Payload map[string]any
}

type variant struct {
	schema   *schema.Schema
	compiled *schema.Compiled
}

// Union is a closed set of variants keyed by the value of Discriminator.
// Variants are registered at startup; Decode is safe for concurrent use
// afterwards.
type Union struct {
	Discriminator string
	MaxDepth      int

	variants map[string]variant
}

// New returns an empty union discriminated by the given property.
func New(discriminator string) *Union {
	return &Union{Discriminator: discriminator, MaxDepth: DefaultMaxDepth, variants: make(map[string]variant)}
}

// Register adds a variant. The discriminator property is pinned to kind and
// made required in a copy of s, so the variant schemas are mutually
// exclusive.
func (u *Union) Register(kind string, s *schema.Schema) error {
	if kind == "" {
		return fmt.Errorf("union %q: empty kind", u.Discriminator)
	}
	if _, dup := u.variants[kind]; dup {
		return fmt.Errorf("union %q: kind %q registered twice", u.Discriminator, kind)
	}
	if s == nil {
		s = &schema.Schema{Type: schema.TypeObject}
	}
	if s.Type != "" && s.Type != schema.TypeObject {
		return fmt.Errorf("union %q: variant %q must be an object schema", u.Discriminator, kind)
	}

	pinned := *s
	pinned.Type = schema.TypeObject
	pinned.Properties = make(map[string]*schema.Schema, len(s.Properties)+1)
	for name, p := range s.Properties {
		pinned.Properties[name] = p
	}
	pinned.Properties[u.Discriminator] = &schema.Schema{Type: schema.TypeString, Const: schema.Literal(kind)}
	pinned.Required = append([]string{u.Discriminator}, without(s.Required, u.Discriminator)...)

	if err := u.checkDefinitions(kind, &pinned); err != nil {
		return err
	}

	compiled, err := schema.Compile(&pinned)
	if err != nil {
		return fmt.Errorf("union %q: variant %q: %w", u.Discriminator, kind, err)
	}
	u.variants[kind] = variant{schema: &pinned, compiled: compiled}
	return nil
}

// checkDefinitions rejects a definition name that another variant already
// uses for a different schema. Schema hoists every variant's definitions to
// its root, where they share one namespace.
func (u *Union) checkDefinitions(kind string, s *schema.Schema) error {
	for other, v := range u.variants {
		for _, pair := range [][2]map[string]*schema.Schema{
			{s.Definitions, v.schema.Definitions},
			{s.Defs, v.schema.Defs},
		} {
			for name, def := range pair[0] {
				if prev, ok := pair[1][name]; ok && prev != def {
					return fmt.Errorf("union %q: variant %q redefines %q of variant %q", u.Discriminator, kind, name, other)
				}
			}
		}
	}
	return nil
}

// Kinds lists the registered kinds in sorted order.
func (u *Union) Kinds() []string {
	out := make([]string, 0, len(u.variants))
	for k := range u.variants {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Schema returns a body schema accepting exactly one registered variant. It
// can be used as a route body so that the union is documented and
// validated before the handler runs.
func (u *Union) Schema() *schema.Schema {
	s := &schema.Schema{Type: schema.TypeObject, Required: []string{u.Discriminator}}
	kinds := u.Kinds()
	enum := make([]any, len(kinds))
	for i, k := range kinds {
		v := *u.variants[k].schema
		s.Definitions = hoist(s.Definitions, v.Definitions)
		s.Defs = hoist(s.Defs, v.Defs)
		v.Definitions, v.Defs = nil, nil
		s.OneOf = append(s.OneOf, &v)
		enum[i] = k
	}
	s.Properties = map[string]*schema.Schema{
		u.Discriminator: {Type: schema.TypeString, Constraints: schema.Constraints{Enum: enum}},
	}
	return s
}

func hoist(dst, src map[string]*schema.Schema) map[string]*schema.Schema {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]*schema.Schema, len(src))
	}
	for name, def := range src {
		dst[name] = def
	}
	return dst
}

// Decode parses data and validates it against the variant it names.
// Malformed JSON is a *binding.DecodeError; an unknown kind or an invalid
// payload is a *binding.ValidationFailure whose echo is the payload.
func (u *Union) Decode(data []byte) (Message, error) {
	v, err := binding.DecodeJSON(data, u.MaxDepth)
	if err != nil {
		return Message{}, err
	}
	return u.DecodeValue(v)
}

// DecodeValue validates an already-decoded value, such as a bound body.
func (u *Union) DecodeValue(v any) (Message, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Message{}, u.reject(nil, schema.RuleType, "must be an object", v)
	}

	raw, present := obj[u.Discriminator]
	if !present {
		return Message{}, u.reject(obj, schema.RuleRequired, "is required", nil)
	}
	kind, ok := raw.(string)
	if !ok {
		return Message{}, u.reject(obj, schema.RuleType, "must be a string", raw)
	}
	vr, ok := u.variants[kind]
	if !ok {
		return Message{}, u.reject(obj, schema.RuleEnum, fmt.Sprintf("unknown kind %q", kind), raw)
	}

	obj, _ = vr.compiled.ApplyDefaults(obj).(map[string]any)
	if violations := vr.compiled.Validate(obj); len(violations) > 0 {
		return Message{}, &binding.ValidationFailure{Violations: violations, Echo: obj}
	}
	return Message{Kind: kind, Payload: obj}, nil
}

func (u *Union) reject(echo map[string]any, rule, msg string, value any) error {
	kind := schema.KindConstraint
	if rule == schema.RuleType {
		kind = schema.KindCoercion
	}
	field := u.Discriminator
	if echo == nil {
		field = "body"
	}
	return &binding.ValidationFailure{
		Violations: []schema.Violation{{
			Field:   field,
			Source:  schema.SourceBody,
			Kind:    kind,
			Rule:    rule,
			Message: msg,
			Value:   value,
		}},
		Echo: echo,
	}
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
