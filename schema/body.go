package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Schema is a JSON-Schema-like description of a request body. It is the
// declarative form; Compile turns it into an index-addressed tree.
type Schema struct {
	Type        Type   `json:"type,omitempty" yaml:"type,omitempty"`
	Format      Format `json:"format,omitempty" yaml:"format,omitempty"`
	UUIDVersion int    `json:"x-uuid-version,omitempty" yaml:"x-uuid-version,omitempty"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Nullable    bool   `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Const       *any   `json:"const,omitempty" yaml:"const,omitempty"`

	Properties           map[string]*Schema  `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required             []string            `json:"required,omitempty" yaml:"required,omitempty"`
	AdditionalProperties *bool               `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`
	Dependencies         map[string][]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	MinProperties        *int                `json:"minProperties,omitempty" yaml:"minProperties,omitempty"`
	MaxProperties        *int                `json:"maxProperties,omitempty" yaml:"maxProperties,omitempty"`

	Items *Schema `json:"items,omitempty" yaml:"items,omitempty"`

	AllOf []*Schema `json:"allOf,omitempty" yaml:"allOf,omitempty"`
	AnyOf []*Schema `json:"anyOf,omitempty" yaml:"anyOf,omitempty"`
	OneOf []*Schema `json:"oneOf,omitempty" yaml:"oneOf,omitempty"`
	Not   *Schema   `json:"not,omitempty" yaml:"not,omitempty"`

	Ref         string             `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Definitions map[string]*Schema `json:"definitions,omitempty" yaml:"definitions,omitempty"`
	Defs        map[string]*Schema `json:"$defs,omitempty" yaml:"$defs,omitempty"`

	Constraints `yaml:",inline"`
}

// Literal returns a pointer to v, for filling Schema.Const.
func Literal(v any) *any { return &v }

// Bool returns a pointer to v, for filling Schema.AdditionalProperties.
func Bool(v bool) *bool { return &v }

// node is one compiled schema. Child links are indexes into Compiled.nodes;
// -1 means absent.
type node struct {
	s       *Schema
	pattern *regexp.Regexp
	props   map[string]int
	items   int
	allOf   []int
	anyOf   []int
	oneOf   []int
	not     int
	ref     int
}

// Compiled is an immutable arena of schema nodes. A $ref resolves to the
// single shared node of its definition, so recursive schemas need no pointer
// cycles.
type Compiled struct {
	nodes []node
	root  int
	defs  map[string]int
}

// Compile resolves definitions and references and precompiles patterns.
// Only root-level definitions are addressable, as "#/definitions/<name>" or
// "#/$defs/<name>".
func Compile(root *Schema) (*Compiled, error) {
	if root == nil {
		return nil, fmt.Errorf("schema: nil root")
	}

	c := &Compiled{defs: make(map[string]int)}

	defs := make(map[string]*Schema, len(root.Definitions)+len(root.Defs))
	for name, s := range root.Definitions {
		defs[name] = s
	}
	for name, s := range root.Defs {
		defs[name] = s
	}
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	// Reserve every definition first so that references resolve regardless
	// of declaration order.
	for _, name := range names {
		c.defs[name] = c.alloc()
	}
	for _, name := range names {
		if err := c.fill(c.defs[name], defs[name]); err != nil {
			return nil, fmt.Errorf("schema: definition %q: %w", name, err)
		}
	}

	idx, err := c.build(root)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	c.root = idx
	return c, nil
}

// Root returns the declarative root schema.
func (c *Compiled) Root() *Schema {
	return c.nodes[c.root].s
}

func (c *Compiled) alloc() int {
	c.nodes = append(c.nodes, node{items: -1, not: -1, ref: -1})
	return len(c.nodes) - 1
}

func (c *Compiled) build(s *Schema) (int, error) {
	i := c.alloc()
	return i, c.fill(i, s)
}

func (c *Compiled) buildAll(list []*Schema) ([]int, error) {
	out := make([]int, 0, len(list))
	for _, s := range list {
		i, err := c.build(s)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

// fill compiles s into the reserved slot i. The node is assigned at the end
// because building children grows c.nodes.
func (c *Compiled) fill(i int, s *Schema) error {
	if s == nil {
		s = &Schema{}
	}
	n := node{s: s, items: -1, not: -1, ref: -1}
	var err error

	if s.Ref != "" {
		name, ok := refName(s.Ref)
		if !ok {
			return fmt.Errorf("unsupported $ref %q", s.Ref)
		}
		target, ok := c.defs[name]
		if !ok {
			return fmt.Errorf("unresolved $ref %q", s.Ref)
		}
		n.ref = target
		c.nodes[i] = n
		return nil
	}

	if s.Pattern != "" {
		if n.pattern, err = compilePattern(s.Pattern); err != nil {
			return err
		}
	}

	if len(s.Properties) > 0 {
		n.props = make(map[string]int, len(s.Properties))
		for name, p := range s.Properties {
			idx, err := c.build(p)
			if err != nil {
				return fmt.Errorf("property %q: %w", name, err)
			}
			n.props[name] = idx
		}
	}

	if s.Items != nil {
		if n.items, err = c.build(s.Items); err != nil {
			return fmt.Errorf("items: %w", err)
		}
	}
	if n.allOf, err = c.buildAll(s.AllOf); err != nil {
		return fmt.Errorf("allOf: %w", err)
	}
	if n.anyOf, err = c.buildAll(s.AnyOf); err != nil {
		return fmt.Errorf("anyOf: %w", err)
	}
	if n.oneOf, err = c.buildAll(s.OneOf); err != nil {
		return fmt.Errorf("oneOf: %w", err)
	}
	if s.Not != nil {
		if n.not, err = c.build(s.Not); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	}

	c.nodes[i] = n
	return nil
}

func refName(ref string) (string, bool) {
	for _, prefix := range []string{"#/definitions/", "#/$defs/"} {
		if name, ok := strings.CutPrefix(ref, prefix); ok && name != "" {
			return name, true
		}
	}
	return "", false
}
