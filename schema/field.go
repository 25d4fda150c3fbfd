package schema

import (
	"fmt"
	"regexp"
)

// Source identifies where a bound value is read from.
type Source string

const (
	SourcePath   Source = "path"
	SourceQuery  Source = "query"
	SourceHeader Source = "header"
	SourceCookie Source = "cookie"
	SourceBody   Source = "body"
	SourceFile   Source = "file"
)

// Type is a declared semantic type.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
	TypeNull    Type = "null"
)

// Format is a named string format.
type Format string

const (
	FormatDate     Format = "date"
	FormatDateTime Format = "date-time"
	FormatDuration Format = "duration"
	FormatUUID     Format = "uuid"
	FormatEmail    Format = "email"
	FormatIPv4     Format = "ipv4"
	FormatIPv6     Format = "ipv6"
	FormatURI      Format = "uri"
	FormatHostname Format = "hostname"
	FormatBinary   Format = "binary"
)

// Constraints are the bound, length, item and enumeration rules shared by
// parameter fields and body schema nodes.
type Constraints struct {
	Minimum          *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty" yaml:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty" yaml:"exclusiveMaximum,omitempty"`
	MultipleOf       *float64 `json:"multipleOf,omitempty" yaml:"multipleOf,omitempty"`

	MinLength *int   `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	MinItems    *int `json:"minItems,omitempty" yaml:"minItems,omitempty"`
	MaxItems    *int `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`
	UniqueItems bool `json:"uniqueItems,omitempty" yaml:"uniqueItems,omitempty"`

	Enum []any `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// FieldSpec is the declarative rule for one bound parameter.
type FieldSpec struct {
	Name        string `json:"name" yaml:"name"`
	Source      Source `json:"in" yaml:"in"`
	Type        Type   `json:"type,omitempty" yaml:"type,omitempty"`
	Format      Format `json:"format,omitempty" yaml:"format,omitempty"`
	UUIDVersion int    `json:"uuidVersion,omitempty" yaml:"uuidVersion,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Separator splits a single raw value into array items. When empty,
	// repeated occurrences of the key become the items.
	Separator string     `json:"separator,omitempty" yaml:"separator,omitempty"`
	Items     *FieldSpec `json:"items,omitempty" yaml:"items,omitempty"`

	Constraints `yaml:",inline"`
}

// FileSpec is the rule for one multipart file parameter.
type FileSpec struct {
	Required            bool     `json:"required,omitempty" yaml:"required,omitempty"`
	ContentType         []string `json:"contentType,omitempty" yaml:"contentType,omitempty"`
	ValidateMagicNumber bool     `json:"validateMagicNumbers,omitempty" yaml:"validateMagicNumbers,omitempty"`
	MaxSize             int64    `json:"maxSize,omitempty" yaml:"maxSize,omitempty"`
}

// Field is a compiled FieldSpec.
type Field struct {
	FieldSpec
	Items *Field

	pattern *regexp.Regexp
}

// Compile checks the spec and precomputes its pattern and item rule.
func (s FieldSpec) Compile() (*Field, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("field spec: name is required")
	}
	switch s.Source {
	case SourcePath, SourceQuery, SourceHeader, SourceCookie:
	default:
		return nil, fmt.Errorf("field %q: unsupported source %q", s.Name, s.Source)
	}
	if s.Type == "" {
		s.Type = TypeString
	}
	switch s.Type {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray:
	default:
		return nil, fmt.Errorf("field %q: unsupported type %q", s.Name, s.Type)
	}

	f := &Field{FieldSpec: s}

	if s.Pattern != "" {
		re, err := compilePattern(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", s.Name, err)
		}
		f.pattern = re
	}

	if s.Type == TypeArray {
		item := FieldSpec{Type: TypeString}
		if s.Items != nil {
			item = *s.Items
		}
		if item.Type == TypeArray {
			return nil, fmt.Errorf("field %q: nested array items are not supported", s.Name)
		}
		item.Name = s.Name
		item.Source = s.Source
		compiled, err := item.Compile()
		if err != nil {
			return nil, err
		}
		f.Items = compiled
	}

	return f, nil
}

// Check evaluates enumeration, numeric, string and array constraints against
// an already-coerced value. Array items are not descended into.
func (f *Field) Check(path string, value any) []Violation {
	return checkConstraints(&f.Constraints, f.pattern, path, f.Source, value)
}

// compilePattern anchors the expression so that it must match the whole value.
func compilePattern(p string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + p + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
	}
	return re, nil
}

// Float returns a pointer to v, for filling optional numeric bounds.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for filling optional length and item bounds.
func Int(v int) *int { return &v }
