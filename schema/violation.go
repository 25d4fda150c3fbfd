// Package schema holds the declarative parameter and body schemas used to bind
// requests, together with the constraint validator that evaluates them.
package schema

import "fmt"

// Kind classifies a field-level failure.
type Kind string

const (
	// KindCoercion means the raw value could not be converted to the declared type or format
	KindCoercion Kind = "coercion"
	// KindConstraint means a well-typed value broke a declared constraint
	KindConstraint Kind = "constraint"
	// KindFile means an uploaded file failed its content type or signature rules
	KindFile Kind = "file"
)

// Rule names the specific check that produced a Violation.
const (
	RuleRequired         = "required"
	RuleType             = "type"
	RuleFormat           = "format"
	RuleEnum             = "enum"
	RuleConst            = "const"
	RuleMinimum          = "minimum"
	RuleMaximum          = "maximum"
	RuleExclusiveMinimum = "exclusiveMinimum"
	RuleExclusiveMaximum = "exclusiveMaximum"
	RuleMultipleOf       = "multipleOf"
	RuleMinLength        = "minLength"
	RuleMaxLength        = "maxLength"
	RulePattern          = "pattern"
	RuleMinItems         = "minItems"
	RuleMaxItems         = "maxItems"
	RuleUniqueItems      = "uniqueItems"
	RuleAdditional       = "additionalProperties"
	RuleDependencies     = "dependencies"
	RuleMinProperties    = "minProperties"
	RuleMaxProperties    = "maxProperties"
	RuleAllOf            = "allOf"
	RuleAnyOf            = "anyOf"
	RuleOneOf            = "oneOf"
	RuleNot              = "not"
	RuleContentType      = "contentType"
	RuleMagicNumber      = "magicNumber"
	RuleRef              = "$ref"
)

// Violation is a single field-level validation failure.
type Violation struct {
	Field   string `json:"field"`
	Source  Source `json:"source"`
	Kind    Kind   `json:"kind"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s %s: %s", v.Source, v.Field, v.Message)
}
