package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInteger(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"-7", -7, false},
		{"007", 7, false},
		{"1e3", 1000, false},
		{"2.0", 2, false},
		{"2.5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInteger(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseInteger("2.5")
	assert.ErrorIs(t, err, ErrFractional)
}

func TestParseBoolean(t *testing.T) {
	for _, in := range []string{"true", "1"} {
		got, err := ParseBoolean(in)
		require.NoError(t, err, in)
		assert.True(t, got, in)
	}
	for _, in := range []string{"false", "0", ""} {
		got, err := ParseBoolean(in)
		require.NoError(t, err, in)
		assert.False(t, got, in)
	}
	for _, in := range []string{"yes", "2", "on", "TRUE", "False"} {
		_, err := ParseBoolean(in)
		assert.Error(t, err, in)
	}
}

func TestCheckFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		value   string
		version int
		ok      bool
	}{
		{"date", FormatDate, "2024-02-29", 0, true},
		{"bad date", FormatDate, "2024-13-01", 0, false},
		{"date-time", FormatDateTime, "2024-01-02T15:04:05Z", 0, true},
		{"date-time offset", FormatDateTime, "2024-01-02T15:04:05+02:00", 0, true},
		{"bad date-time", FormatDateTime, "yesterday", 0, false},
		{"iso duration", FormatDuration, "P1DT2H", 0, true},
		{"go duration", FormatDuration, "1h30m", 0, true},
		{"bad duration", FormatDuration, "soon", 0, false},
		{"uuid", FormatUUID, "550e8400-e29b-41d4-a716-446655440000", 0, true},
		{"uuid v4 pinned", FormatUUID, "550e8400-e29b-41d4-a716-446655440000", 4, true},
		{"uuid wrong version", FormatUUID, "550e8400-e29b-11d4-a716-446655440000", 4, false},
		{"uuid braces", FormatUUID, "{550e8400-e29b-41d4-a716-446655440000}", 0, false},
		{"email", FormatEmail, "user@example.com", 0, true},
		{"bad email", FormatEmail, "user@", 0, false},
		{"ipv4", FormatIPv4, "192.168.0.1", 0, true},
		{"bad ipv4", FormatIPv4, "999.1.1.1", 0, false},
		{"ipv6", FormatIPv6, "::1", 0, true},
		{"uri", FormatURI, "https://example.com/a", 0, true},
		{"bad uri", FormatURI, "not a uri", 0, false},
		{"hostname", FormatHostname, "api.example.com", 0, true},
		{"bad hostname", FormatHostname, "-bad-.com", 0, false},
		{"binary passes", FormatBinary, "anything", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFormat(tt.format, tt.value, tt.version)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("PT1M30S")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseDuration("-P1D")
	require.NoError(t, err)
	assert.Equal(t, -24*time.Hour, d)

	d, err = ParseDuration("2.5")
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, d)
}

func TestFieldCompile(t *testing.T) {
	_, err := FieldSpec{Source: SourceQuery}.Compile()
	assert.Error(t, err)

	_, err = FieldSpec{Name: "x", Source: SourceBody}.Compile()
	assert.Error(t, err)

	_, err = FieldSpec{Name: "x", Source: SourceQuery, Type: TypeArray, Items: &FieldSpec{Type: TypeArray}}.Compile()
	assert.Error(t, err)

	f, err := FieldSpec{Name: "tags", Source: SourceQuery, Type: TypeArray}.Compile()
	require.NoError(t, err)
	require.NotNil(t, f.Items)
	assert.Equal(t, TypeString, f.Items.Type)
	assert.Equal(t, "tags", f.Items.Name)
}

func TestFieldCheckOrder(t *testing.T) {
	f, err := FieldSpec{
		Name:   "code",
		Source: SourceQuery,
		Constraints: Constraints{
			Enum:      []any{"abc", "abcd"},
			MinLength: Int(5),
			Pattern:   "[0-9]+",
		},
	}.Compile()
	require.NoError(t, err)

	v := f.Check("code", "xyz")
	require.Len(t, v, 2)
	assert.Equal(t, RuleEnum, v[0].Rule)
	assert.Equal(t, RuleMinLength, v[1].Rule)
	assert.Equal(t, KindConstraint, v[0].Kind)
	assert.Equal(t, SourceQuery, v[0].Source)
}

func TestFieldCheckNumeric(t *testing.T) {
	f, err := FieldSpec{
		Name:   "n",
		Source: SourceQuery,
		Type:   TypeNumber,
		Constraints: Constraints{
			Minimum:          Float(1),
			ExclusiveMaximum: Float(10),
			MultipleOf:       Float(0.1),
		},
	}.Compile()
	require.NoError(t, err)

	assert.Empty(t, f.Check("n", 1.3))
	assert.Empty(t, f.Check("n", 1.0))

	v := f.Check("n", 10.0)
	require.Len(t, v, 1)
	assert.Equal(t, RuleExclusiveMaximum, v[0].Rule)

	v = f.Check("n", 0.5)
	require.Len(t, v, 1)
	assert.Equal(t, RuleMinimum, v[0].Rule)

	v = f.Check("n", 1.05)
	require.Len(t, v, 1)
	assert.Equal(t, RuleMultipleOf, v[0].Rule)
}

func TestMultipleOfPrecision(t *testing.T) {
	tens, err := FieldSpec{Name: "n", Source: SourceQuery, Type: TypeNumber,
		Constraints: Constraints{MultipleOf: Float(10)}}.Compile()
	require.NoError(t, err)
	assert.Empty(t, tens.Check("n", 30.0))
	assert.Empty(t, tens.Check("n", int64(-40)))
	assert.Len(t, tens.Check("n", 10.000000001), 1)
	assert.Len(t, tens.Check("n", int64(25)), 1)

	cents, err := FieldSpec{Name: "n", Source: SourceQuery, Type: TypeNumber,
		Constraints: Constraints{MultipleOf: Float(0.01)}}.Compile()
	require.NoError(t, err)
	assert.Empty(t, cents.Check("n", 19.99))
	assert.Len(t, cents.Check("n", 19.995), 1)
}

func TestUniqueItems(t *testing.T) {
	c, err := Compile(&Schema{
		Type:        TypeArray,
		Items:       &Schema{Type: TypeInteger},
		Constraints: Constraints{UniqueItems: true},
	})
	require.NoError(t, err)

	assert.Empty(t, c.Validate([]any{int64(1), int64(2), int64(3), int64(4)}))

	v := c.Validate([]any{int64(1), float64(1), int64(2)})
	require.Len(t, v, 1)
	assert.Equal(t, RuleUniqueItems, v[0].Rule)
	assert.Equal(t, "body", v[0].Field)
}

func TestValidateObject(t *testing.T) {
	c, err := Compile(&Schema{
		Type:     TypeObject,
		Required: []string{"name", "age"},
		Properties: map[string]*Schema{
			"name":  {Type: TypeString, Constraints: Constraints{MinLength: Int(2)}},
			"age":   {Type: TypeInteger, Constraints: Constraints{Minimum: Float(0)}},
			"email": {Type: TypeString, Format: FormatEmail},
			"tags":  {Type: TypeArray, Items: &Schema{Type: TypeString, Constraints: Constraints{MaxLength: Int(3)}}},
		},
		AdditionalProperties: Bool(false),
	})
	require.NoError(t, err)

	assert.Empty(t, c.Validate(map[string]any{"name": "Ann", "age": int64(30)}))

	v := c.Validate(map[string]any{
		"name":  "A",
		"email": "nope",
		"tags":  []any{"ok", "toolong"},
		"extra": true,
	})
	fields := map[string]string{}
	for _, e := range v {
		fields[e.Field] = e.Rule
	}
	assert.Equal(t, map[string]string{
		"age":     RuleRequired,
		"name":    RuleMinLength,
		"email":   RuleFormat,
		"tags[1]": RuleMaxLength,
		"extra":   RuleAdditional,
	}, fields)
}

func TestValidateTypeMismatch(t *testing.T) {
	c, err := Compile(&Schema{Type: TypeInteger})
	require.NoError(t, err)

	assert.Empty(t, c.Validate(int64(3)))
	assert.Empty(t, c.Validate(float64(3)))

	v := c.Validate(3.5)
	require.Len(t, v, 1)
	assert.Equal(t, KindCoercion, v[0].Kind)
	assert.Equal(t, RuleType, v[0].Rule)

	v = c.Validate(nil)
	require.Len(t, v, 1)

	nullable, err := Compile(&Schema{Type: TypeInteger, Nullable: true})
	require.NoError(t, err)
	assert.Empty(t, nullable.Validate(nil))
}

func composition() []*Schema {
	return []*Schema{
		{Type: TypeObject, Required: []string{"a"}},
		{Type: TypeObject, Required: []string{"b"}},
	}
}

func TestOneOfAnyOf(t *testing.T) {
	oneOf, err := Compile(&Schema{OneOf: composition()})
	require.NoError(t, err)
	anyOf, err := Compile(&Schema{AnyOf: composition()})
	require.NoError(t, err)

	none := map[string]any{"c": int64(1)}
	one := map[string]any{"a": int64(1)}
	both := map[string]any{"a": int64(1), "b": int64(2)}

	v := oneOf.Validate(none)
	require.Len(t, v, 1)
	assert.Equal(t, RuleOneOf, v[0].Rule)
	assert.Empty(t, oneOf.Validate(one))
	v = oneOf.Validate(both)
	require.Len(t, v, 1)
	assert.Contains(t, v[0].Message, "matched 2")

	v = anyOf.Validate(none)
	require.Len(t, v, 1)
	assert.Equal(t, RuleAnyOf, v[0].Rule)
	assert.Empty(t, anyOf.Validate(one))
	assert.Empty(t, anyOf.Validate(both))
}

func TestAllOfNotConst(t *testing.T) {
	c, err := Compile(&Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"status": {Type: TypeString, Not: &Schema{Constraints: Constraints{Enum: []any{"deleted", "banned"}}}},
			"kind":   {Const: Literal("user")},
		},
		AllOf: []*Schema{
			{Required: []string{"status"}},
			{Required: []string{"kind"}},
		},
	})
	require.NoError(t, err)

	assert.Empty(t, c.Validate(map[string]any{"status": "active", "kind": "user"}))

	v := c.Validate(map[string]any{"status": "banned", "kind": "admin"})
	rules := map[string]string{}
	for _, e := range v {
		rules[e.Field] = e.Rule
	}
	assert.Equal(t, RuleNot, rules["status"])
	assert.Equal(t, RuleConst, rules["kind"])

	v = c.Validate(map[string]any{})
	assert.Len(t, v, 2)
}

func TestDependenciesAndPropertyCounts(t *testing.T) {
	c, err := Compile(&Schema{
		Type:          TypeObject,
		Dependencies:  map[string][]string{"credit_card": {"billing_address"}},
		MinProperties: Int(1),
		MaxProperties: Int(2),
	})
	require.NoError(t, err)

	assert.Empty(t, c.Validate(map[string]any{"name": "x"}))

	v := c.Validate(map[string]any{"credit_card": "4111"})
	require.Len(t, v, 1)
	assert.Equal(t, "billing_address", v[0].Field)
	assert.Equal(t, RuleDependencies, v[0].Rule)

	v = c.Validate(map[string]any{})
	require.Len(t, v, 1)
	assert.Equal(t, RuleMinProperties, v[0].Rule)

	v = c.Validate(map[string]any{"a": 1, "b": 2, "c": 3})
	require.Len(t, v, 1)
	assert.Equal(t, RuleMaxProperties, v[0].Rule)
}

func TestRefDefinitions(t *testing.T) {
	c, err := Compile(&Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"root": {Ref: "#/definitions/node"},
		},
		Definitions: map[string]*Schema{
			"node": {
				Type:     TypeObject,
				Required: []string{"value"},
				Properties: map[string]*Schema{
					"value":    {Type: TypeInteger},
					"children": {Type: TypeArray, Items: &Schema{Ref: "#/$defs/child"}},
				},
			},
		},
		Defs: map[string]*Schema{
			"child": {Ref: "#/definitions/node"},
		},
	})
	require.NoError(t, err)

	ok := map[string]any{"root": map[string]any{
		"value": int64(1),
		"children": []any{
			map[string]any{"value": int64(2)},
		},
	}}
	assert.Empty(t, c.Validate(ok))

	bad := map[string]any{"root": map[string]any{
		"value":    int64(1),
		"children": []any{map[string]any{"value": "two"}},
	}}
	v := c.Validate(bad)
	require.Len(t, v, 1)
	assert.Equal(t, "root.children[0].value", v[0].Field)
	assert.Equal(t, RuleType, v[0].Rule)

	_, err = Compile(&Schema{Ref: "#/definitions/missing"})
	assert.Error(t, err)
	_, err = Compile(&Schema{Ref: "http://example.com/schema"})
	assert.Error(t, err)
}

func TestCoerceStringsAndDefaults(t *testing.T) {
	c, err := Compile(&Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"age":    {Type: TypeInteger},
			"score":  {Type: TypeNumber},
			"active": {Type: TypeBoolean},
			"tags":   {Type: TypeArray, Items: &Schema{Type: TypeInteger}},
			"user": {Type: TypeObject, Properties: map[string]*Schema{
				"name": {Type: TypeString},
				"role": {Type: TypeString, Default: "member"},
			}},
			"limit": {Type: TypeInteger, Default: int64(10)},
		},
	})
	require.NoError(t, err)

	in := map[string]any{
		"age":    "30",
		"score":  "1.5",
		"active": "true",
		"tags":   "7",
		"user":   map[string]any{"name": "ann"},
	}
	out := c.ApplyDefaults(c.CoerceStrings(in)).(map[string]any)

	assert.Equal(t, int64(30), out["age"])
	assert.Equal(t, 1.5, out["score"])
	assert.Equal(t, true, out["active"])
	assert.Equal(t, []any{int64(7)}, out["tags"])
	assert.Equal(t, "member", out["user"].(map[string]any)["role"])
	assert.Equal(t, int64(10), out["limit"])
	assert.Empty(t, c.Validate(out))

	bad := c.CoerceStrings(map[string]any{"age": "thirty"})
	v := c.Validate(bad)
	require.Len(t, v, 1)
	assert.Equal(t, KindCoercion, v[0].Kind)
}

func TestNormalize(t *testing.T) {
	in := map[string]any{"a": []any{"x"}}
	assert.Equal(t, in, Normalize(in))
	assert.True(t, Equal(int64(1), 1.0))
	assert.True(t, Equal(map[string]any{"a": 1, "b": 2}, map[string]any{"b": int64(2), "a": 1.0}))
	assert.False(t, Equal("1", 1))
}

func TestCloneValue(t *testing.T) {
	orig := map[string]any{"list": []any{int64(1), map[string]any{"k": "v"}}, "n": 2.5}
	cp := CloneValue(orig).(map[string]any)
	cp["list"].([]any)[1].(map[string]any)["k"] = "changed"
	cp["n"] = 0

	assert.Equal(t, map[string]any{"list": []any{int64(1), map[string]any{"k": "v"}}, "n": 2.5}, orig)
	assert.Equal(t, "x", CloneValue("x"))
}
