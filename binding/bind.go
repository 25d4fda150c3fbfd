package binding

import (
	"github.com/RottenNinja-Go/pipeline/schema"
)

// Bound holds the values of a request that passed binding.
type Bound struct {
	// Params maps parameter names to coerced values. Absent optional
	// parameters without a default have no entry.
	Params map[string]any
	// Body is the decoded and validated body in JSON form, or nil.
	Body any
	// Files maps declared file fields to their uploaded parts.
	Files map[string][]*File
}

// Param returns a bound parameter.
func (b *Bound) Param(name string) (any, bool) {
	v, ok := b.Params[name]
	return v, ok
}

// File returns the first upload of a file field, or nil.
func (b *Bound) File(name string) *File {
	if list := b.Files[name]; len(list) > 0 {
		return list[0]
	}
	return nil
}

// Bind runs extraction, coercion and validation for every declared field and
// the body. It returns a *DecodeError or *TooLargeError when the body cannot
// be read at all, and a *ValidationFailure listing every failing field
// otherwise. Body decoding happens first because its failures end the request
// before any field is looked at.
func (p *Plan) Bind(rc *RequestContext) (*Bound, error) {
	bound := &Bound{
		Params: make(map[string]any, len(p.fields)),
		Files:  make(map[string][]*File),
	}

	bodyEcho, bodyViolations, err := p.bindBody(rc, bound)
	if err != nil {
		return nil, err
	}

	echo := make(map[string]any, len(bodyEcho)+len(p.fields))
	for k, v := range bodyEcho {
		echo[k] = v
	}

	var violations []schema.Violation
	for _, fp := range p.fields {
		f := fp.field
		raw, present := rc.lookup(f.Source, f.Name)
		if !present {
			switch {
			case fp.hasDefault:
				bound.Params[f.Name] = schema.CloneValue(fp.def.value)
			case f.Required:
				violations = append(violations, schema.Violation{
					Field: f.Name, Source: f.Source, Kind: schema.KindConstraint, Rule: schema.RuleRequired,
					Message: "is required",
				})
			}
			continue
		}

		c, vs := coerceField(f, raw)
		if len(vs) > 0 {
			violations = append(violations, vs...)
			continue
		}
		echo[f.Name] = c.checked

		if vs := checkField(f, c); len(vs) > 0 {
			violations = append(violations, vs...)
			continue
		}
		bound.Params[f.Name] = c.value
	}

	violations = append(violations, bodyViolations...)
	if len(violations) > 0 {
		return nil, &ValidationFailure{Violations: violations, Echo: echo}
	}
	return bound, nil
}

// checkField evaluates constraints on a coerced parameter. For arrays the
// array-level rules run first, then every item against the item rule.
func checkField(f *schema.Field, c coerced) []schema.Violation {
	out := f.Check(f.Name, c.checked)
	if f.Type != schema.TypeArray || f.Items == nil {
		return out
	}
	items, _ := c.checked.([]any)
	for i, item := range items {
		out = append(out, f.Items.Check(indexed(f.Name, i), item)...)
	}
	return out
}

func (p *Plan) bindBody(rc *RequestContext, bound *Bound) (map[string]any, []schema.Violation, error) {
	if p.body == nil && len(p.files) == 0 {
		return nil, nil, nil
	}

	if len(rc.Body) == 0 {
		var vs []schema.Violation
		if p.body != nil {
			vs = append(vs, schema.Violation{
				Field: "body", Source: schema.SourceBody, Kind: schema.KindConstraint, Rule: schema.RuleRequired,
				Message: "request body is required",
			})
		}
		for _, name := range p.fileNames {
			if p.files[name].Required {
				vs = append(vs, missingFile(name))
			}
		}
		return nil, vs, nil
	}

	d, err := decodeBody(rc, p.limits, p.files)
	if err != nil {
		return nil, nil, err
	}

	var vs []schema.Violation
	value := d.value
	if p.body != nil {
		if d.kind != bodyJSONKind {
			value = p.body.CoerceStrings(value)
		}
		value = p.body.ApplyDefaults(value)
		vs = p.body.Validate(value)
	}
	bound.Body = value

	echo := map[string]any{}
	if m, ok := value.(map[string]any); ok {
		for k, v := range m {
			echo[k] = v
		}
	}

	for _, name := range p.fileNames {
		spec := p.files[name]
		uploads := d.files[name]
		if len(uploads) == 0 {
			if spec.Required {
				vs = append(vs, missingFile(name))
			}
			continue
		}
		echo[name] = uploads[0].Filename

		ok := true
		for _, f := range uploads {
			if fv := checkFile(name, spec, f); len(fv) > 0 {
				vs = append(vs, fv...)
				ok = false
			}
		}
		if ok {
			bound.Files[name] = uploads
		}
	}
	return echo, vs, nil
}

func missingFile(name string) schema.Violation {
	return schema.Violation{
		Field: name, Source: schema.SourceFile, Kind: schema.KindFile, Rule: schema.RuleRequired,
		Message: "file is required",
	}
}
