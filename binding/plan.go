package binding

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/RottenNinja-Go/pipeline/schema"
)

// Limits bound what the decoder is willing to read.
type Limits struct {
	MaxBodyBytes       int64
	MaxNestingDepth    int
	MaxMultipartMemory int64
}

// DefaultLimits are used when a route does not override them.
var DefaultLimits = Limits{
	MaxBodyBytes:       10 << 20,
	MaxNestingDepth:    32,
	MaxMultipartMemory: 32 << 20,
}

// fieldPlan holds a compiled parameter together with its normalized default.
type fieldPlan struct {
	field      *schema.Field
	hasDefault bool
	def        coerced
}

// Plan is the pre-computed binding logic for one route. Everything that can
// fail because of a bad declaration fails in NewPlan, not per request.
type Plan struct {
	fields    []fieldPlan
	body      *schema.Compiled
	files     map[string]schema.FileSpec
	fileNames []string
	limits    Limits
}

// NewPlan compiles the parameter, body and file declarations of a route.
func NewPlan(params []schema.FieldSpec, body *schema.Schema, files map[string]schema.FileSpec, limits Limits) (*Plan, error) {
	p := &Plan{files: files, limits: limits}

	seen := make(map[schema.Source]map[string]bool)
	for _, spec := range params {
		f, err := spec.Compile()
		if err != nil {
			return nil, err
		}
		if seen[f.Source] == nil {
			seen[f.Source] = map[string]bool{}
		}
		key := f.Name
		if f.Source == schema.SourceHeader {
			key = http.CanonicalHeaderKey(key)
		}
		if seen[f.Source][key] {
			return nil, fmt.Errorf("field %q declared twice in %s", f.Name, f.Source)
		}
		seen[f.Source][key] = true

		fp := fieldPlan{field: f}
		if f.Default != nil {
			def, err := normalizeDefault(f)
			if err != nil {
				return nil, err
			}
			fp.hasDefault, fp.def = true, def
		}
		p.fields = append(p.fields, fp)
	}

	if body != nil {
		compiled, err := schema.Compile(body)
		if err != nil {
			return nil, err
		}
		p.body = compiled
	}

	for name := range files {
		p.fileNames = append(p.fileNames, name)
	}
	sort.Strings(p.fileNames)
	return p, nil
}

// Fields returns the compiled parameters in declaration order.
func (p *Plan) Fields() []*schema.Field {
	out := make([]*schema.Field, len(p.fields))
	for i, fp := range p.fields {
		out[i] = fp.field
	}
	return out
}

// Body returns the compiled body schema, or nil.
func (p *Plan) Body() *schema.Compiled { return p.body }

// Limits returns the decoder limits of the plan.
func (p *Plan) Limits() Limits { return p.limits }

// normalizeDefault runs a declared default through the same coercion as a
// raw value, so that a default of 10 binds as int64(10) exactly like "10".
func normalizeDefault(f *schema.Field) (coerced, error) {
	var raw []string
	switch d := f.Default.(type) {
	case []any:
		for _, item := range d {
			raw = append(raw, fmt.Sprint(item))
		}
		f = withoutSeparator(f)
	case []string:
		raw = d
		f = withoutSeparator(f)
	default:
		raw = []string{fmt.Sprint(d)}
	}
	c, violations := coerceField(f, raw)
	if len(violations) > 0 {
		return coerced{}, fmt.Errorf("field %q: invalid default: %s", f.Name, violations[0].Message)
	}
	return c, nil
}

func withoutSeparator(f *schema.Field) *schema.Field {
	cp := *f
	cp.Separator = ""
	return &cp
}
