package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/RottenNinja-Go/pipeline/binding"
	"github.com/RottenNinja-Go/pipeline/schema"
)

// RouteDescriptor is the declarative record of one endpoint. It is read once
// at registration; the pipeline never modifies it.
type RouteDescriptor struct {
	Method string
	// Path is a template with optional typed segments: {name}, {name:int},
	// {name:uuid} and a trailing {name:path}.
	Path   string
	Params []schema.FieldSpec
	Body   *schema.Schema
	Files  map[string]schema.FileSpec

	// HandlerRef names a handler registered with Framework.Handle. Handler,
	// when set, takes precedence.
	HandlerRef string
	Handler    HandlerFunc

	Summary     string
	Description string
	Tags        []string
	OperationID string

	// Limits overrides the framework decoder limits for this route.
	Limits *binding.Limits
}

// Route is a registered, compiled descriptor.
type Route struct {
	// Descriptor is the registered descriptor with implied path parameters
	// added.
	Descriptor RouteDescriptor
	// Path is the full template with prefix, in OpenAPI form ("/users/{id}").
	Path string
	// Pattern is the router pattern the route is mounted under.
	Pattern string

	plan        *binding.Plan
	handler     HandlerFunc
	hooks       Hooks
	middlewares []Middleware
	// pathKeys maps a path parameter to its router capture key.
	pathKeys map[string]string
}

// Plan returns the compiled binding plan.
func (r *Route) Plan() *binding.Plan { return r.plan }

// Hooks returns the effective hooks of the route, framework and group hooks
// included.
func (r *Route) Hooks() Hooks { return r.hooks }

// Name identifies the route in logs and metrics.
func (r *Route) Name() string { return r.Descriptor.Method + " " + r.Path }

const uuidPattern = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

var segmentRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?::([a-z]+))?\}`)

// pathSegment is one typed capture of a path template.
type pathSegment struct {
	name string
	kind string
}

// compileTemplate turns a template into a router pattern and an OpenAPI path.
func compileTemplate(template string) (pattern, docPath string, segments []pathSegment, err error) {
	var pb, db strings.Builder
	last := 0
	matches := segmentRe.FindAllStringSubmatchIndex(template, -1)
	for i, m := range matches {
		literal := template[last:m[0]]
		if strings.ContainsAny(literal, "{}") {
			return "", "", nil, fmt.Errorf("path %q: malformed segment near %q", template, literal)
		}
		pb.WriteString(literal)
		db.WriteString(literal)

		name := template[m[2]:m[3]]
		kind := ""
		if m[4] >= 0 {
			kind = template[m[4]:m[5]]
		}
		switch kind {
		case "":
			pb.WriteString("{" + name + "}")
		case "int":
			pb.WriteString("{" + name + ":-?[0-9]+}")
		case "uuid":
			pb.WriteString("{" + name + ":" + uuidPattern + "}")
		case "path":
			if i != len(matches)-1 || m[1] != len(template) {
				return "", "", nil, fmt.Errorf("path %q: {%s:path} must be the last segment", template, name)
			}
			pb.WriteString("*")
		default:
			return "", "", nil, fmt.Errorf("path %q: unknown segment type %q", template, kind)
		}
		db.WriteString("{" + name + "}")
		segments = append(segments, pathSegment{name: name, kind: kind})
		last = m[1]
	}
	rest := template[last:]
	if strings.ContainsAny(rest, "{}") {
		return "", "", nil, fmt.Errorf("path %q: malformed segment near %q", template, rest)
	}
	pb.WriteString(rest)
	db.WriteString(rest)
	return pb.String(), db.String(), segments, nil
}

// impliedParams adds a required path FieldSpec for every captured segment
// the descriptor does not declare, and rejects declared path parameters the
// template does not capture.
func impliedParams(params []schema.FieldSpec, segments []pathSegment) ([]schema.FieldSpec, error) {
	captured := make(map[string]bool, len(segments))
	for _, s := range segments {
		captured[s.name] = true
	}
	declared := make(map[string]bool)
	for _, p := range params {
		if p.Source != schema.SourcePath {
			continue
		}
		if !captured[p.Name] {
			return nil, fmt.Errorf("path parameter %q is not captured by the path", p.Name)
		}
		declared[p.Name] = true
	}

	out := append([]schema.FieldSpec(nil), params...)
	for _, s := range segments {
		if declared[s.name] {
			continue
		}
		spec := schema.FieldSpec{Name: s.name, Source: schema.SourcePath, Type: schema.TypeString, Required: true}
		switch s.kind {
		case "int":
			spec.Type = schema.TypeInteger
		case "uuid":
			spec.Format = schema.FormatUUID
		}
		out = append(out, spec)
	}
	return out, nil
}
