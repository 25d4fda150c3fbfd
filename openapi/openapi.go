// Package openapi renders an OpenAPI 3.0 document from the registered route
// descriptors and serves it together with Swagger UI.
package openapi

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"

	"github.com/RottenNinja-Go/pipeline"
	"github.com/RottenNinja-Go/pipeline/schema"
)

// OpenAPISpec represents the OpenAPI 3.0 specification
type OpenAPISpec struct {
	OpenAPI    string              `json:"openapi"`
	Info       OpenAPIInfo         `json:"info"`
	Paths      map[string]PathItem `json:"paths"`
	Components *Components         `json:"components,omitempty"`
}

// OpenAPIInfo represents API information
type OpenAPIInfo struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// PathItem represents operations available on a single path
type PathItem struct {
	Get     *Operation `json:"get,omitempty"`
	Post    *Operation `json:"post,omitempty"`
	Put     *Operation `json:"put,omitempty"`
	Patch   *Operation `json:"patch,omitempty"`
	Delete  *Operation `json:"delete,omitempty"`
	Head    *Operation `json:"head,omitempty"`
	Options *Operation `json:"options,omitempty"`
}

// Operation describes a single API operation
type Operation struct {
	OperationID string                     `json:"operationId,omitempty"`
	Summary     string                     `json:"summary,omitempty"`
	Description string                     `json:"description,omitempty"`
	Tags        []string                   `json:"tags,omitempty"`
	Parameters  []Parameter                `json:"parameters,omitempty"`
	RequestBody *RequestBody               `json:"requestBody,omitempty"`
	Responses   map[string]OpenAPIResponse `json:"responses"`
}

// Parameter describes a single operation parameter
type Parameter struct {
	Name        string  `json:"name"`
	In          string  `json:"in"` // path, query, header, cookie
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required"`
	Style       string  `json:"style,omitempty"`
	Explode     *bool   `json:"explode,omitempty"`
	Schema      *Schema `json:"schema"`
}

// RequestBody describes a single request body
type RequestBody struct {
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required"`
	Content     map[string]MediaType `json:"content"`
}

// MediaType provides schema for the media type
type MediaType struct {
	Schema *Schema `json:"schema,omitempty"`
}

// OpenAPIResponse describes a single response in OpenAPI spec
type OpenAPIResponse struct {
	Description string               `json:"description"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// Schema represents a data type
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Format               string             `json:"format,omitempty"`
	Title                string             `json:"title,omitempty"`
	Description          string             `json:"description,omitempty"`
	Nullable             bool               `json:"nullable,omitempty"`
	Default              any                `json:"default,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
	MinProperties        *int               `json:"minProperties,omitempty"`
	MaxProperties        *int               `json:"maxProperties,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	AllOf                []*Schema          `json:"allOf,omitempty"`
	AnyOf                []*Schema          `json:"anyOf,omitempty"`
	OneOf                []*Schema          `json:"oneOf,omitempty"`
	Not                  *Schema            `json:"not,omitempty"`
	Ref                  string             `json:"$ref,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	ExclusiveMinimum     bool               `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum     bool               `json:"exclusiveMaximum,omitempty"`
	MultipleOf           *float64           `json:"multipleOf,omitempty"`
	MinLength            *int               `json:"minLength,omitempty"`
	MaxLength            *int               `json:"maxLength,omitempty"`
	Pattern              string             `json:"pattern,omitempty"`
	MinItems             *int               `json:"minItems,omitempty"`
	MaxItems             *int               `json:"maxItems,omitempty"`
	UniqueItems          bool               `json:"uniqueItems,omitempty"`
}

// Components holds reusable objects
type Components struct {
	Schemas map[string]*Schema `json:"schemas,omitempty"`
}

const componentPrefix = "#/components/schemas/"

// OpenApi generates documents for one framework.
type OpenApi struct {
	f *pipeline.Framework
}

func NewOpenApi(f *pipeline.Framework) *OpenApi {
	return &OpenApi{f: f}
}

// GenerateOpenAPI builds the document from the routes registered so far.
func (o *OpenApi) GenerateOpenAPI(title, description, version string) *OpenAPISpec {
	spec := &OpenAPISpec{
		OpenAPI: "3.0.3",
		Info: OpenAPIInfo{
			Title:       title,
			Description: description,
			Version:     version,
		},
		Paths: make(map[string]PathItem),
		Components: &Components{
			Schemas: map[string]*Schema{
				"Problem":         problemSchema(),
				"ValidationError": validationSchema(),
			},
		},
	}

	for _, route := range o.f.Routes() {
		d := route.Descriptor
		item := spec.Paths[route.Path]
		op := generateOperation(route, spec.Components.Schemas)

		switch d.Method {
		case http.MethodGet:
			item.Get = op
		case http.MethodPost:
			item.Post = op
		case http.MethodPut:
			item.Put = op
		case http.MethodPatch:
			item.Patch = op
		case http.MethodDelete:
			item.Delete = op
		case http.MethodHead:
			item.Head = op
		case http.MethodOptions:
			item.Options = op
		default:
			continue
		}
		spec.Paths[route.Path] = item
	}
	return spec
}

func generateOperation(route *pipeline.Route, components map[string]*Schema) *Operation {
	d := route.Descriptor
	op := &Operation{
		OperationID: d.OperationID,
		Summary:     d.Summary,
		Description: d.Description,
		Tags:        d.Tags,
		Responses: map[string]OpenAPIResponse{
			"200": {Description: "Successful response"},
			"500": problemResponse("Internal server error"),
		},
	}

	for _, p := range d.Params {
		op.Parameters = append(op.Parameters, parameter(p))
	}
	// path parameters first
	sort.SliceStable(op.Parameters, func(i, j int) bool {
		a, b := op.Parameters[i], op.Parameters[j]
		if (a.In == "path") != (b.In == "path") {
			return a.In == "path"
		}
		return false
	})

	if d.Body != nil {
		for name, def := range d.Body.Definitions {
			components[name] = convert(def)
		}
		for name, def := range d.Body.Defs {
			components[name] = convert(def)
		}
	}

	switch {
	case len(d.Files) > 0:
		op.RequestBody = multipartBody(d.Body, d.Files)
	case d.Body != nil:
		body := convert(d.Body)
		op.RequestBody = &RequestBody{
			Description: d.Body.Description,
			Required:    true,
			Content: map[string]MediaType{
				"application/json":                  {Schema: body},
				"application/x-www-form-urlencoded": {Schema: body},
			},
		}
	}

	if op.RequestBody != nil {
		op.Responses["400"] = problemResponse("Malformed request body")
		op.Responses["413"] = problemResponse("Payload too large")
		op.Responses["415"] = problemResponse("Unsupported media type")
	}
	if len(op.Parameters) > 0 || op.RequestBody != nil {
		op.Responses["422"] = OpenAPIResponse{
			Description: "Validation failed",
			Content: map[string]MediaType{
				"application/json": {Schema: &Schema{Ref: componentPrefix + "ValidationError"}},
			},
		}
	}
	return op
}

func parameter(p schema.FieldSpec) Parameter {
	param := Parameter{
		Name:        p.Name,
		In:          string(p.Source),
		Description: p.Description,
		Required:    p.Required || p.Source == schema.SourcePath,
		Schema:      fieldSchema(p),
	}
	if p.Type == schema.TypeArray {
		explode := p.Separator == ""
		param.Explode = &explode
		switch p.Separator {
		case "", ",":
			param.Style = "form"
		case " ":
			param.Style = "spaceDelimited"
		case "|":
			param.Style = "pipeDelimited"
		}
		if p.Source == schema.SourceHeader || p.Source == schema.SourcePath {
			param.Style = "simple"
		}
	}
	return param
}

func fieldSchema(p schema.FieldSpec) *Schema {
	s := &Schema{
		Type:        string(p.Type),
		Format:      string(p.Format),
		Description: p.Description,
		Default:     p.Default,
	}
	if s.Type == "" {
		s.Type = string(schema.TypeString)
	}
	if s.Type == string(schema.TypeInteger) && s.Format == "" {
		s.Format = "int64"
	}
	applyConstraints(s, p.Constraints)
	if p.Type == schema.TypeArray {
		s.Items = &Schema{Type: string(schema.TypeString)}
		if p.Items != nil {
			s.Items = fieldSchema(*p.Items)
		}
	}
	return s
}

func applyConstraints(s *Schema, c schema.Constraints) {
	s.Minimum, s.Maximum = c.Minimum, c.Maximum
	if c.ExclusiveMinimum != nil {
		s.Minimum, s.ExclusiveMinimum = c.ExclusiveMinimum, true
	}
	if c.ExclusiveMaximum != nil {
		s.Maximum, s.ExclusiveMaximum = c.ExclusiveMaximum, true
	}
	s.MultipleOf = c.MultipleOf
	s.MinLength, s.MaxLength, s.Pattern = c.MinLength, c.MaxLength, c.Pattern
	s.MinItems, s.MaxItems, s.UniqueItems = c.MinItems, c.MaxItems, c.UniqueItems
	s.Enum = c.Enum
}

// convert maps a body schema onto the OpenAPI dialect. References to local
// definitions move under components; const becomes a one-value enum.
func convert(in *schema.Schema) *Schema {
	if in == nil {
		return nil
	}
	if in.Ref != "" {
		return &Schema{Ref: componentRef(in.Ref)}
	}
	s := &Schema{
		Type:                 string(in.Type),
		Format:               string(in.Format),
		Title:                in.Title,
		Description:          in.Description,
		Nullable:             in.Nullable,
		Default:              in.Default,
		Required:             in.Required,
		AdditionalProperties: in.AdditionalProperties,
		MinProperties:        in.MinProperties,
		MaxProperties:        in.MaxProperties,
		Items:                convert(in.Items),
		AllOf:                convertAll(in.AllOf),
		AnyOf:                convertAll(in.AnyOf),
		OneOf:                convertAll(in.OneOf),
		Not:                  convert(in.Not),
	}
	applyConstraints(s, in.Constraints)
	if in.Const != nil {
		s.Enum = []any{*in.Const}
	}
	if len(in.Properties) > 0 {
		s.Properties = make(map[string]*Schema, len(in.Properties))
		for name, p := range in.Properties {
			s.Properties[name] = convert(p)
		}
	}
	return s
}

func convertAll(list []*schema.Schema) []*Schema {
	if len(list) == 0 {
		return nil
	}
	out := make([]*Schema, len(list))
	for i, s := range list {
		out[i] = convert(s)
	}
	return out
}

func componentRef(ref string) string {
	for _, prefix := range []string{"#/definitions/", "#/$defs/"} {
		if name, ok := strings.CutPrefix(ref, prefix); ok {
			return componentPrefix + name
		}
	}
	return ref
}

func multipartBody(body *schema.Schema, files map[string]schema.FileSpec) *RequestBody {
	form := &Schema{Type: "object", Properties: make(map[string]*Schema)}
	if body != nil {
		converted := convert(body)
		for name, p := range converted.Properties {
			form.Properties[name] = p
		}
		form.Required = append(form.Required, converted.Required...)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := files[name]
		file := &Schema{Type: "string", Format: "binary"}
		if len(spec.ContentType) > 0 {
			file.Description = "Accepted types: " + strings.Join(spec.ContentType, ", ")
		}
		form.Properties[name] = file
		if spec.Required {
			form.Required = append(form.Required, name)
		}
	}

	return &RequestBody{
		Description: "Multipart form data",
		Required:    len(form.Required) > 0,
		Content: map[string]MediaType{
			"multipart/form-data": {Schema: form},
		},
	}
}

func problemResponse(description string) OpenAPIResponse {
	return OpenAPIResponse{
		Description: description,
		Content: map[string]MediaType{
			"application/problem+json": {Schema: &Schema{Ref: componentPrefix + "Problem"}},
		},
	}
}

func problemSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"type":   {Type: "string"},
			"title":  {Type: "string"},
			"status": {Type: "integer"},
			"detail": {Type: "string"},
		},
		Required: []string{"type", "title", "status"},
	}
}

// validationSchema describes the 422 body: echoed fields next to an errors
// list.
func validationSchema() *Schema {
	allow := true
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"errors": {
				Type: "array",
				Items: &Schema{
					Type: "object",
					Properties: map[string]*Schema{
						"field":   {Type: "string"},
						"source":  {Type: "string", Enum: []any{"path", "query", "header", "cookie", "body", "file"}},
						"kind":    {Type: "string", Enum: []any{"coercion", "constraint", "file"}},
						"rule":    {Type: "string"},
						"message": {Type: "string"},
						"value":   {},
					},
					Required: []string{"field", "source", "kind", "rule", "message"},
				},
			},
		},
		Required:             []string{"errors"},
		AdditionalProperties: &allow,
	}
}

// RegisterOpenAPIDocs registers the OpenAPI spec and Swagger UI endpoints.
// The document is generated on each request, so routes registered later are
// included.
func (o *OpenApi) RegisterOpenAPIDocs(title, description, version, specPath, docsPath string) error {
	specHandler := func(context.Context, *pipeline.Request) (*pipeline.Response, error) {
		return pipeline.JSON(http.StatusOK, o.GenerateOpenAPI(title, description, version)), nil
	}
	if _, err := pipeline.Register(o.f, pipeline.RouteDescriptor{
		Method:      http.MethodGet,
		Path:        specPath,
		Handler:     specHandler,
		Summary:     "OpenAPI Specification",
		Description: "Returns the OpenAPI 3.0 specification for this API",
		Tags:        []string{"Documentation"},
	}, pipeline.Hooks{}); err != nil {
		return fmt.Errorf("failed to register OpenAPI spec endpoint: %w", err)
	}

	page := swaggerPage(title, specPath)
	uiHandler := func(context.Context, *pipeline.Request) (*pipeline.Response, error) {
		resp := &pipeline.Response{Status: http.StatusOK, Body: page}
		return resp.SetHeader("Content-Type", "text/html; charset=utf-8"), nil
	}
	if _, err := pipeline.Register(o.f, pipeline.RouteDescriptor{
		Method:      http.MethodGet,
		Path:        docsPath,
		Handler:     uiHandler,
		Summary:     "API Documentation",
		Description: "Interactive API documentation using Swagger UI",
		Tags:        []string{"Documentation"},
	}, pipeline.Hooks{}); err != nil {
		return fmt.Errorf("failed to register Swagger UI endpoint: %w", err)
	}
	return nil
}

// RegisterDocs is RegisterOpenAPIDocs without a description.
func RegisterDocs(f *pipeline.Framework, title, version, specPath, docsPath string) error {
	return NewOpenApi(f).RegisterOpenAPIDocs(title, "", version, specPath, docsPath)
}

func swaggerPage(title, specPath string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({ url: %q, dom_id: '#swagger-ui', layout: "BaseLayout" });
        };
    </script>
</body>
</html>`, html.EscapeString(title), specPath)
}
