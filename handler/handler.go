// Package handler offers a fluent way to declare endpoints on top of
// pipeline.Register, plus typed adapters between bound values and Go structs.
package handler

import (
	"net/http"

	"github.com/RottenNinja-Go/pipeline"
	"github.com/RottenNinja-Go/pipeline/binding"
	"github.com/RottenNinja-Go/pipeline/schema"
)

// EndpointOptions is what the option callback of GET, POST and the others
// receives.
type EndpointOptions interface {
	SetSummary(summary string)
	SetDescription(description string)
	SetTags(tags ...string)
	SetOperationID(id string)
	// Param declares a path, query, header or cookie parameter.
	Param(spec schema.FieldSpec)
	// Body sets the JSON or form body schema.
	Body(s *schema.Schema)
	// File declares a multipart file field.
	File(name string, spec schema.FileSpec)
	// Limits overrides the decoder limits for this endpoint.
	Limits(l binding.Limits)
	// AddHooks appends endpoint-level hooks.
	AddHooks(h pipeline.Hooks)
}

// EndpointBuilder collects the descriptor and hooks of one endpoint.
type EndpointBuilder struct {
	descriptor pipeline.RouteDescriptor
	hooks      pipeline.Hooks
}

// SetSummary sets the endpoint summary
func (b *EndpointBuilder) SetSummary(summary string) {
	b.descriptor.Summary = summary
}

// SetDescription sets the endpoint description
func (b *EndpointBuilder) SetDescription(description string) {
	b.descriptor.Description = description
}

// SetTags sets the endpoint tags
func (b *EndpointBuilder) SetTags(tags ...string) {
	b.descriptor.Tags = tags
}

// SetOperationID sets the OpenAPI operationId
func (b *EndpointBuilder) SetOperationID(id string) {
	b.descriptor.OperationID = id
}

// Param declares a path, query, header or cookie parameter
func (b *EndpointBuilder) Param(spec schema.FieldSpec) {
	b.descriptor.Params = append(b.descriptor.Params, spec)
}

// Body sets the request body schema
func (b *EndpointBuilder) Body(s *schema.Schema) {
	b.descriptor.Body = s
}

// File declares a multipart file field
func (b *EndpointBuilder) File(name string, spec schema.FileSpec) {
	if b.descriptor.Files == nil {
		b.descriptor.Files = make(map[string]schema.FileSpec)
	}
	b.descriptor.Files[name] = spec
}

// Limits overrides the framework body and file limits for this endpoint
func (b *EndpointBuilder) Limits(l binding.Limits) {
	b.descriptor.Limits = &l
}

// AddHooks appends hooks that run after the framework and group hooks of the
// same phase.
func (b *EndpointBuilder) AddHooks(h pipeline.Hooks) {
	b.hooks = b.hooks.Merge(h)
}

func register(r pipeline.Router, method, path string, h pipeline.HandlerFunc, optFn func(EndpointOptions)) (*pipeline.Route, error) {
	b := &EndpointBuilder{
		descriptor: pipeline.RouteDescriptor{
			Method:  method,
			Path:    path,
			Handler: h,
		},
	}
	if optFn != nil {
		optFn(b)
	}
	return pipeline.Register(r, b.descriptor, b.hooks)
}

// GET registers a GET endpoint. Works with both Framework and Group through
// the Router interface.
// Example: GET(api, "/users/{id:int}", getUser, func(o EndpointOptions) { o.SetSummary("Get user") })
func GET(r pipeline.Router, path string, h pipeline.HandlerFunc, optFn func(EndpointOptions)) (*pipeline.Route, error) {
	return register(r, http.MethodGet, path, h, optFn)
}

// POST registers a POST endpoint.
func POST(r pipeline.Router, path string, h pipeline.HandlerFunc, optFn func(EndpointOptions)) (*pipeline.Route, error) {
	return register(r, http.MethodPost, path, h, optFn)
}

// PUT registers a PUT endpoint.
func PUT(r pipeline.Router, path string, h pipeline.HandlerFunc, optFn func(EndpointOptions)) (*pipeline.Route, error) {
	return register(r, http.MethodPut, path, h, optFn)
}

// PATCH registers a PATCH endpoint.
func PATCH(r pipeline.Router, path string, h pipeline.HandlerFunc, optFn func(EndpointOptions)) (*pipeline.Route, error) {
	return register(r, http.MethodPatch, path, h, optFn)
}

// DELETE registers a DELETE endpoint.
func DELETE(r pipeline.Router, path string, h pipeline.HandlerFunc, optFn func(EndpointOptions)) (*pipeline.Route, error) {
	return register(r, http.MethodDelete, path, h, optFn)
}
