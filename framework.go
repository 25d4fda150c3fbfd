// Package pipeline is a schema-driven HTTP request pipeline. Routes are
// declared with RouteDescriptor; every request runs through ordered lifecycle
// hooks around parameter and body binding and the handler.
package pipeline

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/RottenNinja-Go/pipeline/binding"
)

// Framework is the route table and the pipeline configuration shared by all
// routes.
type Framework struct {
	router   chi.Router
	opts     Options
	log      zerolog.Logger
	handlers map[string]HandlerFunc
	routes   []*Route

	middlewares []Middleware
	hooks       Hooks
}

// Group represents a group of routes with a common path prefix, middleware
// and hooks.
type Group struct {
	framework   *Framework
	prefix      string
	middlewares []Middleware
	hooks       Hooks
}

// Router is implemented by both Framework and Group so that registration
// works the same on either.
type Router interface {
	getFramework() *Framework
	getPrefix() string
	getMiddlewares() []Middleware
	getHooks() Hooks
}

// Middleware is a standard HTTP middleware function. It wraps the whole
// pipeline of a route.
type Middleware func(next http.Handler) http.Handler

// New creates a Framework.
func New(opts ...Option) *Framework {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f := &Framework{
		router:   chi.NewRouter(),
		opts:     o,
		log:      o.Logger,
		handlers: make(map[string]HandlerFunc),
	}
	if o.RequestID {
		f.hooks.OnRequest = append(f.hooks.OnRequest, RequestIDHook())
	}

	f.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		f.writeResponse(w, r, ProblemResponse(NewProblem(http.StatusNotFound, "no route matches "+r.URL.Path)))
	})
	f.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		f.writeResponse(w, r, ProblemResponse(NewProblem(http.StatusMethodNotAllowed, r.Method+" is not allowed on "+r.URL.Path)))
	})
	return f
}

func (f *Framework) getFramework() *Framework     { return f }
func (f *Framework) getPrefix() string            { return "" }
func (f *Framework) getMiddlewares() []Middleware { return f.middlewares }
func (f *Framework) getHooks() Hooks              { return f.hooks }

// Use adds middleware applied to every route registered afterwards.
func (f *Framework) Use(middleware ...Middleware) *Framework {
	f.middlewares = append(f.middlewares, middleware...)
	return f
}

// AddHooks appends hooks that run for every route registered afterwards.
func (f *Framework) AddHooks(h Hooks) *Framework {
	f.hooks = f.hooks.Merge(h)
	return f
}

// Group creates a new route group with the given path prefix.
// Example: api := app.Group("/api/v1")
func (f *Framework) Group(prefix string) *Group {
	return &Group{
		framework:   f,
		prefix:      prefix,
		middlewares: append([]Middleware{}, f.middlewares...),
		hooks:       f.hooks,
	}
}

func (g *Group) getFramework() *Framework     { return g.framework }
func (g *Group) getPrefix() string            { return g.prefix }
func (g *Group) getMiddlewares() []Middleware { return g.middlewares }
func (g *Group) getHooks() Hooks              { return g.hooks }

// Use adds middleware to the group.
func (g *Group) Use(middleware ...Middleware) *Group {
	g.middlewares = append(g.middlewares, middleware...)
	return g
}

// AddHooks appends hooks that run for every route of the group.
func (g *Group) AddHooks(h Hooks) *Group {
	g.hooks = g.hooks.Merge(h)
	return g
}

// Group creates a sub-group with an additional path prefix. The sub-group
// inherits the middleware and hooks of its parent.
// Example: api := app.Group("/api"); v1 := api.Group("/v1")
func (g *Group) Group(prefix string) *Group {
	return &Group{
		framework:   g.framework,
		prefix:      g.prefix + prefix,
		middlewares: append([]Middleware{}, g.middlewares...),
		hooks:       g.hooks,
	}
}

// Handle registers a named handler for descriptors that reference it by
// HandlerRef. It must be called before the routes that use it.
func (f *Framework) Handle(name string, fn HandlerFunc) {
	f.handlers[name] = fn
}

// Register compiles a descriptor and mounts it. Every declaration problem,
// including an unknown handler reference, is reported here rather than at
// request time.
func Register(router Router, d RouteDescriptor, hooks Hooks) (*Route, error) {
	f := router.getFramework()

	fullPath := router.getPrefix() + d.Path
	pattern, docPath, segments, err := compileTemplate(fullPath)
	if err != nil {
		return nil, err
	}

	params, err := impliedParams(d.Params, segments)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", d.Method, fullPath, err)
	}
	d.Params = params

	handler := d.Handler
	if handler == nil {
		var ok bool
		if handler, ok = f.handlers[d.HandlerRef]; !ok {
			return nil, fmt.Errorf("%s %s: unknown handler %q", d.Method, fullPath, d.HandlerRef)
		}
	}

	limits := f.opts.Limits
	if d.Limits != nil {
		limits = *d.Limits
	}
	plan, err := binding.NewPlan(d.Params, d.Body, d.Files, limits)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", d.Method, fullPath, err)
	}

	route := &Route{
		Descriptor:  d,
		Path:        docPath,
		Pattern:     pattern,
		plan:        plan,
		handler:     handler,
		hooks:       router.getHooks().Merge(hooks),
		middlewares: append([]Middleware{}, router.getMiddlewares()...),
		pathKeys:    make(map[string]string, len(segments)),
	}
	for _, s := range segments {
		key := s.name
		if s.kind == "path" {
			key = "*"
		}
		route.pathKeys[s.name] = key
	}

	// first middleware added is the outermost wrapper
	var h http.Handler = f.serve(route)
	for i := len(route.middlewares) - 1; i >= 0; i-- {
		h = route.middlewares[i](h)
	}
	f.router.Method(d.Method, pattern, h)
	f.routes = append(f.routes, route)

	f.log.Debug().Str("method", d.Method).Str("path", docPath).Msg("route registered")
	return route, nil
}

// MustRegister is Register that panics on a declaration error.
func MustRegister(router Router, d RouteDescriptor, hooks Hooks) *Route {
	r, err := Register(router, d, hooks)
	if err != nil {
		panic(err)
	}
	return r
}

// Mount attaches a plain http.Handler, bypassing the pipeline. It is meant
// for documentation and metrics endpoints.
func (f *Framework) Mount(method, path string, h http.Handler) {
	f.router.Method(method, path, h)
}

// Routes returns every registered route in registration order.
func (f *Framework) Routes() []*Route {
	return f.routes
}

// Logger returns the framework logger.
func (f *Framework) Logger() zerolog.Logger {
	return f.log
}

// ServeHTTP implements http.Handler.
func (f *Framework) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.router.ServeHTTP(w, r)
}

func pathParams(r *http.Request, route *Route) map[string]string {
	rctx := chi.RouteContext(r.Context())
	out := make(map[string]string, len(route.pathKeys))
	if rctx == nil {
		return out
	}
	for name, key := range route.pathKeys {
		out[name] = rctx.URLParam(key)
	}
	return out
}
