package pipeline

import (
	"context"
	"iter"
	"net/http"

	"github.com/RottenNinja-Go/pipeline/binding"
)

// HandlerFunc is application logic invoked with a bound request. Returning a
// nil response yields 204 No Content.
type HandlerFunc func(ctx context.Context, r *Request) (*Response, error)

// Request is the per-request state that flows through the hook phases and
// into the handler.
type Request struct {
	// HTTP is the underlying request. Hooks replace its context through
	// WithContext.
	HTTP *http.Request
	// Route is the matched route. It must not be modified.
	Route *Route
	// PathParams holds the raw path captures.
	PathParams map[string]string
	// Bound is nil until binding has succeeded.
	Bound *binding.Bound
	// ResponseHeader collects headers contributed before the handler runs.
	// They are merged under the handler's own headers.
	ResponseHeader http.Header

	values map[string]any
}

// Context returns the request context.
func (r *Request) Context() context.Context {
	return r.HTTP.Context()
}

// WithContext replaces the request context in place and returns r.
func (r *Request) WithContext(ctx context.Context) *Request {
	r.HTTP = r.HTTP.WithContext(ctx)
	return r
}

// Set stores a request-scoped value for later hooks and the handler.
func (r *Request) Set(key string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	r.values[key] = v
}

// Get returns a value stored with Set.
func (r *Request) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Param returns a bound parameter, or nil.
func (r *Request) Param(name string) any {
	if r.Bound == nil {
		return nil
	}
	return r.Bound.Params[name]
}

// Body returns the bound body, or nil.
func (r *Request) Body() any {
	if r.Bound == nil {
		return nil
	}
	return r.Bound.Body
}

// File returns the first upload for a file field, or nil.
func (r *Request) File(name string) *binding.File {
	if r.Bound == nil {
		return nil
	}
	return r.Bound.File(name)
}

// Response describes what is written back. Body is encoded as JSON unless it
// is a []byte or string. When Stream is set, Body is ignored and chunks are
// written and flushed as they are produced.
type Response struct {
	Status int
	Header http.Header
	Body   any
	Stream iter.Seq2[[]byte, error]
}

// JSON builds a JSON response.
func JSON(status int, body any) *Response {
	return &Response{Status: status, Header: http.Header{}, Body: body}
}

// Stream builds a streaming response with the given content type.
func Stream(status int, contentType string, chunks iter.Seq2[[]byte, error]) *Response {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	return &Response{Status: status, Header: h, Stream: chunks}
}

// SetHeader sets a header on the response and returns it.
func (r *Response) SetHeader(key, value string) *Response {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	r.Header.Set(key, value)
	return r
}
