package binding

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/RottenNinja-Go/pipeline/schema"
)

// RequestContext is the raw, read-only view of one request that binding
// works from. It is built fresh for every request.
type RequestContext struct {
	PathParams  map[string]string
	Query       url.Values
	Header      http.Header
	Cookies     map[string]string
	Body        []byte
	ContentType string
}

// NewRequestContext reads r into a RequestContext. The body is read up to
// maxBody bytes; a larger body yields a TooLargeError. A non-positive maxBody
// disables the limit.
func NewRequestContext(r *http.Request, pathParams map[string]string, maxBody int64) (*RequestContext, error) {
	rc := &RequestContext{
		PathParams:  pathParams,
		Query:       r.URL.Query(),
		Header:      r.Header,
		Cookies:     make(map[string]string),
		ContentType: r.Header.Get("Content-Type"),
	}
	if rc.PathParams == nil {
		rc.PathParams = map[string]string{}
	}

	// first cookie of a given name wins
	for _, c := range r.Cookies() {
		if _, ok := rc.Cookies[c.Name]; !ok {
			rc.Cookies[c.Name] = c.Value
		}
	}

	if r.Body == nil || r.Body == http.NoBody {
		return rc, nil
	}
	if maxBody > 0 && r.ContentLength > maxBody {
		return nil, &TooLargeError{Limit: maxBody}
	}

	reader := io.Reader(&contextReader{ctx: r.Context(), r: r.Body})
	if maxBody > 0 {
		reader = io.LimitReader(reader, maxBody+1)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		if ctxErr := r.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, malformed("failed to read request body", err)
	}
	if maxBody > 0 && int64(buf.Len()) > maxBody {
		return nil, &TooLargeError{Limit: maxBody}
	}
	rc.Body = buf.Bytes()
	return rc, nil
}

// contextReader stops reading once ctx is done. A pipeline abandoned after a
// timeout must not touch the body after the server has moved on.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// lookup returns every raw occurrence of a parameter and whether the
// parameter was present at all. A present parameter may carry an empty value.
func (rc *RequestContext) lookup(source schema.Source, name string) ([]string, bool) {
	switch source {
	case schema.SourcePath:
		v, ok := rc.PathParams[name]
		if !ok {
			return nil, false
		}
		return []string{v}, true
	case schema.SourceQuery:
		v, ok := rc.Query[name]
		return v, ok
	case schema.SourceHeader:
		v := rc.Header.Values(name)
		return v, len(v) > 0
	case schema.SourceCookie:
		v, ok := rc.Cookies[name]
		if !ok {
			return nil, false
		}
		return []string{v}, true
	}
	return nil, false
}
