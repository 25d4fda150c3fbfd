package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RottenNinja-Go/pipeline/binding"
	"github.com/RottenNinja-Go/pipeline/schema"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func do(t *testing.T, h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func ok(body any) HandlerFunc {
	return func(context.Context, *Request) (*Response, error) {
		return JSON(http.StatusOK, body), nil
	}
}

func TestHookOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		trace []string
	)
	mark := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		trace = append(trace, s)
	}
	step := func(name string) RequestHook {
		return func(_ context.Context, r *Request) (Result, error) {
			mark(name)
			return Continue(r), nil
		}
	}

	f := New()
	f.AddHooks(Hooks{OnRequest: []RequestHook{step("A")}})
	api := f.Group("/api")
	api.AddHooks(Hooks{PreValidation: []RequestHook{step("B")}})

	MustRegister(api, RouteDescriptor{
		Method: http.MethodGet,
		Path:   "/ping",
		Handler: func(context.Context, *Request) (*Response, error) {
			mark("handler")
			return JSON(http.StatusOK, map[string]string{"pong": "yes"}), nil
		},
	}, Hooks{
		PreHandler: []RequestHook{step("C")},
		OnResponse: []ResponseHook{func(_ context.Context, _ *Request, resp *Response) (*Response, error) {
			mark("onResponse")
			return resp, nil
		}},
	})

	w := do(t, f, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, []string{"A", "B", "C", "handler", "onResponse"}, trace)
}

func TestRequireAPIKey(t *testing.T) {
	called := false
	f := New()
	MustRegister(f, RouteDescriptor{
		Method: http.MethodGet,
		Path:   "/secret",
		Handler: func(context.Context, *Request) (*Response, error) {
			called = true
			return JSON(http.StatusOK, "ok"), nil
		},
	}, Hooks{PreHandler: []RequestHook{RequireAPIKey("X-API-Key", func(_ context.Context, key string) bool {
		return key == "good"
	})}})

	w := do(t, f, httptest.NewRequest(http.MethodGet, "/secret", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, problemContentType, w.Header().Get("Content-Type"))
	body := decodeBody(t, w)
	assert.Equal(t, "about:blank", body["type"])
	assert.Equal(t, float64(401), body["status"])

	r := httptest.NewRequest(http.MethodGet, "/secret", nil)
	r.Header.Set("X-API-Key", "bad")
	w = do(t, f, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)

	r = httptest.NewRequest(http.MethodGet, "/secret", nil)
	r.Header.Set("X-API-Key", "good")
	w = do(t, f, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestValidationEcho(t *testing.T) {
	called := false
	f := New()
	MustRegister(f, RouteDescriptor{
		Method: http.MethodGet,
		Path:   "/items",
		Params: []schema.FieldSpec{
			{Name: "page", Source: schema.SourceQuery, Type: schema.TypeInteger, Required: true,
				Constraints: schema.Constraints{Minimum: schema.Float(1)}},
			{Name: "q", Source: schema.SourceQuery, Type: schema.TypeString},
		},
		Handler: func(context.Context, *Request) (*Response, error) {
			called = true
			return nil, nil
		},
	}, Hooks{})

	w := do(t, f, httptest.NewRequest(http.MethodGet, "/items?page=0&q=hello", nil))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, called)

	body := decodeBody(t, w)
	assert.Equal(t, float64(0), body["page"])
	assert.Equal(t, "hello", body["q"])
	errs, _ := body["errors"].([]any)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]any)
	assert.Equal(t, "page", first["field"])
	assert.Equal(t, "query", first["source"])
	assert.Equal(t, schema.RuleMinimum, first["rule"])

	w = do(t, f, httptest.NewRequest(http.MethodGet, "/items?page=2", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestDefaultsReachHandler(t *testing.T) {
	var got any
	f := New()
	MustRegister(f, RouteDescriptor{
		Method: http.MethodGet,
		Path:   "/list",
		Params: []schema.FieldSpec{{
			Name: "limit", Source: schema.SourceQuery, Type: schema.TypeInteger, Default: 10,
			Constraints: schema.Constraints{Maximum: schema.Float(50)},
		}},
		Handler: func(_ context.Context, r *Request) (*Response, error) {
			got = r.Param("limit")
			return JSON(http.StatusOK, map[string]any{"limit": got}), nil
		},
	}, Hooks{})

	w := do(t, f, httptest.NewRequest(http.MethodGet, "/list", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(10), got)

	w = do(t, f, httptest.NewRequest(http.MethodGet, "/list?limit=50", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(50), got)

	w = do(t, f, httptest.NewRequest(http.MethodGet, "/list?limit=60", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func upload(t *testing.T, path, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	pw, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = pw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, path, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestFileMagicNumbers(t *testing.T) {
	f := New()
	MustRegister(f, RouteDescriptor{
		Method: http.MethodPost,
		Path:   "/avatars",
		Files: map[string]schema.FileSpec{
			"avatar": {Required: true, ContentType: []string{"image/png", "image/jpeg"}, ValidateMagicNumber: true},
		},
		Handler: func(_ context.Context, r *Request) (*Response, error) {
			file := r.File("avatar")
			return JSON(http.StatusCreated, map[string]any{"name": file.Filename, "size": file.Size}), nil
		},
	}, Hooks{})

	w := do(t, f, upload(t, "/avatars", "avatar", "a.jpg", "image/jpeg", pngBytes))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errs := decodeBody(t, w)["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, schema.RuleMagicNumber, errs[0].(map[string]any)["rule"])

	w = do(t, f, upload(t, "/avatars", "avatar", "a.png", "image/png", pngBytes))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "a.png", decodeBody(t, w)["name"])
}

func TestRequestTimeout(t *testing.T) {
	obs := &recordingObserver{}
	f := New(WithRequestTimeout(20*time.Millisecond), WithObserver(obs))

	MustRegister(f, RouteDescriptor{
		Method: http.MethodGet,
		Path:   "/slow",
		Handler: func(ctx context.Context, _ *Request) (*Response, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return JSON(http.StatusOK, "late"), nil
			}
		},
	}, Hooks{})

	w := do(t, f, httptest.NewRequest(http.MethodGet, "/slow", nil))
	assert.Equal(t, http.StatusRequestTimeout, w.Code)
	assert.Equal(t, problemContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, float64(408), decodeBody(t, w)["status"])

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"GET /slow"}, obs.timeouts)
	assert.Equal(t, []int{http.StatusRequestTimeout}, obs.statuses)
}

// trackedBody records reads that happen after the server handler returned.
type trackedBody struct {
	r        *strings.Reader
	returned atomic.Bool
	lateRead atomic.Bool
}

func (b *trackedBody) Read(p []byte) (int, error) {
	if b.returned.Load() {
		b.lateRead.Store(true)
	}
	return b.r.Read(p)
}

func (b *trackedBody) Close() error { return nil }

func TestRequestTimeoutLeavesBodyUnread(t *testing.T) {
	slept := make(chan struct{})
	var handlerCalled atomic.Bool
	f := New(WithRequestTimeout(20 * time.Millisecond))
	MustRegister(f, RouteDescriptor{
		Method: http.MethodPost,
		Path:   "/upload",
		Body:   &schema.Schema{Type: schema.TypeObject},
		Handler: func(context.Context, *Request) (*Response, error) {
			handlerCalled.Store(true)
			return nil, nil
		},
	}, Hooks{PreValidation: []RequestHook{func(_ context.Context, r *Request) (Result, error) {
		defer close(slept)
		time.Sleep(60 * time.Millisecond)
		return Continue(r), nil
	}}})

	body := &trackedBody{r: strings.NewReader(`{"a":1}`)}
	r := httptest.NewRequest(http.MethodPost, "/upload", nil)
	r.Body = body
	r.Header.Set("Content-Type", "application/json")

	w := do(t, f, r)
	body.returned.Store(true)
	assert.Equal(t, http.StatusRequestTimeout, w.Code)

	<-slept
	time.Sleep(20 * time.Millisecond)
	assert.False(t, body.lateRead.Load())
	assert.False(t, handlerCalled.Load())
}

func TestPanicRecovery(t *testing.T) {
	var seen error
	f := New()
	MustRegister(f, RouteDescriptor{
		Method: http.MethodGet,
		Path:   "/boom",
		Handler: func(context.Context, *Request) (*Response, error) {
			panic("kaboom")
		},
	}, Hooks{OnError: []ErrorHook{func(_ context.Context, _ *Request, _ *Response, err error) *Response {
		seen = err
		return nil
	}}})

	w := do(t, f, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "an unexpected error occurred", decodeBody(t, w)["detail"])
	require.Error(t, seen)
	assert.Contains(t, seen.Error(), "kaboom")
}

func TestShortCircuitPolicy(t *testing.T) {
	hooks := Hooks{
		OnRequest: []RequestHook{func(context.Context, *Request) (Result, error) {
			return ShortCircuit(JSON(http.StatusTeapot, map[string]string{"brew": "no"})), nil
		}},
		OnResponse: []ResponseHook{func(_ context.Context, _ *Request, resp *Response) (*Response, error) {
			return resp.SetHeader("X-Seen", "yes"), nil
		}},
		OnError: []ErrorHook{func(_ context.Context, _ *Request, resp *Response, err error) *Response {
			return resp.SetHeader("X-Err", err.Error())
		}},
	}
	handlerCalled := false
	handler := func(context.Context, *Request) (*Response, error) {
		handlerCalled = true
		return nil, nil
	}

	t.Run("default runs response hooks only", func(t *testing.T) {
		f := New()
		MustRegister(f, RouteDescriptor{Method: http.MethodGet, Path: "/tea", Handler: handler}, hooks)
		w := do(t, f, httptest.NewRequest(http.MethodGet, "/tea", nil))
		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.Equal(t, "yes", w.Header().Get("X-Seen"))
		assert.Empty(t, w.Header().Get("X-Err"))
	})

	t.Run("error hooks only", func(t *testing.T) {
		f := New(WithShortCircuitPolicy(ShortCircuitPolicy{RunErrorHooks: true}))
		MustRegister(f, RouteDescriptor{Method: http.MethodGet, Path: "/tea", Handler: handler}, hooks)
		w := do(t, f, httptest.NewRequest(http.MethodGet, "/tea", nil))
		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.Empty(t, w.Header().Get("X-Seen"))
		assert.Equal(t, "short-circuited in onRequest with status 418", w.Header().Get("X-Err"))
	})

	assert.False(t, handlerCalled)
}

func TestErrorHookRewritesResponse(t *testing.T) {
	f := New()
	MustRegister(f, RouteDescriptor{
		Method: http.MethodPost,
		Path:   "/things",
		Handler: func(context.Context, *Request) (*Response, error) {
			return nil, NewProblem(http.StatusConflict, "duplicate")
		},
	}, Hooks{OnError: []ErrorHook{
		func(_ context.Context, _ *Request, resp *Response, err error) *Response {
			var p *Problem
			if !errors.As(err, &p) {
				return nil
			}
			return &Response{
				Status: resp.Status,
				Header: http.Header{"Content-Type": []string{"text/plain"}},
				Body:   "conflict: " + p.Detail,
			}
		},
		func(context.Context, *Request, *Response, error) *Response {
			panic("ignored")
		},
	}})

	w := do(t, f, httptest.NewRequest(http.MethodPost, "/things", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "conflict: duplicate", w.Body.String())
}

func TestTypedSegments(t *testing.T) {
	var got any
	capture := func(name string) HandlerFunc {
		return func(_ context.Context, r *Request) (*Response, error) {
			got = r.Param(name)
			return nil, nil
		}
	}

	f := New()
	MustRegister(f, RouteDescriptor{Method: http.MethodGet, Path: "/users/{id:int}", Handler: capture("id")}, Hooks{})
	MustRegister(f, RouteDescriptor{Method: http.MethodGet, Path: "/orders/{id:uuid}", Handler: capture("id")}, Hooks{})
	MustRegister(f, RouteDescriptor{Method: http.MethodGet, Path: "/files/{rest:path}", Handler: capture("rest")}, Hooks{})

	w := do(t, f, httptest.NewRequest(http.MethodGet, "/users/42", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, int64(42), got)

	w = do(t, f, httptest.NewRequest(http.MethodGet, "/users/abc", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, problemContentType, w.Header().Get("Content-Type"))

	id := uuid.New()
	w = do(t, f, httptest.NewRequest(http.MethodGet, "/orders/"+id.String(), nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, id, got)

	w = do(t, f, httptest.NewRequest(http.MethodGet, "/files/a/b/c.txt", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "a/b/c.txt", got)

	routes := f.Routes()
	require.Len(t, routes, 3)
	assert.Equal(t, "/files/{rest}", routes[2].Path)
	assert.Equal(t, schema.TypeInteger, routes[0].Descriptor.Params[0].Type)
}

func TestRegisterErrors(t *testing.T) {
	f := New()
	f.Handle("list", ok("x"))

	_, err := Register(f, RouteDescriptor{Method: http.MethodGet, Path: "/a", HandlerRef: "missing"}, Hooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown handler "missing"`)

	_, err = Register(f, RouteDescriptor{Method: http.MethodGet, Path: "/b/{x:float}", HandlerRef: "list"}, Hooks{})
	assert.Error(t, err)

	_, err = Register(f, RouteDescriptor{Method: http.MethodGet, Path: "/c/{rest:path}/tail", HandlerRef: "list"}, Hooks{})
	assert.Error(t, err)

	_, err = Register(f, RouteDescriptor{
		Method: http.MethodGet, Path: "/d", HandlerRef: "list",
		Params: []schema.FieldSpec{{Name: "id", Source: schema.SourcePath}},
	}, Hooks{})
	assert.Error(t, err)

	_, err = Register(f, RouteDescriptor{Method: http.MethodGet, Path: "/e", HandlerRef: "list"}, Hooks{})
	require.NoError(t, err)
	w := do(t, f, httptest.NewRequest(http.MethodGet, "/e", nil))
	assert.Equal(t, `"x"`, w.Body.String())
}

func TestStreaming(t *testing.T) {
	f := New()
	MustRegister(f, RouteDescriptor{
		Method: http.MethodGet,
		Path:   "/events",
		Handler: func(context.Context, *Request) (*Response, error) {
			var chunks iter.Seq2[[]byte, error] = func(yield func([]byte, error) bool) {
				for _, s := range []string{"data: 1\n\n", "data: 2\n\n"} {
					if !yield([]byte(s), nil) {
						return
					}
				}
			}
			return Stream(http.StatusOK, "text/event-stream", chunks), nil
		},
	}, Hooks{})

	w := do(t, f, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "data: 1\n\ndata: 2\n\n", w.Body.String())
	assert.True(t, w.Flushed)
}

func TestRequestIDAndHeaderMerge(t *testing.T) {
	f := New(WithRequestID(true), WithProblemTypeBase("https://errors.example.com/"))
	MustRegister(f, RouteDescriptor{
		Method: http.MethodGet,
		Path:   "/hdr",
		Handler: func(context.Context, *Request) (*Response, error) {
			return JSON(http.StatusOK, nil).SetHeader("X-Layer", "handler"), nil
		},
	}, Hooks{OnRequest: []RequestHook{func(_ context.Context, r *Request) (Result, error) {
		r.ResponseHeader.Set("X-Layer", "hook")
		r.ResponseHeader.Set("X-Hook", "1")
		return Continue(r), nil
	}}})

	w := do(t, f, httptest.NewRequest(http.MethodGet, "/hdr", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, "handler", w.Header().Get("X-Layer"))
	assert.Equal(t, "1", w.Header().Get("X-Hook"))

	r := httptest.NewRequest(http.MethodGet, "/hdr", nil)
	r.Header.Set(RequestIDHeader, "abc-123")
	w = do(t, f, r)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = do(t, f, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "https://errors.example.com/404", decodeBody(t, w)["type"])
}

func TestBodyErrors(t *testing.T) {
	small := binding.Limits{MaxBodyBytes: 16, MaxNestingDepth: 4, MaxMultipartMemory: 1 << 10}
	f := New()
	MustRegister(f, RouteDescriptor{
		Method: http.MethodPost,
		Path:   "/notes",
		Body: &schema.Schema{
			Type:       schema.TypeObject,
			Properties: map[string]*schema.Schema{"text": {Type: schema.TypeString}},
			Required:   []string{"text"},
		},
		Limits:  &small,
		Handler: ok("stored"),
	}, Hooks{})

	post := func(contentType, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/notes", strings.NewReader(body))
		r.Header.Set("Content-Type", contentType)
		return do(t, f, r)
	}

	assert.Equal(t, http.StatusOK, post("application/json", `{"text":"hi"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("application/json", `{"text":`).Code)
	assert.Equal(t, http.StatusUnsupportedMediaType, post("text/plain", `hi`).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, post("application/json", `{"text":"`+strings.Repeat("x", 32)+`"}`).Code)

	w := post("application/json", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errs := decodeBody(t, w)["errors"].([]any)
	assert.Equal(t, "text", errs[0].(map[string]any)["field"])
}

type recordingObserver struct {
	mu          sync.Mutex
	statuses    []int
	timeouts    []string
	validations []string
	phases      []string
}

func (o *recordingObserver) Observe(_, _ string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *recordingObserver) ShortCircuit(phase string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, phase)
}

func (o *recordingObserver) ValidationFailure(route string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.validations = append(o.validations, route)
}

func (o *recordingObserver) Timeout(route string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeouts = append(o.timeouts, route)
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	f := New(WithObserver(obs))
	MustRegister(f, RouteDescriptor{
		Method:  http.MethodGet,
		Path:    "/obs",
		Params:  []schema.FieldSpec{{Name: "n", Source: schema.SourceQuery, Type: schema.TypeInteger, Required: true}},
		Handler: ok("fine"),
	}, Hooks{PreHandler: []RequestHook{func(_ context.Context, r *Request) (Result, error) {
		if r.Param("n") == int64(0) {
			return ShortCircuit(JSON(http.StatusAccepted, nil)), nil
		}
		return Continue(r), nil
	}}})

	do(t, f, httptest.NewRequest(http.MethodGet, "/obs?n=1", nil))
	do(t, f, httptest.NewRequest(http.MethodGet, "/obs?n=x", nil))
	do(t, f, httptest.NewRequest(http.MethodGet, "/obs?n=0", nil))

	assert.Equal(t, []int{200, 422, 202}, obs.statuses)
	assert.Equal(t, []string{"GET /obs"}, obs.validations)
	assert.Equal(t, []string{"preHandler"}, obs.phases)
}

func TestShortCircuitWithoutResponse(t *testing.T) {
	called := false
	f := New()
	MustRegister(f, RouteDescriptor{
		Method: http.MethodGet,
		Path:   "/quiet",
		Handler: func(context.Context, *Request) (*Response, error) {
			called = true
			return JSON(http.StatusOK, "handled"), nil
		},
	}, Hooks{OnRequest: []RequestHook{func(context.Context, *Request) (Result, error) {
		return ShortCircuit(nil), nil
	}}})

	assert.True(t, ShortCircuit(nil).IsShortCircuit())
	assert.False(t, Continue(nil).IsShortCircuit())

	w := do(t, f, httptest.NewRequest(http.MethodGet, "/quiet", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.False(t, called)
}
