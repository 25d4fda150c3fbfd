package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/RottenNinja-Go/pipeline/binding"
)

var responseJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// serve returns the handler that runs the full lifecycle of one route.
//
// The pipeline itself runs on its own goroutine when a timeout is configured
// and hands back a finished Response; only this function touches the
// ResponseWriter, so an abandoned pipeline can never write after the 408.
func (f *Framework) serve(route *Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		name := route.Name()

		l := f.log.With().Str("route", name).Logger()
		ctx := l.WithContext(r.Context())

		var cancel context.CancelFunc = func() {}
		if f.opts.RequestTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, f.opts.RequestTimeout)
		}
		defer cancel()

		req := &Request{
			HTTP:           r.WithContext(ctx),
			Route:          route,
			PathParams:     pathParams(r, route),
			ResponseHeader: http.Header{},
		}

		var resp *Response
		if f.opts.RequestTimeout <= 0 {
			resp = f.run(route, req)
		} else {
			done := make(chan *Response, 1)
			go func() { done <- f.run(route, req) }()

			select {
			case resp = <-done:
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					f.opts.Observer.Timeout(name)
					zerolog.Ctx(ctx).Warn().Dur("timeout", f.opts.RequestTimeout).Msg("request timed out")
					resp = ProblemResponse(NewProblem(http.StatusRequestTimeout,
						fmt.Sprintf("request did not complete within %s", f.opts.RequestTimeout)))
				} else {
					// the client went away; let the pipeline finish so exactly one
					// response is still produced
					resp = <-done
				}
			}
		}

		status := f.writeResponse(w, r.WithContext(ctx), resp)
		f.opts.Observer.Observe(name, r.Method, status, time.Since(start))
	}
}

// run executes the phases of one request and always returns a response.
func (f *Framework) run(route *Route, req *Request) (resp *Response) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			zerolog.Ctx(req.Context()).Error().Err(err).Bytes("stack", debug.Stack()).Msg("recovered panic")
			resp = f.fail(route, req, err)
		}
	}()

	hooks := route.hooks

	for _, phase := range []Phase{PhaseOnRequest, PhasePreValidation} {
		sc, err := f.runRequestHooks(phase, hooks.requestHooks(phase), req)
		if err != nil {
			return f.fail(route, req, err)
		}
		if sc != nil {
			return f.shortCircuit(route, req, phase, sc)
		}
		if resp, gone := abandoned(req); gone {
			return resp
		}
	}

	rc, err := binding.NewRequestContext(req.HTTP, req.PathParams, route.plan.Limits().MaxBodyBytes)
	if resp, gone := abandoned(req); gone {
		return resp
	}
	if err != nil {
		return f.fail(route, req, err)
	}
	bound, err := route.plan.Bind(rc)
	if err != nil {
		return f.fail(route, req, err)
	}
	req.Bound = bound

	sc, err := f.runRequestHooks(PhasePreHandler, hooks.PreHandler, req)
	if err != nil {
		return f.fail(route, req, err)
	}
	if sc != nil {
		return f.shortCircuit(route, req, PhasePreHandler, sc)
	}
	if resp, gone := abandoned(req); gone {
		return resp
	}

	out, err := route.handler(req.Context(), req)
	if err != nil {
		return f.fail(route, req, err)
	}
	if out == nil {
		out = &Response{Status: http.StatusNoContent}
	}
	out = mergeHeaders(req.ResponseHeader, out)

	out, err = f.runResponseHooks(hooks.OnResponse, req, out)
	if err != nil {
		return f.fail(route, req, err)
	}
	return out
}

// abandoned reports whether the request context ended while the pipeline was
// still running. The remaining phases are skipped: after a timeout serve has
// already answered, and the request body is no longer ours to read.
func abandoned(req *Request) (*Response, bool) {
	err := req.Context().Err()
	if err == nil {
		return nil, false
	}
	detail := "request canceled"
	if errors.Is(err, context.DeadlineExceeded) {
		detail = "request deadline exceeded"
	}
	return ProblemResponse(NewProblem(http.StatusRequestTimeout, detail)), true
}

// runRequestHooks runs one pre phase in order. A short-circuit stops the
// phase and is returned; a hook may also replace the request.
func (f *Framework) runRequestHooks(phase Phase, hooks []RequestHook, req *Request) (*Response, error) {
	for _, h := range hooks {
		res, err := h(req.Context(), req)
		if err != nil {
			return nil, err
		}
		if res.IsShortCircuit() {
			return res.resp, nil
		}
		if res.req != nil && res.req != req {
			*req = *res.req
		}
	}
	return nil, nil
}

func (f *Framework) runResponseHooks(hooks []ResponseHook, req *Request, resp *Response) (*Response, error) {
	for _, h := range hooks {
		next, err := h(req.Context(), req, resp)
		if err != nil {
			return nil, err
		}
		if next != nil {
			resp = next
		}
	}
	return resp, nil
}

// shortCircuit finishes a request ended by a pre-phase hook according to the
// configured policy. onResponse hooks may rewrite the response but the
// handler is never reached from here.
func (f *Framework) shortCircuit(route *Route, req *Request, phase Phase, resp *Response) *Response {
	f.opts.Observer.ShortCircuit(string(phase))
	zerolog.Ctx(req.Context()).Debug().Str("phase", string(phase)).Int("status", statusOf(resp)).Msg("short-circuit")

	resp = mergeHeaders(req.ResponseHeader, resp)
	policy := f.opts.ShortCircuit

	if policy.RunResponseHooks {
		out, err := f.runResponseHooks(route.hooks.OnResponse, req, resp)
		if err != nil {
			return f.fail(route, req, err)
		}
		resp = out
	}
	if policy.RunErrorHooks {
		resp = f.runErrorHooks(route.hooks.OnError, req, resp, &ShortCircuitError{Phase: phase, Status: statusOf(resp)})
	}
	return resp
}

// fail converts err into its response and passes it through the onError
// chain. Validation failures become the 422 echo envelope, decode failures
// 400 or 415, oversize bodies 413, a *Problem its own status and anything
// else 500.
func (f *Framework) fail(route *Route, req *Request, err error) *Response {
	log := zerolog.Ctx(req.Context())

	var (
		resp     *Response
		vf       *binding.ValidationFailure
		decodeEr *binding.DecodeError
		tooLarge *binding.TooLargeError
		problem  *Problem
	)
	switch {
	case errors.As(err, &vf):
		f.opts.Observer.ValidationFailure(route.Name())
		log.Warn().Int("errors", len(vf.Violations)).Msg("validation failed")
		resp = JSON(http.StatusUnprocessableEntity, vf.Envelope())
	case errors.As(err, &decodeEr):
		log.Warn().Err(err).Msg("request body rejected")
		resp = ProblemResponse(NewProblem(decodeEr.Status, decodeEr.Error()))
	case errors.As(err, &tooLarge):
		log.Warn().Err(err).Msg("payload too large")
		resp = ProblemResponse(NewProblem(http.StatusRequestEntityTooLarge, tooLarge.Error()))
	case errors.As(err, &problem):
		if problem.Status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("request failed")
		}
		resp = ProblemResponse(problem)
	default:
		log.Error().Err(err).Msg("unhandled error")
		resp = ProblemResponse(NewProblem(http.StatusInternalServerError, "an unexpected error occurred"))
	}

	resp = mergeHeaders(req.ResponseHeader, resp)
	return f.runErrorHooks(route.hooks.OnError, req, resp, err)
}

// runErrorHooks always ends in a response: a hook that panics is logged and
// skipped.
func (f *Framework) runErrorHooks(hooks []ErrorHook, req *Request, resp *Response, err error) *Response {
	for _, h := range hooks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					zerolog.Ctx(req.Context()).Error().Interface("panic", p).Msg("onError hook panicked")
				}
			}()
			if next := h(req.Context(), req, resp, err); next != nil {
				resp = next
			}
		}()
	}
	return resp
}

// mergeHeaders lays the response's own headers over the pre-phase
// contributions; the later phase wins on collisions.
func mergeHeaders(pre http.Header, resp *Response) *Response {
	if len(pre) == 0 {
		return resp
	}
	merged := pre.Clone()
	for k, v := range resp.Header {
		merged[k] = v
	}
	resp.Header = merged
	return resp
}

func statusOf(resp *Response) int {
	if resp == nil || resp.Status == 0 {
		return http.StatusOK
	}
	return resp.Status
}

// writeResponse serialises resp and returns the status written. A *Problem
// body gets its type from the configured base.
func (f *Framework) writeResponse(w http.ResponseWriter, r *http.Request, resp *Response) int {
	if resp == nil {
		resp = &Response{Status: http.StatusNoContent}
	}
	status := statusOf(resp)

	h := w.Header()
	for k, v := range resp.Header {
		h[k] = v
	}

	if resp.Stream != nil {
		f.writeStream(w, r, status, resp)
		return status
	}

	var payload []byte
	switch body := resp.Body.(type) {
	case nil:
	case []byte:
		payload = body
	case string:
		payload = []byte(body)
	default:
		if p, ok := body.(*Problem); ok {
			body = p.withType(f.opts.ProblemTypeBase)
			if h.Get("Content-Type") == "" {
				h.Set("Content-Type", problemContentType)
			}
		}
		b, err := responseJSON.Marshal(body)
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("encoding response")
			status = http.StatusInternalServerError
			h.Set("Content-Type", problemContentType)
			b, _ = responseJSON.Marshal(NewProblem(status, "response could not be encoded").withType(f.opts.ProblemTypeBase))
		}
		if h.Get("Content-Type") == "" {
			h.Set("Content-Type", "application/json")
		}
		payload = b
	}

	w.WriteHeader(status)
	if len(payload) > 0 && status != http.StatusNoContent && status != http.StatusNotModified {
		if _, err := w.Write(payload); err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("writing response")
		}
	}
	return status
}

// writeStream flushes each chunk as it is produced. An error after the
// header has gone out can only end the stream early.
func (f *Framework) writeStream(w http.ResponseWriter, r *http.Request, status int, resp *Response) {
	rc := http.NewResponseController(w)
	w.WriteHeader(status)
	_ = rc.Flush()

	for chunk, err := range resp.Stream {
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("stream aborted")
			return
		}
		if _, err := w.Write(chunk); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
		if r.Context().Err() != nil {
			return
		}
	}
}
