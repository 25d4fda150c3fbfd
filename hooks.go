package pipeline

import (
	"context"
	"fmt"
	"net/http"
)

// Phase names a stage of the request lifecycle.
type Phase string

const (
	PhaseOnRequest     Phase = "onRequest"
	PhasePreValidation Phase = "preValidation"
	PhasePreHandler    Phase = "preHandler"
	PhaseOnResponse    Phase = "onResponse"
	PhaseOnError       Phase = "onError"
)

// Result is what a pre-phase hook hands back: either the request to continue
// with, or a response that ends the pipeline.
type Result struct {
	req  *Request
	resp *Response
	stop bool
}

// Continue passes the (possibly replaced) request on to the next hook.
func Continue(r *Request) Result {
	return Result{req: r}
}

// ShortCircuit ends the pipeline with resp. Binding, the handler and every
// remaining pre-phase hook are skipped. A nil resp ends it with 204 No Content.
func ShortCircuit(resp *Response) Result {
	if resp == nil {
		resp = &Response{Status: http.StatusNoContent}
	}
	return Result{resp: resp, stop: true}
}

// IsShortCircuit reports whether the result ends the pipeline.
func (r Result) IsShortCircuit() bool {
	return r.stop
}

// RequestHook runs in the onRequest, preValidation and preHandler phases.
// Returning an error diverts the request to the onError chain.
type RequestHook func(ctx context.Context, r *Request) (Result, error)

// ResponseHook runs in the onResponse phase. It may rewrite the response;
// returning nil keeps the current one.
type ResponseHook func(ctx context.Context, r *Request, resp *Response) (*Response, error)

// ErrorHook runs in the onError phase with the in-flight error response and
// the error that produced it. Returning nil keeps the current response.
type ErrorHook func(ctx context.Context, r *Request, resp *Response, err error) *Response

// Hooks groups the ordered hook lists of every phase. Hooks of one phase run
// strictly in registration order.
type Hooks struct {
	OnRequest     []RequestHook
	PreValidation []RequestHook
	PreHandler    []RequestHook
	OnResponse    []ResponseHook
	OnError       []ErrorHook
}

// Merge returns h followed by o, phase by phase. Neither input is modified.
func (h Hooks) Merge(o Hooks) Hooks {
	return Hooks{
		OnRequest:     concat(h.OnRequest, o.OnRequest),
		PreValidation: concat(h.PreValidation, o.PreValidation),
		PreHandler:    concat(h.PreHandler, o.PreHandler),
		OnResponse:    concat(h.OnResponse, o.OnResponse),
		OnError:       concat(h.OnError, o.OnError),
	}
}

func (h Hooks) requestHooks(p Phase) []RequestHook {
	switch p {
	case PhaseOnRequest:
		return h.OnRequest
	case PhasePreValidation:
		return h.PreValidation
	case PhasePreHandler:
		return h.PreHandler
	}
	return nil
}

func concat[T any](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// ShortCircuitError is passed to onError hooks when the short-circuit policy
// routes short-circuited responses through them.
type ShortCircuitError struct {
	Phase  Phase
	Status int
}

func (e *ShortCircuitError) Error() string {
	return fmt.Sprintf("short-circuited in %s with status %d", e.Phase, e.Status)
}
