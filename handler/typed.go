package handler

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/RottenNinja-Go/pipeline"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler is a typed handler: Req is filled from the bound body and
// parameters, Resp is written as JSON.
type Handler[Req any, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Decode converts the validated body into T through its JSON form. The body
// has already passed its schema, so a failure here is a mismatch between the
// schema and T and is reported as a server fault.
func Decode[T any](r *pipeline.Request) (T, error) {
	var out T
	if err := convert(r.Body(), &out); err != nil {
		return out, fmt.Errorf("decode body into %T: %w", out, err)
	}
	return out, nil
}

// DecodeParams converts the bound parameters into T, matching parameter
// names against T's json tags.
func DecodeParams[T any](r *pipeline.Request) (T, error) {
	var out T
	if r.Bound == nil {
		return out, nil
	}
	if err := convert(r.Bound.Params, &out); err != nil {
		return out, fmt.Errorf("decode params into %T: %w", out, err)
	}
	return out, nil
}

func convert(in, out any) error {
	if in == nil {
		return nil
	}
	b, err := codec.Marshal(in)
	if err != nil {
		return err
	}
	return codec.Unmarshal(b, out)
}

// JSON adapts a typed handler. Parameters are decoded first and the body on
// top, so a body property wins over a parameter with the same tag.
// Example: handler.POST(f, "/users", handler.JSON(http.StatusCreated, createUser), opts)
func JSON[Req any, Resp any](status int, h Handler[Req, Resp]) pipeline.HandlerFunc {
	return func(ctx context.Context, r *pipeline.Request) (*pipeline.Response, error) {
		var req Req
		if r.Bound != nil {
			if err := convert(r.Bound.Params, &req); err != nil {
				return nil, fmt.Errorf("decode params into %T: %w", req, err)
			}
			if err := convert(r.Bound.Body, &req); err != nil {
				return nil, fmt.Errorf("decode body into %T: %w", req, err)
			}
		}
		resp, err := h(ctx, req)
		if err != nil {
			return nil, err
		}
		return pipeline.JSON(status, resp), nil
	}
}
