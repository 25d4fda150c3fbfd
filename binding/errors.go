// Package binding extracts, coerces and validates request values against the
// declarative schemas of a route. It turns a raw request into bound values or
// into one of the failure types below.
package binding

import (
	"fmt"
	"net/http"

	"github.com/RottenNinja-Go/pipeline/schema"
)

// DecodeError reports a body that could not be decoded at all: malformed
// payload, excessive nesting, unsupported media type or charset. It carries
// no field attribution.
type DecodeError struct {
	Status int
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func malformed(reason string, err error) *DecodeError {
	return &DecodeError{Status: http.StatusBadRequest, Reason: reason, Err: err}
}

func unsupported(reason string) *DecodeError {
	return &DecodeError{Status: http.StatusUnsupportedMediaType, Reason: reason}
}

// TooLargeError reports a request body or an uploaded file above its limit.
// Field is empty when the whole body is too large.
type TooLargeError struct {
	Field string
	Limit int64
}

func (e *TooLargeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
	}
	return fmt.Sprintf("file %q exceeds %d bytes", e.Field, e.Limit)
}

// ValidationFailure collects every field-level violation of one request along
// with the values that were extracted successfully.
type ValidationFailure struct {
	Violations []schema.Violation
	Echo       map[string]any
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation failed: %d error(s)", len(e.Violations))
}

// Envelope renders the 422 body: the echoed fields merged with an "errors"
// list naming each failing field. The errors key wins over an echoed field of
// the same name.
func (e *ValidationFailure) Envelope() map[string]any {
	out := make(map[string]any, len(e.Echo)+1)
	for k, v := range e.Echo {
		out[k] = v
	}
	out["errors"] = e.Violations
	return out
}
