package pipeline

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/RottenNinja-Go/pipeline/logger"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDHook reuses the caller's X-Request-ID or generates one, stores it
// in the context and echoes it on the response.
func RequestIDHook() RequestHook {
	return func(ctx context.Context, r *Request) (Result, error) {
		id := r.HTTP.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		r.WithContext(logger.WithRequestID(ctx, id))
		r.ResponseHeader.Set(RequestIDHeader, id)
		return Continue(r), nil
	}
}

// RequireAPIKey short-circuits with 401 when the header is missing and 403
// when check rejects its value.
func RequireAPIKey(header string, check func(ctx context.Context, key string) bool) RequestHook {
	return func(ctx context.Context, r *Request) (Result, error) {
		key := r.HTTP.Header.Get(header)
		if key == "" {
			resp := ProblemResponse(NewProblem(http.StatusUnauthorized, "missing "+header+" header"))
			resp.SetHeader("WWW-Authenticate", "ApiKey")
			return ShortCircuit(resp), nil
		}
		if !check(ctx, key) {
			return ShortCircuit(ProblemResponse(NewProblem(http.StatusForbidden, "API key rejected"))), nil
		}
		r.Set("api_key", key)
		return Continue(r), nil
	}
}
