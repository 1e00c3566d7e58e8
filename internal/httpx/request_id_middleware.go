package httpx

import (
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestIDHeader = "X-Request-Id"
	maxRequestIDLen = 128
)

// RequestIDAttribute is the span attribute carrying the request id.
const RequestIDAttribute = attribute.Key("http.request_id")

// RequestIDMiddleware assigns every request an id, reusing a well-formed X-Request-Id.
// The id is echoed in the response, stored in the context and set on the active span.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if !validRequestID(requestID) {
			requestID = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, requestID)
		ctx := ContextWithRequestID(r.Context(), requestID)
		trace.SpanFromContext(ctx).SetAttributes(RequestIDAttribute.String(requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID accepts short ids made of letters, digits and "-_.:".
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}
