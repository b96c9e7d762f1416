package testutil

import (
	"net/http"
	"time"

	"cleanpoints/pkg/requestcontext"
)

// WithRequestID sets the correlation ID the RequestID middleware would set.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithTime pins the time the request is considered to have arrived.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
