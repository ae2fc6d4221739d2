package client

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the envelope returned for every completed request. It is
// never mutated after construction.
type Response struct {
	// StatusCode is the upstream HTTP status.
	StatusCode int

	// Header is a snapshot of the response headers.
	Header http.Header

	// Body is the full response payload.
	Body []byte

	// Timestamp is when the response envelope was built.
	Timestamp time.Time

	// RequestID correlates the response with audit events and logs.
	RequestID string

	// Duration is the total elapsed time including retries and queueing.
	Duration time.Duration

	// Cached is true when the response was served from the response cache
	// without touching the upstream.
	Cached bool

	// RetryCount is the number of retries performed beyond the first
	// attempt.
	RetryCount int
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// RequestOption adjusts a single call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout    time.Duration
	headers    http.Header
	idempotent *bool
	skipCache  bool
}

// WithTimeout overrides the per-attempt timeout for this call.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
	}
}

// WithHeader adds a header to the outgoing request.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(http.Header)
		}
		o.headers.Add(key, value)
	}
}

// WithIdempotent marks a POST or PATCH as safe to retry. GET, HEAD, PUT,
// and DELETE are idempotent by default.
func WithIdempotent() RequestOption {
	t := true
	return func(o *requestOptions) {
		o.idempotent = &t
	}
}

// WithoutCache bypasses the response cache for this call.
func WithoutCache() RequestOption {
	return func(o *requestOptions) {
		o.skipCache = true
	}
}

// isIdempotent reports whether a method is safe to retry by default.
func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}
