package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/clinrelay/upstream-client/pkg/audit"
)

// Kind classifies a request failure. Every error leaving the Client is an
// *Error carrying exactly one Kind; callers switch on it rather than
// inspecting message text.
type Kind string

const (
	// KindConfig covers missing or invalid key configuration, including use
	// after Close. Fatal, never retried.
	KindConfig Kind = "config"

	// KindValidation covers requests rejected before sending, such as a
	// path outside the key's permitted patterns. Never retried.
	KindValidation Kind = "validation"

	// KindRateLimited covers requests denied by the client's own admission
	// window. The client does not retry these; the caller may, later.
	KindRateLimited Kind = "rate_limited"

	// KindCircuitOpen covers fast failures while the breaker is open. Not
	// retried and not counted as a new breaker failure.
	KindCircuitOpen Kind = "circuit_open"

	// KindNetwork covers transport failures where no response arrived.
	// Retryable.
	KindNetwork Kind = "network"

	// KindTimeout covers per-attempt deadline expiry. Retryable.
	KindTimeout Kind = "timeout"

	// KindUpstreamServer covers 5xx responses. Retryable.
	KindUpstreamServer Kind = "upstream_server"

	// KindUpstreamClient covers 4xx responses other than 429. Surfaced
	// as-is, never retried.
	KindUpstreamClient Kind = "upstream_client"
)

// Error is the single failure shape surfaced to callers. All internal
// failure types are normalized into it before leaving the Client.
type Error struct {
	Kind           Kind
	Message        string
	StatusCode     int
	UpstreamCode   string
	Details        map[string]string
	Timestamp      time.Time
	RequestID      string
	RetryCount     int
	IsTimeout      bool
	IsNetworkError bool
	RetryAfter     time.Duration
	Cause          error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.RetryCount > 0 {
		msg = fmt.Sprintf("%s (retries %d)", msg, e.RetryCount)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches two *Error values by Kind, so
// errors.Is(err, &Error{Kind: KindTimeout}) works as a classification test.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind
	}
	return false
}

// Retryable reports whether the failure may succeed on a later attempt:
// network errors, timeouts, 5xx, and upstream 429.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindNetwork, KindTimeout, KindUpstreamServer:
		return true
	case KindUpstreamClient:
		return e.StatusCode == 429
	default:
		return false
	}
}

// Severity maps the failure onto the audit scale. Auth/config failures and
// circuit-open events rank above ordinary upstream errors.
func (e *Error) Severity() audit.Severity {
	switch e.Kind {
	case KindConfig, KindCircuitOpen:
		return audit.SeverityHigh
	case KindUpstreamServer, KindNetwork, KindTimeout:
		return audit.SeverityMedium
	default:
		return audit.SeverityLow
	}
}

// AsError extracts the *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func newError(kind Kind, requestID, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
		RequestID: requestID,
	}
}
