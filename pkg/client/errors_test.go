package client

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clinrelay/upstream-client/pkg/audit"
)

func TestError_Message(t *testing.T) {
	cause := errors.New("connection refused")
	err := &Error{
		Kind:       KindNetwork,
		Message:    "request failed",
		StatusCode: 502,
		RequestID:  "req-1",
		RetryCount: 2,
		Cause:      cause,
	}

	got := err.Error()
	for _, want := range []string{"req-1", "network", "request failed", "status 502", "retries 2", "connection refused"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestError_NilReceiver(t *testing.T) {
	var err *Error
	if got := err.Error(); got != "<nil>" {
		t.Errorf("Error() = %q, want <nil>", got)
	}
	if err.Retryable() {
		t.Error("nil error Retryable() = true")
	}
	if err.Unwrap() != nil {
		t.Error("nil error Unwrap() != nil")
	}
}

func TestError_UnwrapChain(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &Error{Kind: KindNetwork, Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := &Error{Kind: KindTimeout, Message: "deadline"}

	if !errors.Is(err, &Error{Kind: KindTimeout}) {
		t.Error("errors.Is did not match same kind")
	}
	if errors.Is(err, &Error{Kind: KindNetwork}) {
		t.Error("errors.Is matched different kind")
	}
}

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want bool
	}{
		{"network", &Error{Kind: KindNetwork}, true},
		{"timeout", &Error{Kind: KindTimeout}, true},
		{"5xx", &Error{Kind: KindUpstreamServer, StatusCode: 503}, true},
		{"429", &Error{Kind: KindUpstreamClient, StatusCode: 429}, true},
		{"404", &Error{Kind: KindUpstreamClient, StatusCode: 404}, false},
		{"config", &Error{Kind: KindConfig}, false},
		{"validation", &Error{Kind: KindValidation}, false},
		{"rate limited", &Error{Kind: KindRateLimited}, false},
		{"circuit open", &Error{Kind: KindCircuitOpen}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Severity(t *testing.T) {
	tests := []struct {
		kind Kind
		want audit.Severity
	}{
		{KindConfig, audit.SeverityHigh},
		{KindCircuitOpen, audit.SeverityHigh},
		{KindUpstreamServer, audit.SeverityMedium},
		{KindNetwork, audit.SeverityMedium},
		{KindTimeout, audit.SeverityMedium},
		{KindUpstreamClient, audit.SeverityLow},
		{KindValidation, audit.SeverityLow},
		{KindRateLimited, audit.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := &Error{Kind: tt.kind}
			if got := err.Severity(); got != tt.want {
				t.Errorf("Severity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAsError(t *testing.T) {
	inner := newError(KindTimeout, "req-9", "deadline exceeded")

	e, ok := AsError(inner)
	if !ok || e.Kind != KindTimeout || e.RequestID != "req-9" {
		t.Errorf("AsError() = (%+v, %v), want the original error", e, ok)
	}
	if e.Timestamp.IsZero() {
		t.Error("newError left Timestamp zero")
	}

	if _, ok := AsError(errors.New("plain")); ok {
		t.Error("AsError() matched a plain error")
	}
	if _, ok := AsError(nil); ok {
		t.Error("AsError(nil) = true")
	}
}

func TestError_RetryAfterSurvivesClassification(t *testing.T) {
	err := &Error{Kind: KindUpstreamClient, StatusCode: 429, RetryAfter: 7 * time.Second}
	if !err.Retryable() {
		t.Fatal("429 with Retry-After not retryable")
	}
	if err.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", err.RetryAfter)
	}
}
