package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/rhuss/claudebridge/pkg/api"
)

// statusErr is a minimal error carrying an HTTP status.
type statusErr struct {
	status int
	msg    string
}

func (e *statusErr) Error() string   { return e.msg }
func (e *statusErr) HTTPStatus() int { return e.status }

// timeoutErr satisfies net.Error with Timeout() == true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o wait exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyByStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{401, Auth},
		{403, Auth},
		{429, RateLimit},
		{400, InvalidRequest},
		{500, UpstreamUnavailable},
		{502, UpstreamUnavailable},
		{503, UpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("HTTP %d", tt.status), func(t *testing.T) {
			cat, msg := Classify(&statusErr{status: tt.status, msg: "upstream said no"})
			if cat != tt.want {
				t.Errorf("category = %q, want %q", cat, tt.want)
			}
			if msg != "upstream said no" {
				t.Errorf("message = %q, want original", msg)
			}
		})
	}
}

func TestClassifyStatusTakesPrecedenceOverText(t *testing.T) {
	// Text mentions a timeout but the status says rate limit.
	cat, _ := Classify(&statusErr{status: 429, msg: "request timeout while rate limited"})
	if cat != RateLimit {
		t.Errorf("category = %q, want %q", cat, RateLimit)
	}
}

func TestClassifyUnmappedStatusFallsBackToText(t *testing.T) {
	cat, _ := Classify(&statusErr{status: 404, msg: "connection refused by gateway"})
	if cat != UpstreamUnavailable {
		t.Errorf("category = %q, want %q", cat, UpstreamUnavailable)
	}
}

func TestClassifyTimeouts(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"deadline exceeded", context.DeadlineExceeded},
		{"wrapped deadline", fmt.Errorf("calling upstream: %w", context.DeadlineExceeded)},
		{"net timeout", timeoutErr{}},
		{"text timeout", errors.New("read tcp: i/o timeout")},
		{"text timed out", errors.New("request timed out")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if cat, _ := Classify(tt.err); cat != UpstreamTimeout {
				t.Errorf("category = %q, want %q", cat, UpstreamTimeout)
			}
		})
	}
}

func TestClassifyByText(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{"Rate limit reached for requests", RateLimit},
		{"You exceeded your current quota", RateLimit},
		{"Incorrect API key provided", Auth},
		{"dial tcp 127.0.0.1:1: connect: connection refused", UpstreamUnavailable},
		{"dial tcp: lookup nowhere: no such host", UpstreamUnavailable},
		{"The engine is currently overloaded", UpstreamUnavailable},
		{"invalid_request: bad field", InvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if cat, _ := Classify(errors.New(tt.msg)); cat != tt.want {
				t.Errorf("category = %q, want %q", cat, tt.want)
			}
		})
	}
}

func TestClassifyUnknownIsInternalVerbatim(t *testing.T) {
	cat, msg := Classify(errors.New("something odd happened: code 42"))
	if cat != Internal {
		t.Errorf("category = %q, want %q", cat, Internal)
	}
	if msg != "something odd happened: code 42" {
		t.Errorf("message = %q, want verbatim", msg)
	}
}

func TestClassifyPreclassified(t *testing.T) {
	orig := &Error{Category: RateLimit, Message: "slow down", StatusCode: 429}
	wrapped := fmt.Errorf("attempt 3: %w", orig)

	cat, msg := Classify(wrapped)
	if cat != RateLimit || msg != "slow down" {
		t.Errorf("Classify = (%q, %q), want (rate_limit, slow down)", cat, msg)
	}
	if got := New(wrapped); got != orig {
		t.Errorf("New() = %p, want original %p", got, orig)
	}
}

func TestNewCarriesStatus(t *testing.T) {
	e := New(&statusErr{status: 503, msg: "down"})
	if e.Category != UpstreamUnavailable {
		t.Errorf("category = %q", e.Category)
	}
	if e.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", e.StatusCode)
	}
	if !errors.Is(e, e.Err) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestFromStatus(t *testing.T) {
	e := FromStatus(500, "")
	if e.Category != UpstreamUnavailable {
		t.Errorf("category = %q", e.Category)
	}
	if e.Message != "upstream returned HTTP 500" {
		t.Errorf("message = %q", e.Message)
	}

	e = FromStatus(404, "The model `gpt-9` does not exist")
	if e.Category != Internal {
		t.Errorf("category = %q, want internal", e.Category)
	}
	if e.Message != "The model `gpt-9` does not exist" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestRegionMessageIsHumanized(t *testing.T) {
	_, msg := Classify(&statusErr{status: 403, msg: "unsupported_country_region_territory"})
	if msg == "unsupported_country_region_territory" {
		t.Error("expected region message to be rewritten")
	}
}

func TestRetryable(t *testing.T) {
	for _, cat := range []Category{UpstreamUnavailable, RateLimit} {
		if !Retryable(cat) {
			t.Errorf("Retryable(%q) = false, want true", cat)
		}
	}
	for _, cat := range []Category{Auth, InvalidRequest, UpstreamTimeout, Internal} {
		if Retryable(cat) {
			t.Errorf("Retryable(%q) = true, want false", cat)
		}
	}
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		cat  Category
		want api.ErrorType
	}{
		{Auth, api.ErrorTypeAuthentication},
		{RateLimit, api.ErrorTypeRateLimit},
		{InvalidRequest, api.ErrorTypeInvalidRequest},
		{UpstreamTimeout, api.ErrorTypeTimeout},
		{UpstreamUnavailable, api.ErrorTypeOverloaded},
		{Internal, api.ErrorTypeAPI},
	}
	for _, tt := range tests {
		got := ToAPIError(tt.cat, "msg")
		if got.Type != tt.want {
			t.Errorf("ToAPIError(%q).Type = %q, want %q", tt.cat, got.Type, tt.want)
		}
		if got.Message != "msg" {
			t.Errorf("ToAPIError(%q).Message = %q", tt.cat, got.Message)
		}
	}
}
