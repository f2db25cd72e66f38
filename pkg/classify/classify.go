// Package classify maps upstream provider failures onto the proxy's error
// taxonomy.
//
// Classification inspects an HTTP status first and falls back to matching
// the error text when no status is available. Unrecognized errors are
// classified as Internal with the original message kept verbatim.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/rhuss/claudebridge/pkg/api"
)

// Category is one bucket of the error taxonomy.
type Category string

const (
	Auth                Category = "auth"
	RateLimit           Category = "rate_limit"
	InvalidRequest      Category = "invalid_request"
	UpstreamTimeout     Category = "upstream_timeout"
	UpstreamUnavailable Category = "upstream_unavailable"
	Internal            Category = "internal"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// Error is a classified upstream failure.
type Error struct {
	Category Category
	Message  string

	// StatusCode is the upstream HTTP status, or 0 when the failure
	// happened below HTTP.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the upstream status code.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

// APIError converts the classified error into the client-facing shape.
func (e *Error) APIError() *api.APIError {
	return ToAPIError(e.Category, e.Message)
}

// New wraps err as a classified Error. An error that is already classified
// is returned unchanged.
func New(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	cat, msg := Classify(err)
	e := &Error{Category: cat, Message: msg, Err: err}
	var sc StatusCoder
	if errors.As(err, &sc) {
		e.StatusCode = sc.HTTPStatus()
	}
	return e
}

// FromStatus classifies an upstream HTTP response by status code and the
// message extracted from its body.
func FromStatus(status int, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("upstream returned HTTP %d", status)
	}
	cat, ok := categoryForStatus(status)
	if !ok {
		cat = categoryForText(message)
	}
	return &Error{Category: cat, Message: humanize(message), StatusCode: status}
}

// Classify returns the category of err and a human-readable message. A nil
// error classifies as Internal with an empty message.
func Classify(err error) (Category, string) {
	if err == nil {
		return Internal, ""
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category, ce.Message
	}

	msg := err.Error()

	var sc StatusCoder
	if errors.As(err, &sc) {
		if cat, ok := categoryForStatus(sc.HTTPStatus()); ok {
			return cat, humanize(msg)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return UpstreamTimeout, msg
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return UpstreamTimeout, msg
	}

	return categoryForText(msg), humanize(msg)
}

// Retryable reports whether a failed unary call in this category may be
// retried.
func Retryable(cat Category) bool {
	return cat == UpstreamUnavailable || cat == RateLimit
}

// ToAPIError maps a category onto the client-facing error type.
func ToAPIError(cat Category, message string) *api.APIError {
	switch cat {
	case Auth:
		return api.NewAuthenticationError(message)
	case RateLimit:
		return api.NewRateLimitError(message)
	case InvalidRequest:
		return api.NewInvalidRequestError(message)
	case UpstreamTimeout:
		return api.NewTimeoutError(message)
	case UpstreamUnavailable:
		return api.NewOverloadedError(message)
	default:
		return api.NewServerError(message)
	}
}

func categoryForStatus(status int) (Category, bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Auth, true
	case status == http.StatusTooManyRequests:
		return RateLimit, true
	case status == http.StatusBadRequest:
		return InvalidRequest, true
	case status >= http.StatusInternalServerError:
		return UpstreamUnavailable, true
	}
	return "", false
}

// textRules are evaluated in order; the first rule with a matching
// substring wins.
var textRules = []struct {
	cat     Category
	needles []string
}{
	{UpstreamTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{RateLimit, []string{"rate limit", "rate_limit", "quota"}},
	{Auth, []string{"unauthorized", "invalid api key", "incorrect api key", "invalid_api_key", "authentication"}},
	{UpstreamUnavailable, []string{"connection refused", "connection reset", "no such host", "service unavailable", "bad gateway", "overloaded"}},
	{InvalidRequest, []string{"invalid_request", "bad request"}},
}

func categoryForText(msg string) Category {
	lower := strings.ToLower(msg)
	for _, rule := range textRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.cat
			}
		}
	}
	return Internal
}

// humanize rewrites well-known opaque upstream messages.
func humanize(msg string) string {
	if strings.Contains(msg, "unsupported_country_region_territory") {
		return "The upstream provider does not serve your region. Configure OPENAI_BASE_URL to point at a provider or proxy available in your region."
	}
	return msg
}
