package auth

import (
	"context"
	"errors"
	"net/http"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier (required, non-empty).
	Subject string

	// Method names the authenticator that accepted the request.
	Method string
}

// Authenticator checks request credentials. It returns the caller's identity,
// or ErrUnauthenticated / ErrInvalidKey when the request must be rejected.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, r *http.Request) (*Identity, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	return f(ctx, r)
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrInvalidKey      = errors.New("invalid API key")
	ErrNoUpstreamKey   = errors.New("no upstream API key: send an sk- key or configure one on the server")
)
