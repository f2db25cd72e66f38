// Package noop provides an authenticator that accepts all requests. It is
// used when no shared secret is configured.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/claudebridge/pkg/auth"
)

// Authenticator accepts every request as an anonymous caller. Whatever key
// the client sent is still available to upstream key selection.
type Authenticator struct{}

func (Authenticator) Authenticate(_ context.Context, _ *http.Request) (*auth.Identity, error) {
	return &auth.Identity{Subject: "anonymous", Method: "none"}, nil
}
