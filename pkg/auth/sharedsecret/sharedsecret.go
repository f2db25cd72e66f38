// Package sharedsecret provides an authenticator that checks the client
// key against a single configured secret using SHA-256 hashing and
// constant-time comparison.
package sharedsecret

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/rhuss/claudebridge/pkg/auth"
)

// Authenticator validates the client key against a shared secret.
type Authenticator struct {
	hash [32]byte
}

// New creates an authenticator for secret. The secret is hashed
// immediately; the plaintext is not stored.
func New(secret string) *Authenticator {
	return &Authenticator{hash: sha256.Sum256([]byte(secret))}
}

// Authenticate accepts the request when the client key matches. Once a
// secret is configured every request must present it, so a missing key
// fails with auth.ErrUnauthenticated and a wrong one with auth.ErrInvalidKey.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) (*auth.Identity, error) {
	key := auth.ExtractClientKey(r)
	if key == "" {
		return nil, auth.ErrUnauthenticated
	}

	keyHash := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(keyHash[:], a.hash[:]) != 1 {
		return nil, auth.ErrInvalidKey
	}
	return &auth.Identity{Subject: "shared-secret", Method: "shared_secret"}, nil
}
