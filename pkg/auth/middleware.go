package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/claudebridge/pkg/api"
	"github.com/rhuss/claudebridge/pkg/debug"
	"github.com/rhuss/claudebridge/pkg/transport"
)

// Middleware creates HTTP middleware from an Authenticator; a nil
// Authenticator accepts every request. It checks the bypass list, runs
// authentication, then selects the upstream key from the client key and
// configuredKey. The identity and the selected key are stored in the
// request context. Paths in LocalEndpoints are served without an upstream
// key when none can be selected.
func Middleware(authn Authenticator, configuredKey string, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	local := make(map[string]bool, len(LocalEndpoints))
	for _, ep := range LocalEndpoints {
		local[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			identity := anonymous
			var err error
			if authn != nil {
				identity, err = authn.Authenticate(r.Context(), r)
			}
			if err != nil || identity == nil {
				if err == nil {
					err = ErrUnauthenticated
				}
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				transport.WriteAPIError(w, api.NewAuthenticationError(clientMessage(err)))
				return
			}

			clientKey := ExtractClientKey(r)
			upstreamKey, err := SelectUpstreamKey(clientKey, configuredKey)
			if err != nil && !local[r.URL.Path] {
				slog.Warn("no upstream key available",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				transport.WriteAPIError(w, api.NewAuthenticationError(err.Error()))
				return
			}

			debug.Log("auth", "authentication succeeded",
				"subject", identity.Subject,
				"method", identity.Method,
				"client_upstream_key", IsUpstreamKey(clientKey),
				"path", r.URL.Path,
			)

			ctx := SetIdentity(r.Context(), identity)
			if upstreamKey != "" {
				ctx = SetUpstreamKey(ctx, upstreamKey)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var anonymous = &Identity{Subject: "anonymous", Method: "none"}

func clientMessage(err error) string {
	if errors.Is(err, ErrInvalidKey) {
		return "Invalid API key. Please provide a valid Anthropic API key."
	}
	return "Authentication required. Provide an API key in the x-api-key header."
}

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/", "/health", "/metrics"}

// LocalEndpoints are authenticated but answered without calling the
// upstream, so they need no upstream key.
var LocalEndpoints = []string{"/v1/messages/count_tokens"}
