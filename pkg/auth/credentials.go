package auth

import (
	"net/http"
	"strings"
)

// UpstreamKeyPrefix marks keys that are accepted by the upstream provider.
const UpstreamKeyPrefix = "sk-"

// ExtractClientKey returns the caller's key from the x-api-key header, or
// from an "Authorization: Bearer" header when x-api-key is absent.
func ExtractClientKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("x-api-key")); key != "" {
		return key
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// IsUpstreamKey reports whether key looks like an upstream provider key.
func IsUpstreamKey(key string) bool {
	return strings.HasPrefix(key, UpstreamKeyPrefix)
}

// SelectUpstreamKey picks the key for upstream calls. A client key with the
// upstream prefix wins over the configured key. ErrNoUpstreamKey is
// returned when neither is available.
func SelectUpstreamKey(clientKey, configured string) (string, error) {
	if IsUpstreamKey(clientKey) {
		return clientKey, nil
	}
	if configured != "" {
		return configured, nil
	}
	return "", ErrNoUpstreamKey
}
