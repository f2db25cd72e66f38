package auth

import "context"

type identityKey struct{}

type upstreamKeyKey struct{}

// SetIdentity stores the authenticated identity in the context.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the authenticated identity.
// Returns nil if no identity is set.
func IdentityFromContext(ctx context.Context) *Identity {
	if v, ok := ctx.Value(identityKey{}).(*Identity); ok {
		return v
	}
	return nil
}

// SetUpstreamKey stores the key selected for upstream calls.
func SetUpstreamKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, upstreamKeyKey{}, key)
}

// UpstreamKeyFromContext returns the key selected for upstream calls, or "".
func UpstreamKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(upstreamKeyKey{}).(string)
	return key
}
