// Package auth authenticates inbound requests and selects the key used for
// upstream calls.
//
// With a shared secret configured, requests are checked by a
// sharedsecret.Authenticator. Otherwise noop.Authenticator accepts any key.
//
// After authentication the middleware selects the upstream key: a client
// key with the "sk-" prefix is forwarded as is, otherwise the configured
// upstream key is used. Requests for which neither exists are rejected
// before any upstream call is made.
package auth
