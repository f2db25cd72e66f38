// Package openaicompat is the transport client for OpenAI-compatible Chat
// Completions backends (OpenAI, Azure OpenAI, and gateways that speak the
// same wire format).
//
// It owns the wire types, SSE chunk parsing, upstream error mapping, per
// attempt timeouts, retries, and an in-flight registry that lets a call be
// cancelled by request ID from another goroutine. Format translation lives
// in package translate; reframing chunks into Claude events lives in
// package relay.
package openaicompat
