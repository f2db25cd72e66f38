// Package transport defines the handler interfaces and middleware chain for
// the claudebridge HTTP/SSE transport layer.
//
// The transport layer bridges Claude Messages clients and the translation
// engine. It deserializes incoming requests into the types defined in
// pkg/api, dispatches them for processing, and serializes results back to
// the client as JSON or as a server-sent event stream.
//
// # Handler Interfaces
//
//   - MessageCreator handles POST /v1/messages.
//   - TokenCounter handles POST /v1/messages/count_tokens.
//   - ConnectionTester backs the upstream connectivity check.
//
// The ResponseWriter interface abstracts streaming and non-streaming output,
// allowing the handler to emit SSE events or a complete JSON message without
// knowing the underlying transport protocol.
//
// # Middleware
//
// The middleware chain wraps MessageCreator with cross-cutting concerns:
// panic recovery, request ID assignment (X-Request-ID, UUIDs generated with
// github.com/google/uuid), and structured logging via log/slog.
package transport
