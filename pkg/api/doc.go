// Package api defines the Claude Messages API protocol types accepted and
// produced by the claudebridge proxy.
//
// The package performs no I/O. Types serialize to the wire format used by
// Anthropic client libraries so that unmodified clients can talk to the
// proxy.
//
// Core types:
//   - [MessagesRequest]: client request for model inference
//   - [ContentBlock]: closed set of content variants (text, image, tool_use,
//     tool_result, thinking, and an opaque fallback for unknown types)
//   - [MessageResponse]: complete assistant message
//   - [StreamEvent]: one server-sent event of the streaming grammar
//   - [APIError]: structured error with a stable {type, message} shape
package api
