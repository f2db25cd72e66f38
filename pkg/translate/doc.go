// Package translate converts between the Claude Messages format and the
// OpenAI Chat Completions format.
//
// Request maps an inbound MessagesRequest onto a ChatCompletionRequest,
// resolving the model name through a modelrouter.Router. Response maps a
// unary ChatCompletionResponse back onto a MessageResponse. Streaming
// responses are reframed by package relay, which shares MapFinishReason and
// Usage with this package.
//
// Translation is lenient: unknown content blocks are dropped with a debug
// log rather than rejected. The only request-side failure is an empty
// message list.
package translate
