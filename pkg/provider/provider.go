package provider

import (
	"context"

	"github.com/rhuss/claudebridge/pkg/provider/openaicompat"
)

// Provider abstracts the Chat Completions upstream. Every call carries the
// request ID it is registered under, so that a disconnect observed
// elsewhere can abort it through Cancel.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Provider interface {
	// Complete performs non-streaming inference.
	Complete(ctx context.Context, requestID string, req *openaicompat.ChatCompletionRequest) (*openaicompat.ChatCompletionResponse, error)

	// Stream performs streaming inference. The returned channel receives
	// chunks, at most one trailing error, and is closed by the provider
	// when the stream completes, errors, or is cancelled.
	Stream(ctx context.Context, requestID string, req *openaicompat.ChatCompletionRequest) (<-chan openaicompat.StreamEvent, error)

	// Cancel aborts the call registered under requestID. It reports
	// whether such a call existed and is safe to call repeatedly.
	Cancel(requestID string) bool

	// Close releases provider resources (HTTP clients, connections).
	Close() error
}

var _ Provider = (*openaicompat.Client)(nil)
