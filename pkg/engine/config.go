package engine

import "time"

// Config holds configuration for the engine.
type Config struct {
	// MinTokens and MaxTokens bound the max_tokens forwarded upstream.
	// Zero means no bound on that side.
	MinTokens int
	MaxTokens int

	// PingInterval is the idle gap after which a streaming response gets
	// a ping event. Zero disables pings.
	PingInterval time.Duration
}
