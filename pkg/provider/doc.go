// Package provider defines the interface the engine uses to reach the
// upstream Chat Completions backend. The openaicompat Client is the only
// implementation; tests substitute fakes.
package provider
