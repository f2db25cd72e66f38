// Package mockupstream implements a deterministic OpenAI-compatible Chat
// Completions backend. It backs cmd/mock-backend and the integration tests.
//
// Responses are selected from the request content:
//
//   - a request with tools answers with a get_weather tool call
//   - a system prompt answers as a pirate
//   - "count from 1 to 5" answers "1, 2, 3, 4, 5"
//   - anything else answers "Hello, nice day!"
//
// The last user message may also carry a trigger that forces a failure
// mode: trigger:rate_limit, trigger:unauthorized, trigger:unavailable,
// trigger:hang, trigger:midstream_error or trigger:think.
package mockupstream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/rhuss/claudebridge/pkg/provider/openaicompat"
)

// Triggers recognized in the last user message.
const (
	TriggerRateLimit      = "trigger:rate_limit"
	TriggerUnauthorized   = "trigger:unauthorized"
	TriggerUnavailable    = "trigger:unavailable"
	TriggerHang           = "trigger:hang"
	TriggerMidstreamError = "trigger:midstream_error"
	TriggerThink          = "trigger:think"
)

// Recorded is what the backend saw of one request.
type Recorded struct {
	Authorization string
	APIKeyHeader  string
	Request       openaicompat.ChatCompletionRequest
}

// Backend is a deterministic Chat Completions server.
type Backend struct {
	mu       sync.Mutex
	requests []Recorded

	// hanging is closed by Release to end every trigger:hang request.
	hanging chan struct{}
	// gone receives one value per trigger:hang request whose client
	// disconnected.
	gone chan struct{}
}

// New creates a Backend.
func New() *Backend {
	return &Backend{
		hanging: make(chan struct{}),
		gone:    make(chan struct{}, 64),
	}
}

// Handler returns the HTTP handler serving /v1/chat/completions,
// /v1/models and /healthz.
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", b.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// Requests returns a copy of every request received so far.
func (b *Backend) Requests() []Recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Recorded(nil), b.requests...)
}

// LastRequest returns the most recent request.
func (b *Backend) LastRequest() (Recorded, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return Recorded{}, false
	}
	return b.requests[len(b.requests)-1], true
}

// Reset forgets the recorded requests.
func (b *Backend) Reset() {
	b.mu.Lock()
	b.requests = nil
	b.mu.Unlock()
}

// Disconnected returns a channel that receives a value each time a client
// abandons a trigger:hang request.
func (b *Backend) Disconnected() <-chan struct{} {
	return b.gone
}

// Release ends all current and future trigger:hang requests.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.hanging:
	default:
		close(b.hanging)
	}
}

func (b *Backend) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openaicompat.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "invalid_request_error")
		return
	}

	b.mu.Lock()
	b.requests = append(b.requests, Recorded{
		Authorization: r.Header.Get("Authorization"),
		APIKeyHeader:  r.Header.Get("api-key"),
		Request:       req,
	})
	b.mu.Unlock()

	last := lastUserMessage(&req)
	switch {
	case strings.Contains(last, TriggerRateLimit):
		writeError(w, http.StatusTooManyRequests, "Rate limit reached for requests", "rate_limit_exceeded")
		return
	case strings.Contains(last, TriggerUnauthorized):
		writeError(w, http.StatusUnauthorized, "Incorrect API key provided", "invalid_api_key")
		return
	case strings.Contains(last, TriggerUnavailable):
		writeError(w, http.StatusServiceUnavailable, "The server is overloaded", "server_error")
		return
	}

	if req.Stream {
		b.handleStreaming(w, r, &req, last)
		return
	}

	if strings.Contains(last, TriggerHang) {
		b.hang(r)
		return
	}

	resp := respond(&req, last)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// hang blocks until the client goes away or Release is called.
func (b *Backend) hang(r *http.Request) {
	select {
	case <-r.Context().Done():
		slog.Debug("mock backend: client abandoned request")
		select {
		case b.gone <- struct{}{}:
		default:
		}
	case <-b.hanging:
	}
}

func respond(req *openaicompat.ChatCompletionRequest, last string) openaicompat.ChatCompletionResponse {
	var resp openaicompat.ChatCompletionResponse
	switch {
	case len(req.Tools) > 0:
		resp = toolCallResponse()
	case hasSystemPrompt(req):
		resp = textResponse("Ahoy there, matey! Welcome aboard!")
	default:
		resp = textResponse(replyText(last))
	}
	resp.Model = modelOf(req)
	return resp
}

func replyText(last string) string {
	if strings.Contains(strings.ToLower(last), "count from 1 to 5") {
		return "1, 2, 3, 4, 5"
	}
	return "Hello, nice day!"
}

func textResponse(text string) openaicompat.ChatCompletionResponse {
	return openaicompat.ChatCompletionResponse{
		ID:     "chatcmpl-mock-text",
		Object: "chat.completion",
		Choices: []openaicompat.ChatChoice{{
			Message:      openaicompat.ChatMessage{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: &openaicompat.ChatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func toolCallResponse() openaicompat.ChatCompletionResponse {
	return openaicompat.ChatCompletionResponse{
		ID:     "chatcmpl-mock-tool",
		Object: "chat.completion",
		Choices: []openaicompat.ChatChoice{{
			Message: openaicompat.ChatMessage{
				Role: "assistant",
				ToolCalls: []openaicompat.ChatToolCall{{
					ID:   "call_mock_1",
					Type: "function",
					Function: openaicompat.ChatFunctionCall{
						Name:      "get_weather",
						Arguments: `{"location":"San Francisco","unit":"celsius"}`,
					},
				}},
			},
			FinishReason: "tool_calls",
		}},
		Usage: &openaicompat.ChatUsage{PromptTokens: 20, CompletionTokens: 15, TotalTokens: 35},
	}
}

// --- Streaming ---

func (b *Backend) handleStreaming(w http.ResponseWriter, r *http.Request, req *openaicompat.ChatCompletionRequest, last string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s := &chunkWriter{w: w, f: flusher, model: modelOf(req)}
	s.write(openaicompat.ChatChunkDelta{Role: "assistant"}, nil)

	if strings.Contains(last, TriggerHang) {
		b.hang(r)
		return
	}

	if strings.Contains(last, TriggerThink) {
		for _, part := range []string{"Let me ", "think."} {
			s.write(openaicompat.ChatChunkDelta{ReasoningContent: &part}, nil)
		}
	}

	if len(req.Tools) > 0 {
		s.toolCall()
		s.finish("tool_calls", 20, 15)
		s.done()
		return
	}

	tokens := []string{"Hello", ", ", "nice", " ", "day", "!"}
	if strings.Contains(strings.ToLower(last), "count from 1 to 5") {
		tokens = []string{"1", ", ", "2", ", ", "3", ", ", "4", ", ", "5"}
	}
	if hasSystemPrompt(req) {
		tokens = []string{"Ahoy", " there", ", matey!"}
	}

	for i, token := range tokens {
		if strings.Contains(last, TriggerMidstreamError) && i == 2 {
			s.writeRaw(map[string]any{"error": map[string]any{
				"message": "The server had an error while processing your request",
				"type":    "server_error",
			}})
			return
		}
		s.write(openaicompat.ChatChunkDelta{Content: &token}, nil)
	}

	s.finish("stop", 10, len(tokens))
	s.done()
}

type chunkWriter struct {
	w     http.ResponseWriter
	f     http.Flusher
	model string
}

func (s *chunkWriter) write(delta openaicompat.ChatChunkDelta, finish *string) {
	s.writeRaw(openaicompat.ChatCompletionChunk{
		ID:      "chatcmpl-mock-stream",
		Object:  "chat.completion.chunk",
		Model:   s.model,
		Choices: []openaicompat.ChatChunkChoice{{Delta: delta, FinishReason: finish}},
	})
}

// toolCall streams the get_weather call the way OpenAI does: id and name
// first, then the arguments in fragments.
func (s *chunkWriter) toolCall() {
	s.write(openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{{
		ID:       "call_mock_1",
		Type:     "function",
		Function: openaicompat.ChatChunkFunctionCall{Name: "get_weather"},
	}}}, nil)
	for _, frag := range []string{`{"location":`, `"San Francisco",`, `"unit":"celsius"}`} {
		s.write(openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{{
			Function: openaicompat.ChatChunkFunctionCall{Arguments: frag},
		}}}, nil)
	}
}

// finish sends the finish_reason chunk followed by a separate usage chunk,
// as backends do with stream_options.include_usage.
func (s *chunkWriter) finish(reason string, prompt, completion int) {
	s.write(openaicompat.ChatChunkDelta{}, &reason)
	s.writeRaw(openaicompat.ChatCompletionChunk{
		ID:      "chatcmpl-mock-stream",
		Object:  "chat.completion.chunk",
		Model:   s.model,
		Choices: []openaicompat.ChatChunkChoice{},
		Usage: &openaicompat.ChatUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	})
}

func (s *chunkWriter) done() {
	fmt.Fprintf(s.w, "data: [DONE]\n\n")
	s.f.Flush()
}

func (s *chunkWriter) writeRaw(v any) {
	data, _ := json.Marshal(v)
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.f.Flush()
}

// --- Models endpoint ---

func handleModels(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "claudebridge-mock"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Helpers ---

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(openaicompat.ChatErrorResponse{Error: openaicompat.ChatErrorBody{
		Message: message,
		Type:    code,
		Code:    code,
	}})
}

func modelOf(req *openaicompat.ChatCompletionRequest) string {
	if req.Model == "" {
		return "mock-model"
	}
	return req.Model
}

func lastUserMessage(req *openaicompat.ChatCompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].ContentText()
		}
	}
	return ""
}

func hasSystemPrompt(req *openaicompat.ChatCompletionRequest) bool {
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			return true
		}
	}
	return false
}
