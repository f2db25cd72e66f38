package mockupstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/claudebridge/pkg/provider/openaicompat"
)

func chatRequest(t *testing.T, url string, req openaicompat.ChatCompletionRequest) *http.Response {
	t.Helper()
	data, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest(http.MethodPost, url+"/v1/chat/completions", bytes.NewReader(data))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer sk-test")
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	return resp
}

func userMessage(text string) []openaicompat.ChatMessage {
	return []openaicompat.ChatMessage{{Role: "user", Content: text}}
}

func TestUnaryResponses(t *testing.T) {
	tests := []struct {
		name       string
		req        openaicompat.ChatCompletionRequest
		wantText   string
		wantTool   string
		wantFinish string
	}{
		{
			name:       "basic",
			req:        openaicompat.ChatCompletionRequest{Model: "gpt-4o", Messages: userMessage("hi")},
			wantText:   "Hello, nice day!",
			wantFinish: "stop",
		},
		{
			name:       "counting",
			req:        openaicompat.ChatCompletionRequest{Messages: userMessage("Count from 1 to 5")},
			wantText:   "1, 2, 3, 4, 5",
			wantFinish: "stop",
		},
		{
			name: "system prompt",
			req: openaicompat.ChatCompletionRequest{Messages: []openaicompat.ChatMessage{
				{Role: "system", Content: "You are a pirate."},
				{Role: "user", Content: "hi"},
			}},
			wantText:   "Ahoy there, matey! Welcome aboard!",
			wantFinish: "stop",
		},
		{
			name: "tools",
			req: openaicompat.ChatCompletionRequest{
				Messages: userMessage("weather?"),
				Tools:    []openaicompat.ChatTool{{Type: "function", Function: openaicompat.ChatFunctionDef{Name: "get_weather"}}},
			},
			wantTool:   "get_weather",
			wantFinish: "tool_calls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			srv := httptest.NewServer(b.Handler())
			defer srv.Close()

			resp := chatRequest(t, srv.URL, tt.req)
			defer resp.Body.Close()

			var got openaicompat.ChatCompletionResponse
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			choice := got.Choices[0]
			if choice.FinishReason != tt.wantFinish {
				t.Errorf("finish_reason = %q, want %q", choice.FinishReason, tt.wantFinish)
			}
			if tt.wantText != "" && choice.Message.ContentText() != tt.wantText {
				t.Errorf("text = %q, want %q", choice.Message.ContentText(), tt.wantText)
			}
			if tt.wantTool != "" && (len(choice.Message.ToolCalls) != 1 || choice.Message.ToolCalls[0].Function.Name != tt.wantTool) {
				t.Errorf("tool calls = %+v", choice.Message.ToolCalls)
			}

			rec, ok := b.LastRequest()
			if !ok || rec.Authorization != "Bearer sk-test" {
				t.Errorf("recorded = %+v", rec)
			}
		})
	}
}

func TestErrorTriggers(t *testing.T) {
	tests := []struct {
		trigger string
		status  int
	}{
		{TriggerRateLimit, http.StatusTooManyRequests},
		{TriggerUnauthorized, http.StatusUnauthorized},
		{TriggerUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.trigger, func(t *testing.T) {
			srv := httptest.NewServer(New().Handler())
			defer srv.Close()

			resp := chatRequest(t, srv.URL, openaicompat.ChatCompletionRequest{Stream: true, Messages: userMessage(tt.trigger)})
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body openaicompat.ChatErrorResponse
			json.NewDecoder(resp.Body).Decode(&body)
			if body.Error.Message == "" {
				t.Error("missing error message")
			}
		})
	}
}

func readChunks(t *testing.T, resp *http.Response) (chunks []openaicompat.ChatCompletionChunk, sawDone bool) {
	t.Helper()
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			sawDone = true
			continue
		}
		var c openaicompat.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			t.Fatalf("bad chunk %q: %v", data, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, sawDone
}

func TestStreamingText(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	resp := chatRequest(t, srv.URL, openaicompat.ChatCompletionRequest{Stream: true, Messages: userMessage("hi")})
	defer resp.Body.Close()

	chunks, sawDone := readChunks(t, resp)
	if !sawDone {
		t.Error("expected [DONE]")
	}

	var text strings.Builder
	var finish string
	var usage *openaicompat.ChatUsage
	for _, c := range chunks {
		for _, ch := range c.Choices {
			if ch.Delta.Content != nil {
				text.WriteString(*ch.Delta.Content)
			}
			if ch.FinishReason != nil {
				finish = *ch.FinishReason
			}
		}
		if c.Usage != nil {
			usage = c.Usage
		}
	}
	if text.String() != "Hello, nice day!" || finish != "stop" {
		t.Errorf("text = %q, finish = %q", text.String(), finish)
	}
	if usage == nil || usage.CompletionTokens != 6 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestStreamingToolCall(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	resp := chatRequest(t, srv.URL, openaicompat.ChatCompletionRequest{
		Stream:   true,
		Messages: userMessage("weather?"),
		Tools:    []openaicompat.ChatTool{{Type: "function", Function: openaicompat.ChatFunctionDef{Name: "get_weather"}}},
	})
	defer resp.Body.Close()

	chunks, _ := readChunks(t, resp)
	var name, args string
	for _, c := range chunks {
		for _, ch := range c.Choices {
			for _, tc := range ch.Delta.ToolCalls {
				name += tc.Function.Name
				args += tc.Function.Arguments
			}
		}
	}
	if name != "get_weather" || args != `{"location":"San Francisco","unit":"celsius"}` {
		t.Errorf("name = %q, args = %q", name, args)
	}
}

func TestStreamingMidstreamError(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	resp := chatRequest(t, srv.URL, openaicompat.ChatCompletionRequest{Stream: true, Messages: userMessage(TriggerMidstreamError)})
	defer resp.Body.Close()

	chunks, sawDone := readChunks(t, resp)
	if sawDone {
		t.Error("a failed stream must not end with [DONE]")
	}
	last := chunks[len(chunks)-1]
	if last.Error == nil || last.Error.Type != "server_error" {
		t.Errorf("last chunk = %+v", last)
	}
}

func TestHangObservesDisconnect(t *testing.T) {
	b := New()
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	defer b.Release()

	ctx, cancel := context.WithCancel(context.Background())
	data, _ := json.Marshal(openaicompat.ChatCompletionRequest{Messages: userMessage(TriggerHang)})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/v1/chat/completions", bytes.NewReader(data))

	errCh := make(chan error, 1)
	go func() {
		_, err := http.DefaultClient.Do(req)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-b.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("backend did not observe the disconnect")
	}
	if err := <-errCh; err == nil {
		t.Error("expected client error after cancel")
	}
}
