package api

import (
	"encoding/json"
	"testing"
)

func TestStreamEventJSON(t *testing.T) {
	tests := []struct {
		name  string
		event StreamEvent
		want  string
	}{
		{
			name:  "content_block_start text",
			event: NewContentBlockStartEvent(0, TextBlock{}),
			want:  `{"content_block":{"type":"text","text":""},"index":0,"type":"content_block_start"}`,
		},
		{
			name:  "text delta",
			event: NewContentBlockDeltaEvent(0, DeltaTypeText, "Hi"),
			want:  `{"delta":{"text":"Hi","type":"text_delta"},"index":0,"type":"content_block_delta"}`,
		},
		{
			name:  "input json delta",
			event: NewContentBlockDeltaEvent(2, DeltaTypeInputJSON, `{"loc`),
			want:  `{"delta":{"partial_json":"{\"loc","type":"input_json_delta"},"index":2,"type":"content_block_delta"}`,
		},
		{
			name:  "thinking delta",
			event: NewContentBlockDeltaEvent(1, DeltaTypeThinking, "step"),
			want:  `{"delta":{"thinking":"step","type":"thinking_delta"},"index":1,"type":"content_block_delta"}`,
		},
		{
			name:  "content_block_stop",
			event: NewContentBlockStopEvent(3),
			want:  `{"index":3,"type":"content_block_stop"}`,
		},
		{
			name:  "message_delta",
			event: NewMessageDeltaEvent(StopReasonToolUse, Usage{InputTokens: 5, OutputTokens: 7}),
			want:  `{"delta":{"stop_reason":"tool_use","stop_sequence":null},"type":"message_delta","usage":{"input_tokens":5,"output_tokens":7}}`,
		},
		{
			name:  "message_stop",
			event: NewMessageStopEvent(),
			want:  `{"type":"message_stop"}`,
		},
		{
			name:  "ping",
			event: NewPingEvent(),
			want:  `{"type":"ping"}`,
		},
		{
			name:  "error",
			event: NewErrorEvent(NewOverloadedError("upstream unavailable")),
			want:  `{"error":{"type":"overloaded_error","message":"upstream unavailable"},"type":"error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal error: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("JSON =\n  %s\nwant\n  %s", data, tt.want)
			}
		})
	}
}

func TestMessageStartEventJSON(t *testing.T) {
	event := NewMessageStartEvent(NewMessageResponse("msg_1", "gpt-4o"))

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded struct {
		Type    string `json:"type"`
		Message struct {
			ID         string          `json:"id"`
			Model      string          `json:"model"`
			Content    []any           `json:"content"`
			StopReason json.RawMessage `json:"stop_reason"`
			Usage      Usage           `json:"usage"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if decoded.Type != "message_start" {
		t.Errorf("type = %q, want message_start", decoded.Type)
	}
	if decoded.Message.ID != "msg_1" || decoded.Message.Model != "gpt-4o" {
		t.Errorf("message = %+v", decoded.Message)
	}
	if decoded.Message.Content == nil || len(decoded.Message.Content) != 0 {
		t.Errorf("content = %v, want empty array", decoded.Message.Content)
	}
	if string(decoded.Message.StopReason) != "null" {
		t.Errorf("stop_reason = %s, want null", decoded.Message.StopReason)
	}
	if decoded.Message.Usage != (Usage{}) {
		t.Errorf("usage = %+v, want zero", decoded.Message.Usage)
	}
}

func TestIsTerminal(t *testing.T) {
	if !NewMessageStopEvent().IsTerminal() {
		t.Error("message_stop should be terminal")
	}
	if !NewErrorEvent(NewServerError("x")).IsTerminal() {
		t.Error("error should be terminal")
	}
	if NewPingEvent().IsTerminal() {
		t.Error("ping should not be terminal")
	}
}
