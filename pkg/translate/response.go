package translate

import (
	"encoding/json"
	"strings"

	"github.com/rhuss/claudebridge/pkg/api"
	"github.com/rhuss/claudebridge/pkg/debug"
	"github.com/rhuss/claudebridge/pkg/provider/openaicompat"
)

// Response converts a non-streaming Chat Completions response into a
// Claude message. The returned message reports the model name the client
// originally asked for.
func Response(resp *openaicompat.ChatCompletionResponse, original *api.MessagesRequest) *api.MessageResponse {
	id := resp.ID
	if id == "" {
		id = api.NewMessageID()
	}
	model := resp.Model
	if original != nil && original.Model != "" {
		model = original.Model
	}

	msg := api.NewMessageResponse(id, model)

	var finish string
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		finish = choice.FinishReason

		if rc := choice.Message.ReasoningContent; rc != nil && *rc != "" {
			msg.Content = append(msg.Content, api.ThinkingBlock{Thinking: *rc})
		}
		if text := choice.Message.ContentText(); text != "" {
			msg.Content = append(msg.Content, api.TextBlock{Text: text})
		}
		for _, tc := range choice.Message.ToolCalls {
			msg.Content = append(msg.Content, toolUseFromCall(tc))
		}
	}

	if len(msg.Content) == 0 {
		msg.Content = append(msg.Content, api.TextBlock{Text: ""})
	}

	reason := MapFinishReason(finish)
	msg.StopReason = &reason
	msg.Usage = Usage(resp.Usage)

	debug.Log("translate", "response translated",
		"id", id,
		"finish_reason", finish,
		"stop_reason", reason,
		"blocks", len(msg.Content),
	)
	return msg
}

// toolUseFromCall converts one upstream tool call. A missing id is
// replaced by a generated one; arguments that are not valid JSON are kept
// under a raw_arguments key.
func toolUseFromCall(tc openaicompat.ChatToolCall) api.ToolUseBlock {
	id := tc.ID
	if id == "" {
		id = api.NewToolUseID()
	}
	return api.ToolUseBlock{
		ID:    id,
		Name:  tc.Function.Name,
		Input: ToolInput(tc.Function.Arguments),
	}
}

// ToolInput returns tool-call arguments as a JSON object. Empty arguments
// become {}; invalid JSON is wrapped as {"raw_arguments": "..."}.
func ToolInput(args string) json.RawMessage {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	debug.Log("translate", "tool arguments are not valid JSON", "arguments", debug.Truncate(args, 200))
	wrapped, _ := json.Marshal(map[string]string{"raw_arguments": args})
	return wrapped
}

// MapFinishReason maps an upstream finish_reason to a Claude stop reason.
// Unknown and empty values map to end_turn.
func MapFinishReason(reason string) api.StopReason {
	switch reason {
	case "stop":
		return api.StopReasonEndTurn
	case "length":
		return api.StopReasonMaxTokens
	case "tool_calls", "function_call":
		return api.StopReasonToolUse
	case "content_filter":
		return api.StopReasonStopSequence
	default:
		if reason != "" {
			debug.Log("translate", "unknown finish_reason, using end_turn", "finish_reason", reason)
		}
		return api.StopReasonEndTurn
	}
}

// Usage converts upstream usage. Absent usage yields zero counts.
func Usage(u *openaicompat.ChatUsage) api.Usage {
	if u == nil {
		return api.Usage{}
	}
	return api.Usage{
		InputTokens:          u.PromptTokens,
		OutputTokens:         u.CompletionTokens,
		CacheReadInputTokens: u.CachedTokens(),
	}
}
