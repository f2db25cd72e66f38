package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/claudebridge/pkg/api"
	"github.com/rhuss/claudebridge/pkg/debug"
	"github.com/rhuss/claudebridge/pkg/modelrouter"
	"github.com/rhuss/claudebridge/pkg/provider/openaicompat"
)

// Chat Completions role names.
const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
)

// noToolContent replaces an absent tool result.
const noToolContent = "No content provided"

// Options controls request translation.
type Options struct {
	// Router resolves the requested model. A nil Router forwards the
	// requested name unchanged.
	Router *modelrouter.Router

	// MinTokens and MaxTokens bound max_tokens. Zero means unbounded.
	MinTokens int
	MaxTokens int
}

// Request converts a Claude Messages request into a Chat Completions
// request. The only failure is an empty message list.
func Request(req *api.MessagesRequest, opts Options) (*openaicompat.ChatCompletionRequest, error) {
	if apiErr := api.ValidateRequest(req); apiErr != nil {
		return nil, apiErr
	}

	model := req.Model
	if opts.Router != nil {
		model = opts.Router.Resolve(req.Model)
	}

	out := &openaicompat.ChatCompletionRequest{
		Model:       model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	if req.Stream {
		out.StreamOptions = &openaicompat.ChatStreamOptions{IncludeUsage: true}
	}

	if maxTokens := clampTokens(req.MaxTokens, opts.MinTokens, opts.MaxTokens); maxTokens > 0 {
		out.MaxTokens = &maxTokens
	}

	if req.Metadata != nil && req.Metadata.UserID != "" {
		out.User = req.Metadata.UserID
	}

	if req.TopK != nil {
		debug.Log("translate", "top_k has no Chat Completions equivalent, dropped", "top_k", *req.TopK)
	}

	if sys := systemText(req.System); sys != "" {
		out.Messages = append(out.Messages, openaicompat.ChatMessage{Role: roleSystem, Content: sys})
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, translateMessage(msg)...)
	}

	out.Tools = translateTools(req.Tools)
	if req.ToolChoice != nil {
		out.ToolChoice = translateToolChoice(req.ToolChoice)
	}

	debug.Log("translate", "request translated",
		"model", req.Model,
		"target_model", model,
		"messages", len(out.Messages),
		"tools", len(out.Tools),
		"stream", req.Stream,
	)

	return out, nil
}

// clampTokens bounds n into [lo, hi]. A zero bound is not applied.
func clampTokens(n, lo, hi int) int {
	if lo > 0 && n < lo {
		n = lo
	}
	if hi > 0 && n > hi {
		n = hi
	}
	return n
}

// systemText flattens a system prompt. Text blocks are joined with a blank
// line; other block types are dropped.
func systemText(sys *api.MessageContent) string {
	if sys == nil {
		return ""
	}
	if sys.IsText() {
		return strings.TrimSpace(sys.Text)
	}

	var parts []string
	for _, b := range sys.Blocks {
		if tb, ok := b.(api.TextBlock); ok {
			parts = append(parts, tb.Text)
			continue
		}
		debug.Log("translate", "dropping non-text system block", "type", b.BlockType())
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// pendingMessage accumulates the non-tool-result blocks of one turn until a
// tool result or the end of the turn flushes it.
type pendingMessage struct {
	role      string
	parts     []openaicompat.ChatContentPart
	text      strings.Builder
	toolCalls []openaicompat.ChatToolCall
	empty     bool
}

func newPending(role string) *pendingMessage {
	return &pendingMessage{role: role, empty: true}
}

func (p *pendingMessage) addText(s string) {
	p.empty = false
	if p.role == roleAssistant {
		p.text.WriteString(s)
		return
	}
	p.parts = append(p.parts, openaicompat.ChatContentPart{Type: "text", Text: s})
}

func (p *pendingMessage) addImage(src api.ImageSource) {
	var url string
	switch src.Type {
	case "base64":
		if src.MediaType == "" || src.Data == "" {
			debug.Log("translate", "dropping base64 image without data")
			return
		}
		url = fmt.Sprintf("data:%s;base64,%s", src.MediaType, src.Data)
	case "url":
		url = src.URL
	default:
		debug.Log("translate", "dropping image with unsupported source", "source_type", src.Type)
		return
	}
	p.empty = false
	p.parts = append(p.parts, openaicompat.ChatContentPart{
		Type:     "image_url",
		ImageURL: &openaicompat.ChatImageURL{URL: url},
	})
}

func (p *pendingMessage) addToolUse(b api.ToolUseBlock) {
	args := "{}"
	if in := bytes.TrimSpace(b.Input); len(in) > 0 && !bytes.Equal(in, []byte("null")) {
		args = string(in)
	}
	p.empty = false
	p.toolCalls = append(p.toolCalls, openaicompat.ChatToolCall{
		ID:   b.ID,
		Type: "function",
		Function: openaicompat.ChatFunctionCall{
			Name:      b.Name,
			Arguments: args,
		},
	})
}

// flush renders the accumulated blocks as one Chat message. It returns
// false when nothing was accumulated.
func (p *pendingMessage) flush() (openaicompat.ChatMessage, bool) {
	if p.empty {
		return openaicompat.ChatMessage{}, false
	}
	msg := openaicompat.ChatMessage{Role: p.role}

	if p.role == roleAssistant {
		// Images are not valid in assistant turns; only text survives.
		if p.text.Len() > 0 {
			msg.Content = p.text.String()
		}
		msg.ToolCalls = p.toolCalls
	} else {
		switch {
		case len(p.parts) == 1 && p.parts[0].Type == "text":
			msg.Content = p.parts[0].Text
		case len(p.parts) > 0:
			msg.Content = p.parts
		default:
			msg.Content = ""
		}
	}

	*p = *newPending(p.role)
	return msg, true
}

// translateMessage converts one Claude turn into one or more Chat messages.
// Every tool_result block splits the turn: blocks before it are flushed as
// a message of the turn's role, then the result follows as a tool message.
func translateMessage(msg api.Message) []openaicompat.ChatMessage {
	role := roleUser
	if msg.Role == api.RoleAssistant {
		role = roleAssistant
	}

	if msg.Content.IsText() {
		return []openaicompat.ChatMessage{{Role: role, Content: msg.Content.Text}}
	}

	var out []openaicompat.ChatMessage
	pending := newPending(role)

	for _, block := range msg.Content.Blocks {
		switch b := block.(type) {
		case api.TextBlock:
			pending.addText(b.Text)
		case api.ImageBlock:
			if role == roleAssistant {
				debug.Log("translate", "dropping image block in assistant message")
				continue
			}
			pending.addImage(b.Source)
		case api.ToolUseBlock:
			if role != roleAssistant {
				debug.Log("translate", "dropping tool_use block in user message", "id", b.ID)
				continue
			}
			pending.addToolUse(b)
		case api.ToolResultBlock:
			if m, ok := pending.flush(); ok {
				out = append(out, m)
			}
			out = append(out, openaicompat.ChatMessage{
				Role:       roleTool,
				ToolCallID: b.ToolUseID,
				Content:    toolResultText(b.Content),
			})
		case api.ThinkingBlock:
			debug.Log("translate", "dropping thinking block")
		case api.UnknownBlock:
			debug.Log("translate", "dropping unknown block", "type", b.Type)
		}
	}

	if m, ok := pending.flush(); ok {
		out = append(out, m)
	}

	// A turn with no content at all still occupies a position in the
	// conversation.
	if len(out) == 0 {
		m := openaicompat.ChatMessage{Role: role, Content: ""}
		if role == roleAssistant {
			m.Content = nil
		}
		out = append(out, m)
	}
	return out
}

// toolResultText normalizes tool_result content to a string.
func toolResultText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return noToolContent
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				parts = append(parts, toolResultItemText(item))
			}
			return strings.TrimSpace(strings.Join(parts, "\n"))
		}
	case '{':
		return toolResultItemText(raw)
	}
	return string(raw)
}

// toolResultItemText renders one element of a tool_result content list.
func toolResultItemText(item json.RawMessage) string {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(item, &obj); err == nil {
		if text, ok := obj["text"]; ok {
			var t string
			if json.Unmarshal(text, &t) == nil {
				return t
			}
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, item); err == nil {
		return compact.String()
	}
	return string(item)
}

// translateTools maps tool declarations, skipping tools without a name.
func translateTools(tools []api.Tool) []openaicompat.ChatTool {
	var out []openaicompat.ChatTool
	for _, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			debug.Log("translate", "skipping tool without a name")
			continue
		}
		params := t.InputSchema
		if len(bytes.TrimSpace(params)) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, openaicompat.ChatTool{
			Type: "function",
			Function: openaicompat.ChatFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// translateToolChoice maps tool_choice. "any" has no exact Chat
// Completions counterpart and is sent as "auto".
func translateToolChoice(tc *api.ToolChoice) any {
	switch tc.Type {
	case "none":
		return "none"
	case "tool":
		if tc.Name == "" {
			return "auto"
		}
		var named openaicompat.ChatNamedToolChoice
		named.Type = "function"
		named.Function.Name = tc.Name
		return named
	default:
		return "auto"
	}
}
