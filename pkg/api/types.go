package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason explains why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonStopSequence StopReason = "stop_sequence"
)

// Block type discriminators as they appear in the "type" field.
const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
	BlockTypeThinking   = "thinking"
)

// ---------------------------------------------------------------------------
// Content blocks
// ---------------------------------------------------------------------------

// ContentBlock is one element of a message's content. The set of
// implementations is closed: TextBlock, ImageBlock, ToolUseBlock,
// ToolResultBlock, ThinkingBlock and UnknownBlock. Consumers switch on the
// concrete type.
type ContentBlock interface {
	// BlockType returns the wire "type" discriminator.
	BlockType() string

	isContentBlock()
}

// TextBlock carries plain text.
type TextBlock struct {
	Text string `json:"text"`
}

// ImageBlock carries an inline or referenced image.
type ImageBlock struct {
	Source ImageSource `json:"source"`
}

// ImageSource describes where image bytes come from. Type is "base64"
// (MediaType and Data set) or "url" (URL set).
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ToolUseBlock is a model request to call a tool. Input is kept as raw JSON
// and never validated against the tool's schema.
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultBlock returns the output of a tool call to the model. Content
// is either a string or a list of content blocks, kept as raw JSON.
type ToolResultBlock struct {
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ThinkingBlock carries model reasoning.
type ThinkingBlock struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

// UnknownBlock preserves a block whose type this package does not model.
type UnknownBlock struct {
	Type string
	Raw  json.RawMessage
}

func (TextBlock) BlockType() string       { return BlockTypeText }
func (ImageBlock) BlockType() string      { return BlockTypeImage }
func (ToolUseBlock) BlockType() string    { return BlockTypeToolUse }
func (ToolResultBlock) BlockType() string { return BlockTypeToolResult }
func (ThinkingBlock) BlockType() string   { return BlockTypeThinking }
func (b UnknownBlock) BlockType() string  { return b.Type }

func (TextBlock) isContentBlock()       {}
func (ImageBlock) isContentBlock()      {}
func (ToolUseBlock) isContentBlock()    {}
func (ToolResultBlock) isContentBlock() {}
func (ThinkingBlock) isContentBlock()   {}
func (UnknownBlock) isContentBlock()    {}

// MarshalJSON adds the "type" discriminator.
func (b TextBlock) MarshalJSON() ([]byte, error) {
	type alias TextBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeText, alias(b)})
}

// MarshalJSON adds the "type" discriminator.
func (b ImageBlock) MarshalJSON() ([]byte, error) {
	type alias ImageBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeImage, alias(b)})
}

// MarshalJSON adds the "type" discriminator and renders a missing input as
// an empty object.
func (b ToolUseBlock) MarshalJSON() ([]byte, error) {
	type alias ToolUseBlock
	if len(b.Input) == 0 {
		b.Input = json.RawMessage(`{}`)
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeToolUse, alias(b)})
}

// MarshalJSON adds the "type" discriminator.
func (b ToolResultBlock) MarshalJSON() ([]byte, error) {
	type alias ToolResultBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeToolResult, alias(b)})
}

// MarshalJSON adds the "type" discriminator.
func (b ThinkingBlock) MarshalJSON() ([]byte, error) {
	type alias ThinkingBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeThinking, alias(b)})
}

// MarshalJSON writes the preserved payload unchanged.
func (b UnknownBlock) MarshalJSON() ([]byte, error) {
	if len(b.Raw) > 0 {
		return b.Raw, nil
	}
	return json.Marshal(map[string]string{"type": b.Type})
}

// DecodeContentBlock decodes a single block, dispatching on its "type"
// field. Unrecognized types decode to UnknownBlock rather than failing.
func DecodeContentBlock(data []byte) (ContentBlock, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case BlockTypeText:
		var b TextBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case BlockTypeImage:
		var b ImageBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case BlockTypeToolUse:
		var b ToolUseBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case BlockTypeToolResult:
		var b ToolResultBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case BlockTypeThinking:
		var b ThinkingBlock
		err := json.Unmarshal(data, &b)
		return b, err
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownBlock{Type: head.Type, Raw: raw}, nil
	}
}

// ContentBlocks is an ordered list of content blocks that knows how to
// decode its polymorphic elements.
type ContentBlocks []ContentBlock

// UnmarshalJSON decodes each element with DecodeContentBlock.
func (c *ContentBlocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	blocks := make(ContentBlocks, 0, len(raws))
	for i, raw := range raws {
		b, err := DecodeContentBlock(raw)
		if err != nil {
			return fmt.Errorf("content[%d]: %w", i, err)
		}
		blocks = append(blocks, b)
	}
	*c = blocks
	return nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// MessageContent is either a plain string or an ordered list of blocks.
// Blocks is nil for the string form.
type MessageContent struct {
	Text   string
	Blocks ContentBlocks
}

// TextContent returns string-form content.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s}
}

// BlockContent returns block-form content.
func BlockContent(blocks ...ContentBlock) MessageContent {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return MessageContent{Blocks: blocks}
}

// IsText reports whether the content uses the plain string form.
func (c MessageContent) IsText() bool {
	return c.Blocks == nil
}

// AsBlocks returns the content as blocks. String-form content becomes a
// single TextBlock.
func (c MessageContent) AsBlocks() []ContentBlock {
	if c.IsText() {
		return []ContentBlock{TextBlock{Text: c.Text}}
	}
	return c.Blocks
}

// MarshalJSON writes a JSON string or a JSON array.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsText() {
		return json.Marshal(c.Text)
	}
	return json.Marshal([]ContentBlock(c.Blocks))
}

// UnmarshalJSON accepts a JSON string, a JSON array of blocks, or null.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = MessageContent{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = MessageContent{Text: s}
		return nil
	case data[0] == '[':
		var blocks ContentBlocks
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		if blocks == nil {
			blocks = ContentBlocks{}
		}
		*c = MessageContent{Blocks: blocks}
		return nil
	default:
		return fmt.Errorf("content must be a string or an array of blocks")
	}
}

// Message is one conversational turn.
type Message struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

// ---------------------------------------------------------------------------
// Request
// ---------------------------------------------------------------------------

// Tool declares a function the model may call.
type Tool struct {
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice constrains tool selection. Type is "auto", "any", "tool" or
// "none"; Name is set for "tool".
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Metadata carries caller-supplied request annotations.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// MessagesRequest is the body of POST /v1/messages and
// POST /v1/messages/count_tokens.
type MessagesRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Messages      []Message       `json:"messages"`
	System        *MessageContent `json:"system,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      json.RawMessage `json:"thinking,omitempty"`
}

// TokenCountResponse is the body returned by POST /v1/messages/count_tokens.
type TokenCountResponse struct {
	InputTokens int `json:"input_tokens"`
}

// ---------------------------------------------------------------------------
// Response
// ---------------------------------------------------------------------------

// Usage reports token consumption.
type Usage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

// MessageResponse is a complete assistant message. It is returned directly
// for non-streaming requests and embedded in message_start while streaming
// (with empty content and a nil StopReason).
type MessageResponse struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         Role          `json:"role"`
	Model        string        `json:"model"`
	Content      ContentBlocks `json:"content"`
	StopReason   *StopReason   `json:"stop_reason"`
	StopSequence *string       `json:"stop_sequence"`
	Usage        Usage         `json:"usage"`
}

// NewMessageResponse returns an assistant message shell with an empty
// content list.
func NewMessageResponse(id, model string) *MessageResponse {
	return &MessageResponse{
		ID:      id,
		Type:    "message",
		Role:    RoleAssistant,
		Model:   model,
		Content: ContentBlocks{},
	}
}
