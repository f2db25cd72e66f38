package api

import "encoding/json"

// StreamEventType identifies the type of a streaming event.
type StreamEventType string

// Lifecycle events frame one streamed message.
const (
	EventMessageStart StreamEventType = "message_start"
	EventMessageDelta StreamEventType = "message_delta"
	EventMessageStop  StreamEventType = "message_stop"
)

// Content block events carry the message body, one block at a time.
const (
	EventContentBlockStart StreamEventType = "content_block_start"
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
)

// Out-of-band events.
const (
	EventPing  StreamEventType = "ping"
	EventError StreamEventType = "error"
)

// DeltaType identifies the payload of a content_block_delta event.
type DeltaType string

const (
	DeltaTypeText      DeltaType = "text_delta"
	DeltaTypeInputJSON DeltaType = "input_json_delta"
	DeltaTypeThinking  DeltaType = "thinking_delta"
)

// StreamEvent represents a single server-sent event in a streaming response.
// Only the fields relevant to Type are serialized.
type StreamEvent struct {
	Type StreamEventType

	// Message is set for message_start.
	Message *MessageResponse

	// Index is the content block index for content_block_* events.
	Index int

	// ContentBlock is set for content_block_start.
	ContentBlock ContentBlock

	// DeltaType and Delta are set for content_block_delta. Delta holds the
	// text, the partial JSON fragment, or the thinking text.
	DeltaType DeltaType
	Delta     string

	// StopReason and Usage are set for message_delta.
	StopReason StopReason
	Usage      *Usage

	// Error is set for error events.
	Error *APIError
}

// MarshalJSON renders the event data payload in the Messages streaming
// format.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": e.Type}

	switch e.Type {
	case EventMessageStart:
		out["message"] = e.Message
	case EventContentBlockStart:
		out["index"] = e.Index
		out["content_block"] = e.ContentBlock
	case EventContentBlockDelta:
		out["index"] = e.Index
		delta := map[string]any{"type": e.DeltaType}
		switch e.DeltaType {
		case DeltaTypeInputJSON:
			delta["partial_json"] = e.Delta
		case DeltaTypeThinking:
			delta["thinking"] = e.Delta
		default:
			delta["text"] = e.Delta
		}
		out["delta"] = delta
	case EventContentBlockStop:
		out["index"] = e.Index
	case EventMessageDelta:
		out["delta"] = map[string]any{
			"stop_reason":   e.StopReason,
			"stop_sequence": nil,
		}
		usage := e.Usage
		if usage == nil {
			usage = &Usage{}
		}
		out["usage"] = usage
	case EventError:
		out["error"] = e.Error
	}

	return json.Marshal(out)
}

// IsTerminal reports whether no further events may follow this one.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == EventMessageStop || e.Type == EventError
}

// NewMessageStartEvent opens a streamed message.
func NewMessageStartEvent(msg *MessageResponse) StreamEvent {
	return StreamEvent{Type: EventMessageStart, Message: msg}
}

// NewContentBlockStartEvent opens a content block at index.
func NewContentBlockStartEvent(index int, block ContentBlock) StreamEvent {
	return StreamEvent{Type: EventContentBlockStart, Index: index, ContentBlock: block}
}

// NewContentBlockDeltaEvent appends a fragment to the block at index.
func NewContentBlockDeltaEvent(index int, typ DeltaType, fragment string) StreamEvent {
	return StreamEvent{Type: EventContentBlockDelta, Index: index, DeltaType: typ, Delta: fragment}
}

// NewContentBlockStopEvent closes the block at index.
func NewContentBlockStopEvent(index int) StreamEvent {
	return StreamEvent{Type: EventContentBlockStop, Index: index}
}

// NewMessageDeltaEvent reports the stop reason and final usage.
func NewMessageDeltaEvent(reason StopReason, usage Usage) StreamEvent {
	return StreamEvent{Type: EventMessageDelta, StopReason: reason, Usage: &usage}
}

// NewMessageStopEvent ends a streamed message.
func NewMessageStopEvent() StreamEvent {
	return StreamEvent{Type: EventMessageStop}
}

// NewPingEvent is a keep-alive.
func NewPingEvent() StreamEvent {
	return StreamEvent{Type: EventPing}
}

// NewErrorEvent reports a failure in-band.
func NewErrorEvent(err *APIError) StreamEvent {
	return StreamEvent{Type: EventError, Error: err}
}
