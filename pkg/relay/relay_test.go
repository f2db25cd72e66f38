package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/claudebridge/pkg/api"
	"github.com/rhuss/claudebridge/pkg/classify"
	"github.com/rhuss/claudebridge/pkg/provider/openaicompat"
)

// recorder is an EventWriter that keeps every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []api.StreamEvent
	failAt int // fail the n-th write (1-based), 0 = never
	onSend func(api.StreamEvent)
}

func (r *recorder) WriteEvent(_ context.Context, ev api.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.events)+1 == r.failAt {
		return errors.New("broken pipe")
	}
	r.events = append(r.events, ev)
	if r.onSend != nil {
		r.onSend(ev)
	}
	return nil
}

func (r *recorder) snapshot() []api.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.StreamEvent(nil), r.events...)
}

func types(events []api.StreamEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Type)
	}
	return out
}

func strPtr(s string) *string { return &s }

func textChunk(id, text string) openaicompat.StreamEvent {
	return openaicompat.StreamEvent{Chunk: &openaicompat.ChatCompletionChunk{
		ID: id,
		Choices: []openaicompat.ChatChunkChoice{{
			Delta: openaicompat.ChatChunkDelta{Content: strPtr(text)},
		}},
	}}
}

func finishChunk(reason string) openaicompat.StreamEvent {
	return openaicompat.StreamEvent{Chunk: &openaicompat.ChatCompletionChunk{
		Choices: []openaicompat.ChatChunkChoice{{FinishReason: strPtr(reason)}},
	}}
}

func toolChunk(index int, id, name, args string) openaicompat.StreamEvent {
	return openaicompat.StreamEvent{Chunk: &openaicompat.ChatCompletionChunk{
		Choices: []openaicompat.ChatChunkChoice{{
			Delta: openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{{
				Index:    index,
				ID:       id,
				Function: openaicompat.ChatChunkFunctionCall{Name: name, Arguments: args},
			}}},
		}},
	}}
}

func usageChunk(in, out int) openaicompat.StreamEvent {
	return openaicompat.StreamEvent{Chunk: &openaicompat.ChatCompletionChunk{
		Usage: &openaicompat.ChatUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}}
}

// feed returns a closed channel holding evs.
func feed(evs ...openaicompat.StreamEvent) <-chan openaicompat.StreamEvent {
	ch := make(chan openaicompat.StreamEvent, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return ch
}

func runRelay(t *testing.T, evs ...openaicompat.StreamEvent) (*Relay, *recorder, error) {
	t.Helper()
	rec := &recorder{}
	r := New(rec, Options{Model: "gpt-4o"})
	err := r.Run(context.Background(), feed(evs...))
	return r, rec, err
}

// checkNesting verifies the framing rules every stream must follow.
func checkNesting(t *testing.T, events []api.StreamEvent) {
	t.Helper()
	if len(events) == 0 {
		return
	}
	if events[0].Type != api.EventMessageStart && events[0].Type != api.EventError {
		t.Fatalf("first event = %s, want message_start", events[0].Type)
	}

	open := map[int]bool{}
	started := map[int]bool{}
	stopped := false
	for i, ev := range events {
		if stopped {
			t.Fatalf("event %d (%s) after terminal event", i, ev.Type)
		}
		switch ev.Type {
		case api.EventContentBlockStart:
			if started[ev.Index] {
				t.Fatalf("block %d started twice", ev.Index)
			}
			if ev.Index != len(started) {
				t.Fatalf("block index %d out of order, want %d", ev.Index, len(started))
			}
			started[ev.Index] = true
			open[ev.Index] = true
		case api.EventContentBlockDelta:
			if !open[ev.Index] {
				t.Fatalf("delta for block %d that is not open", ev.Index)
			}
		case api.EventContentBlockStop:
			if !open[ev.Index] {
				t.Fatalf("stop for block %d that is not open", ev.Index)
			}
			delete(open, ev.Index)
		case api.EventMessageDelta:
			if len(open) != 0 {
				t.Fatalf("message_delta with open blocks %v", open)
			}
			if i+1 >= len(events) || events[i+1].Type != api.EventMessageStop {
				t.Fatal("message_delta not followed by message_stop")
			}
		case api.EventMessageStop, api.EventError:
			stopped = true
		}
	}
}

func TestRelay_TextStream(t *testing.T) {
	r, rec, err := runRelay(t,
		textChunk("chatcmpl-1", "Hel"),
		textChunk("chatcmpl-1", "lo"),
		finishChunk("stop"),
	)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	events := rec.snapshot()
	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	if got := types(events); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	checkNesting(t, events)

	start := events[0].Message
	if start.ID != "chatcmpl-1" || start.Model != "gpt-4o" {
		t.Errorf("message_start = %+v", start)
	}
	if _, ok := events[1].ContentBlock.(api.TextBlock); !ok {
		t.Errorf("content_block_start block = %T, want TextBlock", events[1].ContentBlock)
	}
	if events[2].Delta+events[3].Delta != "Hello" {
		t.Errorf("text = %q", events[2].Delta+events[3].Delta)
	}
	if events[5].StopReason != api.StopReasonEndTurn {
		t.Errorf("stop_reason = %s", events[5].StopReason)
	}
	if r.StopReason() != api.StopReasonEndTurn {
		t.Errorf("StopReason() = %s", r.StopReason())
	}
}

func TestRelay_MessageIDGeneratedWhenMissing(t *testing.T) {
	_, rec, err := runRelay(t, textChunk("", "x"), finishChunk("stop"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	id := rec.snapshot()[0].Message.ID
	if !strings.HasPrefix(id, "msg_") {
		t.Errorf("message id = %q, want msg_ prefix", id)
	}
}

func TestRelay_ToolCallsAndText(t *testing.T) {
	_, rec, err := runRelay(t,
		textChunk("c1", "Let me check."),
		toolChunk(0, "call_a", "get_weather", `{"city":`),
		toolChunk(0, "", "", `"Paris"}`),
		toolChunk(1, "call_b", "get_time", `{}`),
		finishChunk("tool_calls"),
	)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	events := rec.snapshot()
	checkNesting(t, events)

	var starts []api.ContentBlock
	args := map[int]string{}
	var stops []int
	for _, ev := range events {
		switch ev.Type {
		case api.EventContentBlockStart:
			starts = append(starts, ev.ContentBlock)
		case api.EventContentBlockDelta:
			if ev.DeltaType == api.DeltaTypeInputJSON {
				args[ev.Index] += ev.Delta
			}
		case api.EventContentBlockStop:
			stops = append(stops, ev.Index)
		}
	}
	if len(starts) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(starts))
	}
	tu, ok := starts[1].(api.ToolUseBlock)
	if !ok || tu.ID != "call_a" || tu.Name != "get_weather" {
		t.Errorf("block 1 = %+v", starts[1])
	}
	if args[1] != `{"city":"Paris"}` {
		t.Errorf("block 1 args = %q", args[1])
	}
	if args[2] != `{}` {
		t.Errorf("block 2 args = %q", args[2])
	}
	if fmt.Sprint(stops) != "[0 1 2]" {
		t.Errorf("stops = %v, want ascending order", stops)
	}

	delta := events[len(events)-2]
	if delta.StopReason != api.StopReasonToolUse {
		t.Errorf("stop_reason = %s, want tool_use", delta.StopReason)
	}
}

func TestRelay_ToolNameArrivesLate(t *testing.T) {
	_, rec, err := runRelay(t,
		toolChunk(0, "call_1", "", `{"a":`),
		toolChunk(0, "", "lookup", `1`),
		toolChunk(0, "", "", `}`),
		finishChunk("tool_calls"),
	)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	events := rec.snapshot()
	checkNesting(t, events)

	var deltas []string
	for _, ev := range events {
		if ev.Type == api.EventContentBlockDelta {
			deltas = append(deltas, ev.Delta)
		}
	}
	// Buffered arguments are flushed as the first delta once the block opens.
	if len(deltas) != 2 || deltas[0] != `{"a":1` || deltas[1] != `}` {
		t.Errorf("deltas = %q", deltas)
	}
}

func TestRelay_ToolIDGenerated(t *testing.T) {
	_, rec, err := runRelay(t,
		toolChunk(0, "", "search", `{"q":"go"}`),
		finishChunk("tool_calls"),
	)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, ev := range rec.snapshot() {
		if ev.Type != api.EventContentBlockStart {
			continue
		}
		tu := ev.ContentBlock.(api.ToolUseBlock)
		if !api.IsToolUseID(tu.ID) {
			t.Errorf("generated id = %q, want toolu_ prefix", tu.ID)
		}
	}
}

func TestRelay_NamelessToolCallDropped(t *testing.T) {
	_, rec, err := runRelay(t,
		toolChunk(0, "call_x", "", `{}`),
		textChunk("c", "ok"),
		finishChunk("stop"),
	)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	events := rec.snapshot()
	checkNesting(t, events)
	for _, ev := range events {
		if ev.Type == api.EventContentBlockStart {
			if _, ok := ev.ContentBlock.(api.ToolUseBlock); ok {
				t.Error("tool call without a name must not be emitted")
			}
		}
	}
}

func TestRelay_ThinkingBeforeText(t *testing.T) {
	reasoning := openaicompat.StreamEvent{Chunk: &openaicompat.ChatCompletionChunk{
		Choices: []openaicompat.ChatChunkChoice{{
			Delta: openaicompat.ChatChunkDelta{ReasoningContent: strPtr("hmm")},
		}},
	}}
	_, rec, err := runRelay(t, reasoning, textChunk("c", "answer"), finishChunk("stop"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	events := rec.snapshot()
	checkNesting(t, events)
	if _, ok := events[1].ContentBlock.(api.ThinkingBlock); !ok {
		t.Fatalf("first block = %T, want ThinkingBlock", events[1].ContentBlock)
	}
	if events[2].DeltaType != api.DeltaTypeThinking {
		t.Errorf("delta type = %s", events[2].DeltaType)
	}
}

func TestRelay_TrailingUsage(t *testing.T) {
	r, rec, err := runRelay(t,
		textChunk("c", "hi"),
		finishChunk("length"),
		usageChunk(12, 34),
	)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	events := rec.snapshot()
	checkNesting(t, events)
	delta := events[len(events)-2]
	if delta.Type != api.EventMessageDelta {
		t.Fatalf("penultimate event = %s", delta.Type)
	}
	if delta.StopReason != api.StopReasonMaxTokens {
		t.Errorf("stop_reason = %s, want max_tokens", delta.StopReason)
	}
	if delta.Usage == nil || delta.Usage.InputTokens != 12 || delta.Usage.OutputTokens != 34 {
		t.Errorf("usage = %+v", delta.Usage)
	}
	if r.Usage().OutputTokens != 34 {
		t.Errorf("Usage() = %+v", r.Usage())
	}
}

func TestRelay_EmptyStream(t *testing.T) {
	_, rec, err := runRelay(t)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	want := "message_start,message_delta,message_stop"
	if got := strings.Join(types(rec.snapshot()), ","); got != want {
		t.Errorf("event types = %s, want %s", got, want)
	}
}

func TestRelay_NoFinishReasonEndsTurn(t *testing.T) {
	_, rec, err := runRelay(t, textChunk("c", "partial"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	events := rec.snapshot()
	checkNesting(t, events)
	if events[len(events)-2].StopReason != api.StopReasonEndTurn {
		t.Errorf("stop_reason = %s", events[len(events)-2].StopReason)
	}
}

func TestRelay_UpstreamError(t *testing.T) {
	upstream := classify.FromStatus(429, "Rate limit exceeded")
	_, rec, err := runRelay(t,
		textChunk("c", "partial"),
		openaicompat.StreamEvent{Err: upstream},
		textChunk("c", "never"),
	)
	var ce *classify.Error
	if !errors.As(err, &ce) || ce.Category != classify.RateLimit {
		t.Fatalf("Run() error = %v, want rate_limit classify.Error", err)
	}

	events := rec.snapshot()
	checkNesting(t, events)
	last := events[len(events)-1]
	if last.Type != api.EventError {
		t.Fatalf("last event = %s, want error", last.Type)
	}
	if last.Error.Type != api.ErrorTypeRateLimit {
		t.Errorf("error type = %s", last.Error.Type)
	}
	for _, ev := range events {
		if ev.Type == api.EventMessageStop {
			t.Error("message_stop must not follow an error")
		}
	}

	data, _ := json.Marshal(last)
	if !strings.Contains(string(data), `"rate_limit_error"`) {
		t.Errorf("error payload = %s", data)
	}
}

func TestRelay_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	rec.onSend = func(ev api.StreamEvent) {
		if ev.Type == api.EventContentBlockDelta {
			cancel()
		}
	}
	events := make(chan openaicompat.StreamEvent, 4)
	events <- textChunk("c", "one")
	events <- textChunk("c", "two")

	r := New(rec, Options{Model: "m"})
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, events) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("Run() error = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	for _, ev := range rec.snapshot() {
		if ev.Type == api.EventMessageStop || ev.Type == api.EventError {
			t.Errorf("unexpected %s after cancellation", ev.Type)
		}
		if ev.Delta == "two" {
			t.Error("delta written after cancellation")
		}
	}
}

func TestRelay_WriterFailure(t *testing.T) {
	rec := &recorder{failAt: 3}
	r := New(rec, Options{Model: "m"})
	err := r.Run(context.Background(), feed(textChunk("c", "a"), textChunk("c", "b"), finishChunk("stop")))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run() error = %v, want ErrCancelled", err)
	}
	if n := len(rec.snapshot()); n != 2 {
		t.Errorf("recorded %d events, want 2", n)
	}
}

func TestRelay_Ping(t *testing.T) {
	rec := &recorder{}
	r := New(rec, Options{Model: "m", PingInterval: 20 * time.Millisecond})

	events := make(chan openaicompat.StreamEvent)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), events) }()

	events <- textChunk("c", "a")
	time.Sleep(70 * time.Millisecond)
	events <- finishChunk("stop")
	close(events)

	if err := <-done; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	got := rec.snapshot()
	checkNesting(t, got)

	pings := 0
	for _, ev := range got {
		if ev.Type == api.EventPing {
			pings++
		}
	}
	if pings == 0 {
		t.Error("expected at least one ping during the idle gap")
	}
}

func TestRelay_PingBeforeFirstChunkStartsMessage(t *testing.T) {
	rec := &recorder{}
	r := New(rec, Options{Model: "m", PingInterval: 20 * time.Millisecond})

	events := make(chan openaicompat.StreamEvent)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), events) }()

	time.Sleep(70 * time.Millisecond)
	events <- textChunk("chatcmpl-late", "hi")
	events <- finishChunk("stop")
	close(events)

	if err := <-done; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	got := rec.snapshot()
	checkNesting(t, got)

	if len(got) < 2 || got[0].Type != api.EventMessageStart || got[1].Type != api.EventPing {
		t.Fatalf("events = %v, want message_start then ping", types(got))
	}
	starts := 0
	for _, ev := range got {
		if ev.Type == api.EventMessageStart {
			starts++
		}
	}
	if starts != 1 {
		t.Errorf("message_start sent %d times, want 1", starts)
	}
}

func TestRelay_WellNested(t *testing.T) {
	sequences := map[string][]openaicompat.StreamEvent{
		"text only":          {textChunk("a", "x"), finishChunk("stop")},
		"tool only":          {toolChunk(0, "c", "f", "{}"), finishChunk("tool_calls")},
		"text after tool":    {toolChunk(0, "c", "f", "{"), textChunk("a", "t"), toolChunk(0, "", "", "}"), finishChunk("tool_calls")},
		"parallel tools":     {toolChunk(1, "c2", "g", "{}"), toolChunk(0, "c1", "f", "{}"), finishChunk("tool_calls")},
		"chunks after stop":  {textChunk("a", "x"), finishChunk("stop"), textChunk("a", "ignored"), usageChunk(1, 1)},
		"unknown reason":     {textChunk("a", "x"), finishChunk("weird")},
		"usage only":         {usageChunk(5, 0)},
		"nameless then text": {toolChunk(0, "c", "", "{}"), textChunk("a", "x")},
		"invalid tool json":  {toolChunk(0, "c", "f", "{oops"), finishChunk("tool_calls")},
		"filter":             {textChunk("a", "x"), finishChunk("content_filter")},
	}
	for name, seq := range sequences {
		t.Run(name, func(t *testing.T) {
			_, rec, err := runRelay(t, seq...)
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			events := rec.snapshot()
			checkNesting(t, events)
			if events[len(events)-1].Type != api.EventMessageStop {
				t.Errorf("last event = %s", events[len(events)-1].Type)
			}
		})
	}
}

func TestRelay_ChunksAfterFinishIgnored(t *testing.T) {
	_, rec, err := runRelay(t, textChunk("a", "x"), finishChunk("stop"), textChunk("a", "late"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, ev := range rec.snapshot() {
		if ev.Delta == "late" {
			t.Error("content after finish_reason must be dropped")
		}
	}
}
