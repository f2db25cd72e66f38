// Package relay reframes an upstream Chat Completions chunk stream into the
// Claude Messages streaming event sequence.
//
// A Relay consumes openaicompat.StreamEvent values and writes api.StreamEvent
// values to an EventWriter. The output is always well nested: message_start
// comes first, every content block is started before its deltas and
// stopped exactly once, and a successful stream ends with message_delta
// followed by message_stop. An upstream failure ends the output with a
// single error event instead. Cancellation stops output immediately.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rhuss/claudebridge/pkg/api"
	"github.com/rhuss/claudebridge/pkg/classify"
	"github.com/rhuss/claudebridge/pkg/debug"
	"github.com/rhuss/claudebridge/pkg/observability"
	"github.com/rhuss/claudebridge/pkg/provider/openaicompat"
	"github.com/rhuss/claudebridge/pkg/translate"
)

// DefaultPingInterval is the idle gap after which a ping is sent.
const DefaultPingInterval = 15 * time.Second

// ErrCancelled is returned by Run when the context is done or the writer
// fails. Nothing further has been written when it is returned.
var ErrCancelled = errors.New("stream cancelled")

// EventWriter receives reframed events. transport.ResponseWriter satisfies it.
type EventWriter interface {
	WriteEvent(ctx context.Context, event api.StreamEvent) error
}

// Options configures a Relay.
type Options struct {
	// Model is reported in message_start.
	Model string

	// PingInterval is the idle gap before a ping. Zero disables pings.
	PingInterval time.Duration

	// Logger receives warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

type state int

const (
	stateIdle state = iota
	stateStarted
	stateFinishing
	stateDone
	stateCancelled
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStarted:
		return "started"
	case stateFinishing:
		return "finishing"
	case stateDone:
		return "done"
	case stateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// toolBlock accumulates one upstream tool call, keyed by its upstream index.
type toolBlock struct {
	id    string
	name  string
	args  strings.Builder
	index int
	open  bool
	done  bool
}

// Relay is a single-use streaming state machine. It is not safe for
// concurrent use.
type Relay struct {
	w      EventWriter
	opts   Options
	logger *slog.Logger

	state     state
	nextIndex int

	// Content indices of the text and thinking blocks, or -1.
	textIndex     int
	thinkingIndex int
	textOpen      bool
	thinkingOpen  bool

	tools map[int]*toolBlock

	stopReason api.StopReason
	usage      api.Usage
}

// New creates a Relay writing to w.
func New(w EventWriter, opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		w:             w,
		opts:          opts,
		logger:        logger,
		textIndex:     -1,
		thinkingIndex: -1,
		tools:         make(map[int]*toolBlock),
	}
}

// Run consumes events until the channel closes, an error arrives, or ctx
// is done. It returns nil after message_stop, the classified upstream error
// after an error event, or an error wrapping ErrCancelled.
func (r *Relay) Run(ctx context.Context, events <-chan openaicompat.StreamEvent) error {
	var pingC <-chan time.Time
	var ping *time.Timer
	if r.opts.PingInterval > 0 {
		ping = time.NewTimer(r.opts.PingInterval)
		defer ping.Stop()
		pingC = ping.C
	}
	resetPing := func() {
		if ping != nil {
			ping.Reset(r.opts.PingInterval)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return r.cancel(ctx.Err())

		case <-pingC:
			// A slow first chunk must not put a ping ahead of message_start.
			if r.state == stateIdle {
				if err := r.start(ctx, ""); err != nil {
					return err
				}
			}
			if err := r.emit(ctx, api.NewPingEvent()); err != nil {
				return err
			}
			resetPing()

		case ev, ok := <-events:
			if !ok {
				return r.finish(ctx)
			}
			if ev.Err != nil {
				return r.fail(ctx, ev.Err)
			}
			if ev.Chunk == nil {
				continue
			}
			if err := r.handleChunk(ctx, ev.Chunk); err != nil {
				return err
			}
			resetPing()
		}
	}
}

// StopReason returns the stop reason reported in message_delta.
func (r *Relay) StopReason() api.StopReason {
	return r.stopReason
}

// Usage returns the latest usage reported by the upstream.
func (r *Relay) Usage() api.Usage {
	return r.usage
}

func (r *Relay) emit(ctx context.Context, ev api.StreamEvent) error {
	if ctx.Err() != nil {
		return r.cancel(ctx.Err())
	}
	if err := r.w.WriteEvent(ctx, ev); err != nil {
		return r.cancel(err)
	}
	observability.StreamEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

func (r *Relay) cancel(cause error) error {
	debug.Log("streaming", "relay cancelled", "state", r.state.String(), "cause", cause)
	r.state = stateCancelled
	return fmt.Errorf("%w: %v", ErrCancelled, cause)
}

// start emits message_start for the first chunk.
func (r *Relay) start(ctx context.Context, id string) error {
	if id == "" {
		id = api.NewMessageID()
	}
	msg := api.NewMessageResponse(id, r.opts.Model)
	r.state = stateStarted
	debug.Log("streaming", "message started", "id", id, "model", r.opts.Model)
	return r.emit(ctx, api.NewMessageStartEvent(msg))
}

func (r *Relay) handleChunk(ctx context.Context, chunk *openaicompat.ChatCompletionChunk) error {
	if r.state == stateIdle {
		if err := r.start(ctx, chunk.ID); err != nil {
			return err
		}
	}

	if chunk.Usage != nil {
		r.usage = translate.Usage(chunk.Usage)
	}

	// After the finish reason only usage is of interest.
	if r.state == stateFinishing || len(chunk.Choices) == 0 {
		return nil
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	if delta.ReasoningContent != nil && *delta.ReasoningContent != "" {
		if err := r.thinkingDelta(ctx, *delta.ReasoningContent); err != nil {
			return err
		}
	}

	if delta.Content != nil && *delta.Content != "" {
		if err := r.textDelta(ctx, *delta.Content); err != nil {
			return err
		}
	}

	for _, tc := range delta.ToolCalls {
		if err := r.toolFragment(ctx, tc); err != nil {
			return err
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		if err := r.closeAll(ctx); err != nil {
			return err
		}
		r.stopReason = translate.MapFinishReason(*choice.FinishReason)
		r.state = stateFinishing
		debug.Log("streaming", "finish reason received", "finish_reason", *choice.FinishReason, "stop_reason", r.stopReason)
	}
	return nil
}

func (r *Relay) textDelta(ctx context.Context, text string) error {
	if !r.textOpen {
		r.textIndex = r.nextIndex
		r.nextIndex++
		r.textOpen = true
		if err := r.emit(ctx, api.NewContentBlockStartEvent(r.textIndex, api.TextBlock{})); err != nil {
			return err
		}
	}
	return r.emit(ctx, api.NewContentBlockDeltaEvent(r.textIndex, api.DeltaTypeText, text))
}

func (r *Relay) thinkingDelta(ctx context.Context, text string) error {
	if !r.thinkingOpen {
		r.thinkingIndex = r.nextIndex
		r.nextIndex++
		r.thinkingOpen = true
		if err := r.emit(ctx, api.NewContentBlockStartEvent(r.thinkingIndex, api.ThinkingBlock{})); err != nil {
			return err
		}
	}
	return r.emit(ctx, api.NewContentBlockDeltaEvent(r.thinkingIndex, api.DeltaTypeThinking, text))
}

// toolFragment buffers a tool-call fragment. The block is opened once its
// name is known; arguments seen before that are sent as the first delta.
func (r *Relay) toolFragment(ctx context.Context, tc openaicompat.ChatChunkToolCall) error {
	tb, ok := r.tools[tc.Index]
	if !ok {
		tb = &toolBlock{index: -1}
		r.tools[tc.Index] = tb
	}
	if tb.done {
		return nil
	}

	if tb.id == "" && tc.ID != "" {
		tb.id = tc.ID
	}
	if tb.name == "" && tc.Function.Name != "" {
		tb.name = tc.Function.Name
	}
	tb.args.WriteString(tc.Function.Arguments)

	if !tb.open {
		if tb.name == "" {
			return nil
		}
		if tb.id == "" {
			tb.id = api.NewToolUseID()
		}
		tb.index = r.nextIndex
		r.nextIndex++
		tb.open = true

		start := api.ToolUseBlock{ID: tb.id, Name: tb.name}
		if err := r.emit(ctx, api.NewContentBlockStartEvent(tb.index, start)); err != nil {
			return err
		}
		if tb.args.Len() == 0 {
			return nil
		}
		return r.emit(ctx, api.NewContentBlockDeltaEvent(tb.index, api.DeltaTypeInputJSON, tb.args.String()))
	}

	if tc.Function.Arguments == "" {
		return nil
	}
	return r.emit(ctx, api.NewContentBlockDeltaEvent(tb.index, api.DeltaTypeInputJSON, tc.Function.Arguments))
}

// closeAll stops every open block in ascending index order.
func (r *Relay) closeAll(ctx context.Context) error {
	type openBlock struct {
		index int
		tool  *toolBlock
	}
	var open []openBlock

	if r.textOpen {
		open = append(open, openBlock{index: r.textIndex})
		r.textOpen = false
	}
	if r.thinkingOpen {
		open = append(open, openBlock{index: r.thinkingIndex})
		r.thinkingOpen = false
	}
	for upstreamIndex, tb := range r.tools {
		switch {
		case tb.open:
			open = append(open, openBlock{index: tb.index, tool: tb})
			tb.open = false
			tb.done = true
		case !tb.done:
			r.logger.Warn("dropping tool call without a name", "tool_index", upstreamIndex, "id", tb.id)
			tb.done = true
		}
	}

	sort.Slice(open, func(i, j int) bool { return open[i].index < open[j].index })

	for _, b := range open {
		if b.tool != nil {
			args := b.tool.args.String()
			if args != "" && !json.Valid([]byte(args)) {
				r.logger.Warn("tool call arguments are not valid JSON",
					"tool", b.tool.name,
					"id", b.tool.id,
					"length", len(args),
				)
			}
		}
		if err := r.emit(ctx, api.NewContentBlockStopEvent(b.index)); err != nil {
			return err
		}
	}
	return nil
}

// finish handles stream exhaustion.
func (r *Relay) finish(ctx context.Context) error {
	if r.state == stateIdle {
		if err := r.start(ctx, ""); err != nil {
			return err
		}
	}
	if r.state != stateFinishing {
		if err := r.closeAll(ctx); err != nil {
			return err
		}
		r.stopReason = api.StopReasonEndTurn
	}

	if err := r.emit(ctx, api.NewMessageDeltaEvent(r.stopReason, r.usage)); err != nil {
		return err
	}
	if err := r.emit(ctx, api.NewMessageStopEvent()); err != nil {
		return err
	}
	r.state = stateDone

	observability.RecordUsage(r.opts.Model, r.usage.InputTokens, r.usage.OutputTokens)
	debug.Log("streaming", "message stopped",
		"stop_reason", r.stopReason,
		"input_tokens", r.usage.InputTokens,
		"output_tokens", r.usage.OutputTokens,
	)
	return nil
}

// fail reports an upstream error in-band and ends the stream.
func (r *Relay) fail(ctx context.Context, err error) error {
	ce := classify.New(err)
	if werr := r.emit(ctx, api.NewErrorEvent(ce.APIError())); werr != nil {
		return werr
	}
	r.state = stateDone
	r.logger.Warn("upstream stream failed", "category", ce.Category, "error", ce.Message)
	return ce
}
