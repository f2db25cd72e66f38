package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rhuss/claudebridge/pkg/debug"
)

// StreamEvent is one item delivered by Client.Stream: either a parsed
// chunk or a terminal error. The channel is closed after the last event.
type StreamEvent struct {
	Chunk *ChatCompletionChunk
	Err   error
}

// streamError is returned by ParseSSEStream when the backend reports an
// error inside the stream.
type streamError struct {
	body ChatErrorBody
}

func (e *streamError) Error() string {
	if e.body.Message != "" {
		return e.body.Message
	}
	return "upstream reported an error in the stream"
}

// maxLineSize bounds a single SSE line. Tool-call argument chunks can be
// large.
const maxLineSize = 1 << 20

// ParseSSEStream reads Chat Completions SSE chunks from the given reader
// and sends each parsed chunk on ch. The channel is NOT closed by this
// function; the caller is responsible for closing it.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//	\n
//
// It returns nil at [DONE] or a clean end of input. Malformed chunks are
// logged and skipped. An error object sent in place of a chunk ends the
// stream with that error.
func ParseSSEStream(ctx context.Context, body io.Reader, ch chan<- StreamEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()

		// Blank lines, comments (":") and "event:" fields carry nothing we use.
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}

		if payload == "[DONE]" {
			debug.Log("streaming", "upstream stream done")
			return nil
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed SSE chunk",
				"error", err.Error(),
				"data", debug.Truncate(payload, 200),
			)
			continue
		}

		if chunk.Error != nil {
			return &streamError{body: *chunk.Error}
		}

		debug.Trace("streaming", "upstream chunk", "data", payload)

		select {
		case ch <- StreamEvent{Chunk: &chunk}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// idleTimer cancels a call when no data has been read for the configured
// interval. A zero interval disables it.
type idleTimer struct {
	d       time.Duration
	t       *time.Timer
	expired atomic.Bool
}

func newIdleTimer(d time.Duration, cancel context.CancelFunc) *idleTimer {
	it := &idleTimer{d: d}
	if d > 0 {
		it.t = time.AfterFunc(d, func() {
			it.expired.Store(true)
			cancel()
		})
	}
	return it
}

func (it *idleTimer) reset() {
	if it.t != nil && !it.expired.Load() {
		it.t.Reset(it.d)
	}
}

func (it *idleTimer) stop() {
	if it.t != nil {
		it.t.Stop()
	}
}

func (it *idleTimer) fired() bool {
	return it.expired.Load()
}

// idleReader resets an idleTimer on every successful read.
type idleReader struct {
	r     io.Reader
	timer *idleTimer
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.reset()
	}
	return n, err
}
