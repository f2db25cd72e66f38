package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rhuss/claudebridge/pkg/classify"
	"github.com/rhuss/claudebridge/pkg/debug"
	"github.com/rhuss/claudebridge/pkg/observability"
	"github.com/rhuss/claudebridge/pkg/telemetry"
)

// DefaultTimeout bounds a unary attempt and the idle gap between stream
// reads when Config.Timeout is zero.
const DefaultTimeout = 90 * time.Second

// streamBuffer is the capacity of the channel returned by Stream.
const streamBuffer = 16

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1. Requests go
	// to BaseURL + "/chat/completions".
	BaseURL string

	// APIKey is the default upstream key. ContextWithAPIKey overrides it
	// per call.
	APIKey string

	// APIVersion pins an Azure OpenAI api-version. When set, the key is
	// also sent as an api-key header.
	APIVersion string

	// Timeout bounds each unary attempt and each idle gap while streaming.
	Timeout time.Duration

	// MaxRetries is the number of additional attempts made for retryable
	// failures.
	MaxRetries int

	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client
}

// Client performs HTTP requests against an OpenAI-compatible Chat
// Completions backend. Every call is keyed by a request ID so that it can
// be cancelled from outside with Cancel.
type Client struct {
	httpClient *http.Client
	endpoint   string
	cfg        Config
	inflight   *InFlightRegistry
}

// NewClient creates a new Client for an OpenAI-compatible backend.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	// Timeouts are enforced per attempt through contexts, so the HTTP
	// client itself has none. A stream can legitimately outlive any fixed
	// limit.
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	if cfg.APIVersion != "" {
		endpoint += "?api-version=" + url.QueryEscape(cfg.APIVersion)
	}

	return &Client{
		httpClient: hc,
		endpoint:   endpoint,
		cfg:        cfg,
		inflight:   NewInFlightRegistry(),
	}
}

type apiKeyKey struct{}

// ContextWithAPIKey returns a context whose calls use key instead of the
// configured upstream key.
func ContextWithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyKey{}, key)
}

func (c *Client) apiKey(ctx context.Context) string {
	if key, ok := ctx.Value(apiKeyKey{}).(string); ok && key != "" {
		return key
	}
	return c.cfg.APIKey
}

// Complete performs a non-streaming call. Each attempt is bounded by the
// configured timeout; rate-limit and availability failures are retried
// immediately up to MaxRetries times. A call cancelled through Cancel or
// ctx returns context.Canceled.
func (c *Client) Complete(ctx context.Context, requestID string, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "upstream.complete")
	defer span.End()

	reqCopy := *req
	reqCopy.Stream = false
	reqCopy.StreamOptions = nil

	body, err := json.Marshal(reqCopy)
	if err != nil {
		return nil, &classify.Error{Category: classify.Internal, Message: fmt.Sprintf("failed to marshal request: %s", err), Err: err}
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.inflight.Register(requestID, cancel)
	defer c.inflight.Remove(requestID)

	start := time.Now()
	for attempt := 0; ; attempt++ {
		resp, err := c.completeOnce(callCtx, body)
		if err == nil {
			observability.UpstreamLatency.WithLabelValues(req.Model, "unary").Observe(time.Since(start).Seconds())
			observability.UpstreamRequestsTotal.WithLabelValues(req.Model, "unary", "ok").Inc()
			if resp.Usage != nil {
				observability.RecordUsage(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
				telemetry.AddTokenAttributes(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			}
			return resp, nil
		}

		if callCtx.Err() != nil && !errors.Is(err, errAttemptTimeout) {
			observability.UpstreamRequestsTotal.WithLabelValues(req.Model, "unary", "cancelled").Inc()
			return nil, context.Canceled
		}

		ce := c.classifyAttempt(err)
		if !classify.Retryable(ce.Category) || attempt >= c.cfg.MaxRetries {
			observability.UpstreamRequestsTotal.WithLabelValues(req.Model, "unary", string(ce.Category)).Inc()
			telemetry.AddErrorAttribute(span, ce)
			return nil, ce
		}

		observability.UpstreamRetriesTotal.WithLabelValues(string(ce.Category)).Inc()
		debug.Log("upstream", "retrying",
			"request_id", requestID,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"category", ce.Category,
			"error", ce.Message,
		)
	}
}

// errAttemptTimeout marks a unary attempt that ran out of time.
var errAttemptTimeout = errors.New("attempt timed out")

func (c *Client) completeOnce(ctx context.Context, body []byte) (*ChatCompletionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.completeAttempt(attemptCtx, body)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: %w", errAttemptTimeout, err)
	}
	return resp, err
}

func (c *Client) completeAttempt(ctx context.Context, body []byte) (*ChatCompletionResponse, error) {
	httpResp, err := c.send(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &classify.Error{
			Category: classify.Internal,
			Message:  fmt.Sprintf("failed to parse upstream response: %s", err),
			Err:      err,
		}
	}
	return &chatResp, nil
}

// classifyAttempt turns an attempt failure into a classified error.
func (c *Client) classifyAttempt(err error) *classify.Error {
	if errors.Is(err, errAttemptTimeout) {
		return &classify.Error{
			Category: classify.UpstreamTimeout,
			Message:  fmt.Sprintf("upstream did not respond within %s", c.cfg.Timeout),
			Err:      err,
		}
	}
	return classify.New(err)
}

// Stream performs a streaming call and returns a channel of chunks. The
// channel is closed when the stream completes, fails, or is cancelled. A
// failure after the stream opened is delivered as a final StreamEvent with
// Err set; cancellation through Cancel or ctx closes the channel without
// an error event.
//
// Opening the stream is retried like Complete. Once the response headers
// arrive nothing is retried. The configured timeout applies to every idle
// gap between reads, not to the stream as a whole.
func (c *Client) Stream(ctx context.Context, requestID string, req *ChatCompletionRequest) (<-chan StreamEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "upstream.stream")

	reqCopy := *req
	reqCopy.Stream = true
	if reqCopy.StreamOptions == nil {
		reqCopy.StreamOptions = &ChatStreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(reqCopy)
	if err != nil {
		span.End()
		return nil, &classify.Error{Category: classify.Internal, Message: fmt.Sprintf("failed to marshal request: %s", err), Err: err}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c.inflight.Register(requestID, cancel)
	idle := newIdleTimer(c.cfg.Timeout, cancel)

	fail := func(err error, outcome string) (<-chan StreamEvent, error) {
		idle.stop()
		cancel()
		c.inflight.Remove(requestID)
		observability.UpstreamRequestsTotal.WithLabelValues(req.Model, "stream", outcome).Inc()
		if !errors.Is(err, context.Canceled) {
			telemetry.AddErrorAttribute(span, err)
		}
		span.End()
		return nil, err
	}

	start := time.Now()
	var httpResp *http.Response
	for attempt := 0; ; attempt++ {
		idle.reset()
		httpResp, err = c.send(streamCtx, body, true)
		if err == nil {
			break
		}

		ce := c.streamFailure(streamCtx, idle, err)
		if ce == nil {
			return fail(context.Canceled, "cancelled")
		}
		if !classify.Retryable(ce.Category) || attempt >= c.cfg.MaxRetries {
			return fail(ce, string(ce.Category))
		}

		observability.UpstreamRetriesTotal.WithLabelValues(string(ce.Category)).Inc()
		debug.Log("upstream", "retrying stream open",
			"request_id", requestID,
			"attempt", attempt+1,
			"category", ce.Category,
			"error", ce.Message,
		)
	}

	observability.UpstreamLatency.WithLabelValues(req.Model, "stream").Observe(time.Since(start).Seconds())
	idle.reset()

	ch := make(chan StreamEvent, streamBuffer)

	go func() {
		defer span.End()
		defer close(ch)
		defer c.inflight.Remove(requestID)
		defer cancel()
		defer idle.stop()
		defer httpResp.Body.Close()

		err := ParseSSEStream(streamCtx, &idleReader{r: httpResp.Body, timer: idle}, ch)
		if err == nil {
			observability.UpstreamRequestsTotal.WithLabelValues(req.Model, "stream", "ok").Inc()
			return
		}

		ce := c.streamFailure(streamCtx, idle, err)
		if ce == nil {
			debug.Log("upstream", "stream cancelled", "request_id", requestID)
			observability.UpstreamRequestsTotal.WithLabelValues(req.Model, "stream", "cancelled").Inc()
			return
		}

		observability.UpstreamRequestsTotal.WithLabelValues(req.Model, "stream", string(ce.Category)).Inc()
		telemetry.AddErrorAttribute(span, ce)

		// streamCtx may already be cancelled by the idle timer; deliver the
		// error unless the caller itself went away.
		select {
		case ch <- StreamEvent{Err: ce}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// streamFailure classifies a stream error. It returns nil when the stream
// was cancelled by the caller rather than failing.
func (c *Client) streamFailure(streamCtx context.Context, idle *idleTimer, err error) *classify.Error {
	if idle.fired() {
		return &classify.Error{
			Category: classify.UpstreamTimeout,
			Message:  fmt.Sprintf("upstream sent no data for %s", c.cfg.Timeout),
			Err:      err,
		}
	}
	if streamCtx.Err() != nil {
		return nil
	}
	return classify.New(err)
}

// send posts body to the chat completions endpoint. A non-2xx response is
// returned as a classified error with its body consumed.
func (c *Client) send(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &classify.Error{Category: classify.Internal, Message: fmt.Sprintf("failed to create HTTP request: %s", err), Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	key := c.apiKey(ctx)
	if key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}
	if c.cfg.APIVersion != "" {
		httpReq.Header.Set("api-version", c.cfg.APIVersion)
		if key != "" {
			httpReq.Header.Set("api-key", key)
		}
	}

	debug.Log("upstream", "request", "method", http.MethodPost, "url", c.endpoint, "stream", stream, "bytes", len(body))
	if debug.TraceIsEnabled("upstream") {
		debug.Trace("upstream", "request body", "body", string(body))
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}

	debug.Log("upstream", "response", "status", httpResp.StatusCode, "stream", stream)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, MapHTTPError(httpResp)
	}
	return httpResp, nil
}

// Cancel aborts the in-flight call registered under requestID. It returns
// false if no such call exists. Calling it more than once is safe.
func (c *Client) Cancel(requestID string) bool {
	ok := c.inflight.Cancel(requestID)
	if ok {
		debug.Log("upstream", "call cancelled", "request_id", requestID)
	}
	return ok
}

// InFlight returns the number of calls currently registered.
func (c *Client) InFlight() int {
	return c.inflight.Len()
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
