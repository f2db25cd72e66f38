package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/claudebridge/pkg/api"
	"github.com/rhuss/claudebridge/pkg/auth"
	"github.com/rhuss/claudebridge/pkg/debug"
	"github.com/rhuss/claudebridge/pkg/modelrouter"
	"github.com/rhuss/claudebridge/pkg/observability"
	"github.com/rhuss/claudebridge/pkg/provider"
	"github.com/rhuss/claudebridge/pkg/provider/openaicompat"
	"github.com/rhuss/claudebridge/pkg/relay"
	"github.com/rhuss/claudebridge/pkg/telemetry"
	"github.com/rhuss/claudebridge/pkg/translate"
	"github.com/rhuss/claudebridge/pkg/transport"
)

// Engine orchestrates request processing between the transport layer
// and the provider backend.
type Engine struct {
	provider provider.Provider
	router   *modelrouter.Router
	cfg      Config
	logger   *slog.Logger
}

var (
	_ transport.MessageCreator   = (*Engine)(nil)
	_ transport.TokenCounter     = (*Engine)(nil)
	_ transport.ConnectionTester = (*Engine)(nil)
)

// New creates a new Engine. The provider must not be nil. A nil router
// forwards model names unchanged.
func New(p provider.Provider, router *modelrouter.Router, cfg Config) (*Engine, error) {
	if p == nil {
		return nil, fmt.Errorf("engine: provider must not be nil")
	}
	return &Engine{
		provider: p,
		router:   router,
		cfg:      cfg,
		logger:   slog.Default(),
	}, nil
}

// CreateMessage handles POST /v1/messages. Errors returned before anything
// was written are meant to be rendered as a JSON error response. When the
// client disconnects, the returned error wraps transport.ErrClientGone.
func (e *Engine) CreateMessage(ctx context.Context, req *api.MessagesRequest, w transport.ResponseWriter) error {
	requestID := transport.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = transport.NewRequestID()
	}

	ctx, span := telemetry.StartSpan(ctx, "engine.create_message")
	defer span.End()

	chatReq, err := translate.Request(req, translate.Options{
		Router:    e.router,
		MinTokens: e.cfg.MinTokens,
		MaxTokens: e.cfg.MaxTokens,
	})
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		return err
	}
	telemetry.AddRequestAttributes(span, requestID, req.Model, chatReq.Model, req.Stream)

	debug.Log("translate", "request translated",
		"request_id", requestID,
		"model", req.Model,
		"target_model", chatReq.Model,
		"messages", len(chatReq.Messages),
		"tools", len(chatReq.Tools),
	)
	if debug.TraceIsEnabled("translate") {
		if data, err := json.Marshal(chatReq); err == nil {
			debug.Raw("translate", string(data))
		}
	}

	if key := auth.UpstreamKeyFromContext(ctx); key != "" {
		ctx = openaicompat.ContextWithAPIKey(ctx, key)
	}

	if req.Stream {
		return e.stream(ctx, span, requestID, chatReq, w)
	}
	return e.complete(ctx, span, requestID, req, chatReq, w)
}

func (e *Engine) complete(ctx context.Context, span trace.Span, requestID string, req *api.MessagesRequest, chatReq *openaicompat.ChatCompletionRequest, w transport.ResponseWriter) error {
	resp, err := e.provider.Complete(ctx, requestID, chatReq)
	if err != nil {
		if isCancelled(ctx, err) {
			observability.CancellationsTotal.WithLabelValues("unary").Inc()
			return fmt.Errorf("%w: %w", transport.ErrClientGone, err)
		}
		telemetry.AddErrorAttribute(span, err)
		return err
	}

	msg := translate.Response(resp, req)
	telemetry.AddTokenAttributes(span, msg.Usage.InputTokens, msg.Usage.OutputTokens)

	if err := w.WriteMessage(ctx, msg); err != nil {
		if isCancelled(ctx, err) {
			observability.CancellationsTotal.WithLabelValues("unary").Inc()
			return fmt.Errorf("%w: %w", transport.ErrClientGone, err)
		}
		return err
	}
	return nil
}

// stream runs the relay and the disconnect watcher. An error opening the
// upstream stream is returned before any event is written.
func (e *Engine) stream(ctx context.Context, span trace.Span, requestID string, chatReq *openaicompat.ChatCompletionRequest, w transport.ResponseWriter) error {
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()

	events, err := e.provider.Stream(streamCtx, requestID, chatReq)
	if err != nil {
		if isCancelled(ctx, err) {
			observability.CancellationsTotal.WithLabelValues("stream").Inc()
			return fmt.Errorf("%w: %w", transport.ErrClientGone, err)
		}
		telemetry.AddErrorAttribute(span, err)
		return err
	}

	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	r := relay.New(w, relay.Options{
		Model:        chatReq.Model,
		PingInterval: e.cfg.PingInterval,
		Logger:       e.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	relayDone := make(chan struct{})

	g.Go(func() error {
		defer close(relayDone)
		return r.Run(gctx, events)
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
			if e.provider.Cancel(requestID) {
				debug.Log("streaming", "client disconnected, upstream cancelled", "request_id", requestID)
			}
		case <-relayDone:
		}
		return nil
	})

	err = g.Wait()
	usage := r.Usage()
	telemetry.AddTokenAttributes(span, usage.InputTokens, usage.OutputTokens)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, relay.ErrCancelled):
		// The writer failed or the client left; stop the upstream either way.
		e.provider.Cancel(requestID)
		observability.CancellationsTotal.WithLabelValues("stream").Inc()
		return fmt.Errorf("%w: %w", transport.ErrClientGone, err)
	default:
		telemetry.AddErrorAttribute(span, err)
		return err
	}
}

// CountTokens returns the input token estimate for req.
func (e *Engine) CountTokens(_ context.Context, req *api.MessagesRequest) (*api.TokenCountResponse, error) {
	if apiErr := api.ValidateRequest(req); apiErr != nil {
		return nil, apiErr
	}
	return &api.TokenCountResponse{InputTokens: translate.EstimateTokens(req)}, nil
}

// TestConnection sends a minimal request to the small model, or to the big
// model when no small model is configured. The upstream key selected by the
// auth middleware is used when present.
func (e *Engine) TestConnection(ctx context.Context) (*transport.ConnectionReport, error) {
	var tiers modelrouter.Tiers
	if e.router != nil {
		tiers = e.router.Tiers()
	}
	model := tiers.Small
	if model == "" {
		model = tiers.Big
	}
	if model == "" {
		model = modelrouter.DefaultBigModel
	}

	if key := auth.UpstreamKeyFromContext(ctx); key != "" {
		ctx = openaicompat.ContextWithAPIKey(ctx, key)
	}

	maxTokens := 5
	resp, err := e.provider.Complete(ctx, transport.NewRequestID(), &openaicompat.ChatCompletionRequest{
		Model:     model,
		Messages:  []openaicompat.ChatMessage{{Role: "user", Content: "Hello"}},
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &transport.ConnectionReport{Model: model, ResponseID: resp.ID}, nil
}

func isCancelled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled
}
