package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"runtime/debug"

	"github.com/rhuss/claudebridge/pkg/api"
	"github.com/rhuss/claudebridge/pkg/transport"
)

// Handlers groups the operations served by the adapter. Counter and Tester
// are optional; their endpoints answer 404 when nil.
type Handlers struct {
	Creator transport.MessageCreator
	Counter transport.TokenCounter
	Tester  transport.ConnectionTester
}

// Adapter serves the Claude Messages API over HTTP.
// It routes requests to the appropriate handler and serializes responses.
type Adapter struct {
	creator transport.MessageCreator
	counter transport.TokenCounter
	tester  transport.ConnectionTester
	mux     *http.ServeMux
	config  Config
	logger  *slog.Logger
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// Service feeds the /health and / endpoints.
	Service ServiceInfo

	Logger *slog.Logger
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 << 20, // 10 MB
	}
}

// NewAdapter creates an HTTP adapter for the given handlers. Middleware is
// applied to the MessageCreator in the given order.
func NewAdapter(h Handlers, cfg Config, middlewares ...transport.Middleware) *Adapter {
	creator := h.Creator
	if len(middlewares) > 0 {
		creator = transport.Chain(middlewares...)(creator)
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		creator: creator,
		counter: h.Counter,
		tester:  h.Tester,
		mux:     http.NewServeMux(),
		config:  cfg,
		logger:  logger,
	}

	a.mux.HandleFunc("POST /v1/messages", a.handleCreateMessage)
	a.mux.HandleFunc("POST /v1/messages/count_tokens", a.handleCountTokens)
	a.mux.HandleFunc("GET /health", a.handleHealth)
	a.mux.HandleFunc("GET /test-connection", a.handleTestConnection)
	a.mux.HandleFunc("GET /{$}", a.handleRoot)

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler recovers
// panics and propagates X-Request-ID.
func (a *Adapter) Handler() http.Handler {
	return a.recoverMiddleware(httpRequestIDMiddleware(a.mux))
}

// httpRequestIDMiddleware propagates the X-Request-ID header into the
// request context, generating a UUID when the client sent none, and echoes
// it on the response.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = transport.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(transport.ContextWithRequestID(r.Context(), id)))
	})
}

func (a *Adapter) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("panic in HTTP handler",
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				transport.WriteAPIError(w, api.NewServerError("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// decodeRequest reads a MessagesRequest from the body, writing the error
// response itself on failure.
func (a *Adapter) decodeRequest(w http.ResponseWriter, r *http.Request) (*api.MessagesRequest, bool) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return nil, false
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteAPIError(w,
				api.NewRequestTooLargeError(fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
			)
			return nil, false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("invalid JSON: "+err.Error()))
		return nil, false
	}
	return &req, true
}

// handleCreateMessage handles POST /v1/messages.
func (a *Adapter) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRequest(w, r)
	if !ok {
		return
	}

	rw := newSSEResponseWriter(w)
	if err := a.creator.CreateMessage(r.Context(), req, rw); err != nil {
		a.writeHandlerError(w, r, rw, err)
	}
}

// handleCountTokens handles POST /v1/messages/count_tokens.
func (a *Adapter) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	if a.counter == nil {
		transport.WriteAPIError(w, api.NewNotFoundError("token counting is not available"))
		return
	}
	req, ok := a.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := a.counter.CountTokens(r.Context(), req)
	if err != nil {
		transport.WriteAPIError(w, transport.APIErrorFrom(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeHandlerError reports a handler failure. A client that went away
// gets nothing. If streaming has already started, the failure is sent as
// an error event unless the stream already ended. Otherwise a standard
// JSON error response is written.
func (a *Adapter) writeHandlerError(w http.ResponseWriter, r *http.Request, rw *sseResponseWriter, err error) {
	if transport.IsCancellation(err) || r.Context().Err() != nil {
		a.logger.Info("client closed request",
			"request_id", transport.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", transport.StatusClientClosed,
		)
		return
	}

	apiErr := transport.APIErrorFrom(err)

	if rw.hasStartedStreaming() {
		if !rw.isCompleted() {
			rw.WriteEvent(context.WithoutCancel(r.Context()), api.NewErrorEvent(apiErr))
		}
		return
	}

	transport.WriteAPIError(w, apiErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
