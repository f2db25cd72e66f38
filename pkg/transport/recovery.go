package transport

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/claudebridge/pkg/api"
)

// Recovery returns middleware that catches panics in the handler and
// converts them to server error responses. The panic value and stack are
// logged; the client only sees a generic api_error. The server continues
// to accept new requests after a panic is recovered.
func Recovery() Middleware {
	return func(next MessageCreator) MessageCreator {
		return MessageCreatorFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) (retErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic in message handler",
						"request_id", RequestIDFromContext(ctx),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					retErr = api.NewServerError("internal server error")
				}
			}()
			return next.CreateMessage(ctx, req, w)
		})
	}
}
