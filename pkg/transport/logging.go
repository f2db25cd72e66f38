package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rhuss/claudebridge/pkg/api"
)

// Logging returns middleware that emits one structured log entry per
// create-message call with the request ID, model, stream flag and
// duration. Calls that end because the client went away are logged at
// info level as cancelled, not as failures.
//
// The HTTP method, path and status code are not visible at this level;
// the HTTP adapter logs those separately.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next MessageCreator) MessageCreator {
		return MessageCreatorFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
			start := time.Now()

			err := next.CreateMessage(ctx, req, w)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("model", req.Model),
				slog.Bool("stream", req.Stream),
				slog.Duration("duration", time.Since(start)),
			}

			switch {
			case err == nil:
				logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
			case IsCancellation(err):
				logger.LogAttrs(ctx, slog.LevelInfo, "request cancelled by client", attrs...)
			default:
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "request failed", attrs...)
			}

			return err
		})
	}
}

// IsCancellation reports whether err means the client went away.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrClientGone)
}
