package middleware

import (
	"context"
	"log/slog"

	"muxrpc/message"
	"muxrpc/rpcerror"
)

// Recovery converts a handler panic into an InternalError response so one
// bad handler cannot take the server process down.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (resp *message.Message) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						"methodId", req.Method,
						"messageId", req.ID,
						"panic", r)
					resp = message.NewError(req.ID, rpcerror.CodeInternalError, "internal server error", nil)
				}
			}()
			return next(ctx, req)
		}
	}
}
