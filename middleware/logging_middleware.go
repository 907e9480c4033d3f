package middleware

import (
	"context"
	"log/slog"
	"time"

	"muxrpc/message"
)

// Logging logs every dispatched request with its wire identifier, outcome,
// and duration.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)
			if resp.Type == message.TypeError {
				logger.Warn("request failed",
					"methodId", req.Method,
					"messageId", req.ID,
					"errorCode", string(resp.ErrorCode),
					"error", resp.ErrorMessage,
					"duration", duration)
			} else {
				logger.Info("request handled",
					"methodId", req.Method,
					"messageId", req.ID,
					"duration", duration)
			}
			return resp
		}
	}
}
