package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"muxrpc/message"
	"muxrpc/rpcerror"
)

// RateLimit rejects requests beyond a token-bucket budget shared by all
// methods on the dispatcher.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			if !limiter.Allow() {
				return message.NewError(req.ID, rpcerror.CodeInternalError, "rate limit exceeded", nil)
			}
			return next(ctx, req)
		}
	}
}
